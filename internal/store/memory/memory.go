package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"posgo/backend/internal/domain"
	"posgo/backend/internal/store"
	"posgo/backend/internal/xid"
)

// Store keeps every entity in process memory. Units of work are serialized
// and roll back by restoring a snapshot taken when they started.
type Store struct {
	data *state
	txMu *sync.Mutex
	inTx bool
}

type state struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	shifts          map[string]domain.CashShift
	movements       []domain.CashMovement
	transactions    map[string]domain.Transaction
	purchases       map[string]domain.Purchase
	suppliers       map[string]domain.Supplier
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		data: &state{
			products:        make(map[string]domain.Product),
			shifts:          make(map[string]domain.CashShift),
			transactions:    make(map[string]domain.Transaction),
			purchases:       make(map[string]domain.Purchase),
			suppliers:       make(map[string]domain.Supplier),
			usersByUsername: make(map[string]domain.UserAccount),
		},
		txMu: &sync.Mutex{},
	}
}

// NewSeeded returns a store with a small demo catalog and dev users for storeID.
func NewSeeded(storeID string) *Store {
	s := New()
	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "prod-agua-625", Name: "Agua Mineral 625ml", Category: "bebidas", PriceCents: 150, CostCents: 90, Stock: 48},
		{ID: "prod-arroz-5kg", Name: "Arroz Extra 5kg", Category: "abarrotes", PriceCents: 2290, CostCents: 1850, Stock: 20},
		{ID: "prod-leche-400", Name: "Leche Evaporada 400g", Category: "lacteos", PriceCents: 420, CostCents: 330, Stock: 60},
		{ID: "prod-polo-basico", Name: "Polo Basico", Category: "ropa", PriceCents: 2500, CostCents: 1200, HasVariants: true, Variants: []domain.ProductVariant{
			{ID: "var-polo-s", Name: "S", PriceCents: 2500, Stock: 6},
			{ID: "var-polo-m", Name: "M", PriceCents: 2500, Stock: 8},
			{ID: "var-polo-l", Name: "L", PriceCents: 2700, Stock: 4},
		}},
	}
	for _, p := range products {
		p.StoreID = storeID
		p.UpdatedAt = now
		if len(p.Variants) > 0 {
			p.Stock = 0
			for _, v := range p.Variants {
				p.Stock += v.Stock
			}
		}
		s.data.products[key(storeID, p.ID)] = p
	}
	s.data.usersByUsername = seedUsers(storeID)
	return s
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// hardcoded dev defaults are used with a warning when they are unset.
func seedUsers(storeID string) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		zap.L().Warn("memory store is using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			zap.L().Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			StoreID:   storeID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// lockWrite serializes a standalone write with running units of work, so a
// rollback never restores over it. Writes made inside a unit of work already
// hold txMu.
func (s *Store) lockWrite() func() {
	if s.inTx {
		return func() {}
	}
	s.txMu.Lock()
	return s.txMu.Unlock
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Repository) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.data.snapshot()
	if err := fn(ctx, &Store{data: s.data, txMu: s.txMu, inTx: true}); err != nil {
		s.data.restore(snap)
		return err
	}
	return nil
}

func (s *Store) GetProduct(_ context.Context, storeID string, productID string) (*domain.Product, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	product, exists := s.data.products[key(storeID, productID)]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneProduct(product)
	return &dup, nil
}

func (s *Store) ListProducts(_ context.Context, storeID string) ([]domain.Product, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.data.products))
	for _, p := range s.data.products {
		if p.StoreID != storeID {
			continue
		}
		products = append(products, cloneProduct(p))
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) UpsertProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.ID) == "" || strings.TrimSpace(product.StoreID) == "" {
		return nil, store.ErrValidation
	}

	defer s.lockWrite()()
	s.data.mu.Lock()
	defer s.data.mu.Unlock()

	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	s.data.products[key(product.StoreID, product.ID)] = cloneProduct(product)
	saved := cloneProduct(product)
	return &saved, nil
}

func (s *Store) GetShift(_ context.Context, storeID string, shiftID string) (*domain.CashShift, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	shift, exists := s.data.shifts[key(storeID, shiftID)]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneShift(shift), nil
}

func (s *Store) GetOpenShift(_ context.Context, storeID string) (*domain.CashShift, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	for _, shift := range s.data.shifts {
		if shift.StoreID == storeID && shift.Status == domain.ShiftStatusOpen {
			return cloneShift(shift), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListShifts(_ context.Context, storeID string, limit int) ([]domain.CashShift, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	shifts := make([]domain.CashShift, 0, len(s.data.shifts))
	for _, shift := range s.data.shifts {
		if shift.StoreID == storeID {
			shifts = append(shifts, *cloneShift(shift))
		}
	}
	slices.SortFunc(shifts, func(a, b domain.CashShift) int {
		return b.StartTime.Compare(a.StartTime)
	})
	if limit > 0 && len(shifts) > limit {
		shifts = shifts[:limit]
	}
	return shifts, nil
}

func (s *Store) UpsertShift(_ context.Context, shift domain.CashShift) (*domain.CashShift, error) {
	if strings.TrimSpace(shift.ID) == "" || strings.TrimSpace(shift.StoreID) == "" {
		return nil, store.ErrValidation
	}

	defer s.lockWrite()()
	s.data.mu.Lock()
	defer s.data.mu.Unlock()

	if shift.Status == domain.ShiftStatusOpen {
		for _, other := range s.data.shifts {
			if other.StoreID == shift.StoreID && other.ID != shift.ID && other.Status == domain.ShiftStatusOpen {
				return nil, store.ErrInvalidState
			}
		}
	}
	s.data.shifts[key(shift.StoreID, shift.ID)] = *cloneShift(shift)
	return cloneShift(shift), nil
}

func (s *Store) InsertMovement(_ context.Context, movement domain.CashMovement) (*domain.CashMovement, error) {
	if strings.TrimSpace(movement.StoreID) == "" || strings.TrimSpace(movement.ShiftID) == "" {
		return nil, store.ErrValidation
	}
	if movement.ID == "" {
		movement.ID = xid.New("mv")
	}
	if movement.Timestamp.IsZero() {
		movement.Timestamp = time.Now().UTC()
	}

	defer s.lockWrite()()
	s.data.mu.Lock()
	defer s.data.mu.Unlock()

	for _, existing := range s.data.movements {
		if existing.ID == movement.ID {
			return nil, store.ErrInvalidState
		}
	}
	s.data.movements = append(s.data.movements, movement)
	saved := movement
	return &saved, nil
}

func (s *Store) ListMovementsByShift(_ context.Context, storeID string, shiftID string) ([]domain.CashMovement, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	movements := make([]domain.CashMovement, 0, 16)
	for _, m := range s.data.movements {
		if m.StoreID == storeID && m.ShiftID == shiftID {
			movements = append(movements, m)
		}
	}
	slices.SortStableFunc(movements, func(a, b domain.CashMovement) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return movements, nil
}

func (s *Store) GetTransaction(_ context.Context, storeID string, transactionID string) (*domain.Transaction, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	tx, exists := s.data.transactions[key(storeID, transactionID)]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneTransaction(tx)
	return &dup, nil
}

func (s *Store) InsertTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if strings.TrimSpace(tx.ID) == "" || strings.TrimSpace(tx.StoreID) == "" || len(tx.Items) == 0 {
		return nil, store.ErrValidation
	}

	defer s.lockWrite()()
	s.data.mu.Lock()
	defer s.data.mu.Unlock()

	k := key(tx.StoreID, tx.ID)
	if _, exists := s.data.transactions[k]; exists {
		return nil, store.ErrInvalidState
	}
	s.data.transactions[k] = cloneTransaction(tx)
	saved := cloneTransaction(tx)
	return &saved, nil
}

func (s *Store) MarkTransactionCanceled(_ context.Context, tx domain.Transaction) error {
	defer s.lockWrite()()
	s.data.mu.Lock()
	defer s.data.mu.Unlock()

	k := key(tx.StoreID, tx.ID)
	current, exists := s.data.transactions[k]
	if !exists {
		return store.ErrNotFound
	}
	if current.Status != domain.TxStatusCompleted {
		return store.ErrAlreadyCanceled
	}
	current.Status = domain.TxStatusCanceled
	current.RefundTender = tx.RefundTender
	current.CanceledAt = tx.CanceledAt
	s.data.transactions[k] = current
	return nil
}

func (s *Store) ListTransactionsByShift(_ context.Context, storeID string, shiftID string) ([]domain.Transaction, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	txs := make([]domain.Transaction, 0, 32)
	for _, tx := range s.data.transactions {
		if tx.StoreID == storeID && tx.ShiftID == shiftID {
			txs = append(txs, cloneTransaction(tx))
		}
	}
	slices.SortFunc(txs, func(a, b domain.Transaction) int {
		return b.Date.Compare(a.Date)
	})
	return txs, nil
}

func (s *Store) GetPurchase(_ context.Context, storeID string, purchaseID string) (*domain.Purchase, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	purchase, exists := s.data.purchases[key(storeID, purchaseID)]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := clonePurchase(purchase)
	return &dup, nil
}

func (s *Store) UpsertPurchase(_ context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	if strings.TrimSpace(purchase.ID) == "" || strings.TrimSpace(purchase.StoreID) == "" {
		return nil, store.ErrValidation
	}

	defer s.lockWrite()()
	s.data.mu.Lock()
	defer s.data.mu.Unlock()

	purchase.UpdatedAt = time.Now().UTC()
	s.data.purchases[key(purchase.StoreID, purchase.ID)] = clonePurchase(purchase)
	saved := clonePurchase(purchase)
	return &saved, nil
}

func (s *Store) ListPurchases(_ context.Context, storeID string, status string, limit int) ([]domain.Purchase, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	status = strings.ToUpper(strings.TrimSpace(status))
	purchases := make([]domain.Purchase, 0, len(s.data.purchases))
	for _, p := range s.data.purchases {
		if p.StoreID != storeID {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		purchases = append(purchases, clonePurchase(p))
	}
	slices.SortFunc(purchases, func(a, b domain.Purchase) int {
		return b.Date.Compare(a.Date)
	})
	if limit > 0 && len(purchases) > limit {
		purchases = purchases[:limit]
	}
	return purchases, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if strings.TrimSpace(supplier.StoreID) == "" || strings.TrimSpace(supplier.Name) == "" {
		return nil, store.ErrValidation
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	defer s.lockWrite()()
	s.data.mu.Lock()
	defer s.data.mu.Unlock()

	s.data.suppliers[key(supplier.StoreID, supplier.ID)] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) GetSupplier(_ context.Context, storeID string, supplierID string) (*domain.Supplier, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	supplier, exists := s.data.suppliers[key(storeID, supplierID)]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (s *Store) ListSuppliers(_ context.Context, storeID string) ([]domain.Supplier, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.data.suppliers))
	for _, supplier := range s.data.suppliers {
		if supplier.StoreID == storeID {
			suppliers = append(suppliers, supplier)
		}
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return strings.Compare(a.Name, b.Name)
	})
	return suppliers, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	defer s.lockWrite()()
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	s.data.auditLogs = append(s.data.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, limit int) ([]domain.AuditLog, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.data.auditLogs) - 1; i >= 0; i-- {
		entry := s.data.auditLogs[i]
		if entry.StoreID != storeID {
			continue
		}
		result = append(result, entry)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrValidation
	}

	s.data.mu.Lock()
	defer s.data.mu.Unlock()

	if _, exists := s.data.usersByUsername[username]; exists {
		return store.ErrInvalidState
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.data.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.data.usersByUsername))
	for _, user := range s.data.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))

	s.data.mu.Lock()
	defer s.data.mu.Unlock()

	user, exists := s.data.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.data.usersByUsername[username] = user
	return nil
}

type snapshot struct {
	products     map[string]domain.Product
	shifts       map[string]domain.CashShift
	movements    []domain.CashMovement
	transactions map[string]domain.Transaction
	purchases    map[string]domain.Purchase
	suppliers    map[string]domain.Supplier
	auditLogs    []domain.AuditLog
}

func (d *state) snapshot() snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snap := snapshot{
		products:     make(map[string]domain.Product, len(d.products)),
		shifts:       make(map[string]domain.CashShift, len(d.shifts)),
		movements:    slices.Clone(d.movements),
		transactions: make(map[string]domain.Transaction, len(d.transactions)),
		purchases:    make(map[string]domain.Purchase, len(d.purchases)),
		suppliers:    make(map[string]domain.Supplier, len(d.suppliers)),
		auditLogs:    slices.Clone(d.auditLogs),
	}
	for k, v := range d.products {
		snap.products[k] = cloneProduct(v)
	}
	for k, v := range d.shifts {
		snap.shifts[k] = *cloneShift(v)
	}
	for k, v := range d.transactions {
		snap.transactions[k] = cloneTransaction(v)
	}
	for k, v := range d.purchases {
		snap.purchases[k] = clonePurchase(v)
	}
	for k, v := range d.suppliers {
		snap.suppliers[k] = v
	}
	return snap
}

func (d *state) restore(snap snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.products = snap.products
	d.shifts = snap.shifts
	d.movements = snap.movements
	d.transactions = snap.transactions
	d.purchases = snap.purchases
	d.suppliers = snap.suppliers
	d.auditLogs = snap.auditLogs
}

func key(storeID string, id string) string {
	return storeID + "/" + id
}

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	dup.Variants = slices.Clone(src.Variants)
	return dup
}

func cloneShift(src domain.CashShift) *domain.CashShift {
	dup := src
	if src.EndTime != nil {
		end := *src.EndTime
		dup.EndTime = &end
	}
	if src.EndAmountCents != nil {
		amount := *src.EndAmountCents
		dup.EndAmountCents = &amount
	}
	return &dup
}

func cloneTransaction(src domain.Transaction) domain.Transaction {
	dup := src
	dup.Items = slices.Clone(src.Items)
	dup.Payments = slices.Clone(src.Payments)
	if src.CanceledAt != nil {
		at := *src.CanceledAt
		dup.CanceledAt = &at
	}
	return dup
}

func clonePurchase(src domain.Purchase) domain.Purchase {
	dup := src
	dup.Items = make([]domain.PurchaseItem, len(src.Items))
	for i, item := range src.Items {
		if item.ProposedSellPriceCents != nil {
			price := *item.ProposedSellPriceCents
			item.ProposedSellPriceCents = &price
		}
		dup.Items[i] = item
	}
	if src.DueDate != nil {
		due := *src.DueDate
		dup.DueDate = &due
	}
	if src.ReceivedAt != nil {
		at := *src.ReceivedAt
		dup.ReceivedAt = &at
	}
	return dup
}
