package service

import (
	"context"
	"fmt"
	"strings"

	"posgo/backend/internal/domain"
	"posgo/backend/internal/store"
	"posgo/backend/internal/xid"
)

func (s *Service) CreateSupplier(ctx context.Context, storeID string, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.Supplier{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Contact = strings.TrimSpace(req.Contact)
	if err := s.validateStruct(req); err != nil {
		return domain.Supplier{}, err
	}

	saved, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ID:        xid.New("sup"),
		StoreID:   storeID,
		Name:      req.Name,
		Contact:   req.Contact,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Supplier{}, wrapStep("create_supplier", "save supplier", err)
	}

	s.logAudit(ctx, s.repo, storeID, "supplier_create", "supplier", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

func (s *Service) ListSuppliers(ctx context.Context, storeID string) ([]domain.Supplier, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return nil, err
	}
	suppliers, err := s.repo.ListSuppliers(ctx, storeID)
	if err != nil {
		return nil, wrapStep("list_suppliers", "load suppliers", err)
	}
	return suppliers, nil
}

// CreatePurchase stores a new purchase as DRAFT, or CONFIRMED when asked.
// Nothing here touches stock or prices.
func (s *Service) CreatePurchase(ctx context.Context, storeID string, req domain.PurchaseRequest) (domain.Purchase, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.Purchase{}, err
	}
	purchase, err := s.buildPurchase(ctx, s.repo, storeID, req, nil)
	if err != nil {
		return domain.Purchase{}, err
	}

	saved, err := s.repo.UpsertPurchase(ctx, purchase)
	if err != nil {
		return domain.Purchase{}, wrapStep("create_purchase", "save purchase", err)
	}
	s.logAudit(ctx, s.repo, storeID, "purchase_create", "purchase", saved.ID,
		fmt.Sprintf("ref=%s,status=%s,total=%s", saved.Reference, saved.Status, formatCents(saved.TotalCents)))
	return *saved, nil
}

// UpdatePurchase replaces the editable fields of a DRAFT or CONFIRMED
// purchase. Received and canceled purchases only accept payments.
func (s *Service) UpdatePurchase(ctx context.Context, storeID string, purchaseID string, req domain.PurchaseRequest) (domain.Purchase, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.Purchase{}, err
	}
	if err := requireID("purchase_id", purchaseID); err != nil {
		return domain.Purchase{}, err
	}

	var out domain.Purchase
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Repository) error {
		existing, err := tx.GetPurchase(ctx, storeID, purchaseID)
		if err != nil {
			return wrapStep("update_purchase", "load purchase", err)
		}
		if !isEditable(existing.Status) {
			return invalidState("purchase %s is %s", existing.ID, existing.Status)
		}

		purchase, err := s.buildPurchase(ctx, tx, storeID, req, existing)
		if err != nil {
			return err
		}
		saved, err := tx.UpsertPurchase(ctx, purchase)
		if err != nil {
			return wrapStep("update_purchase", "save purchase", err)
		}
		out = *saved
		s.logAudit(ctx, tx, storeID, "purchase_update", "purchase", saved.ID,
			fmt.Sprintf("status=%s,total=%s", saved.Status, formatCents(saved.TotalCents)))
		return nil
	})
	if err != nil {
		return domain.Purchase{}, err
	}
	return out, nil
}

func (s *Service) ConfirmPurchase(ctx context.Context, storeID string, purchaseID string) (domain.Purchase, error) {
	return s.transitionPurchase(ctx, storeID, purchaseID, "purchase_confirm", domain.PurchaseStatusConfirmed, domain.PurchaseStatusDraft)
}

func (s *Service) ReturnToDraft(ctx context.Context, storeID string, purchaseID string) (domain.Purchase, error) {
	return s.transitionPurchase(ctx, storeID, purchaseID, "purchase_draft", domain.PurchaseStatusDraft, domain.PurchaseStatusConfirmed)
}

// CancelPurchase is terminal. A received purchase must be reverted first.
func (s *Service) CancelPurchase(ctx context.Context, storeID string, purchaseID string) (domain.Purchase, error) {
	return s.transitionPurchase(ctx, storeID, purchaseID, "purchase_cancel", domain.PurchaseStatusCanceled,
		domain.PurchaseStatusDraft, domain.PurchaseStatusConfirmed)
}

// RecordPurchasePayment sets the amount paid so far. It is the one field that
// stays editable after reception.
func (s *Service) RecordPurchasePayment(ctx context.Context, storeID string, purchaseID string, req domain.PurchasePaymentRequest) (domain.Purchase, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.Purchase{}, err
	}
	if err := requireID("purchase_id", purchaseID); err != nil {
		return domain.Purchase{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.Purchase{}, err
	}

	var out domain.Purchase
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Repository) error {
		purchase, err := tx.GetPurchase(ctx, storeID, purchaseID)
		if err != nil {
			return wrapStep("record_purchase_payment", "load purchase", err)
		}
		if purchase.Status == domain.PurchaseStatusCanceled {
			return invalidState("purchase %s is %s", purchase.ID, purchase.Status)
		}
		if purchase.PaymentCondition == domain.PaymentConditionCash && req.AmountPaidCents != purchase.TotalCents {
			return invalidState("cash purchase %s is paid in full", purchase.ID)
		}
		if req.AmountPaidCents > purchase.TotalCents {
			return invalid("amount_paid_cents %s exceeds total %s", formatCents(req.AmountPaidCents), formatCents(purchase.TotalCents))
		}

		before := purchase.AmountPaidCents
		purchase.AmountPaidCents = req.AmountPaidCents
		purchase.UpdatedAt = s.now()
		saved, err := tx.UpsertPurchase(ctx, *purchase)
		if err != nil {
			return wrapStep("record_purchase_payment", "save purchase", err)
		}
		out = *saved
		s.logAudit(ctx, tx, storeID, "purchase_payment", "purchase", saved.ID,
			fmt.Sprintf("paid=%s->%s", formatCents(before), formatCents(saved.AmountPaidCents)))
		return nil
	})
	if err != nil {
		return domain.Purchase{}, err
	}
	return out, nil
}

func (s *Service) GetPurchase(ctx context.Context, storeID string, purchaseID string) (domain.Purchase, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.Purchase{}, err
	}
	if err := requireID("purchase_id", purchaseID); err != nil {
		return domain.Purchase{}, err
	}
	purchase, err := s.repo.GetPurchase(ctx, storeID, purchaseID)
	if err != nil {
		return domain.Purchase{}, wrapStep("get_purchase", "load purchase", err)
	}
	return *purchase, nil
}

func (s *Service) ListPurchases(ctx context.Context, storeID string, status string, limit int) ([]domain.Purchase, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return nil, err
	}
	status = strings.ToUpper(strings.TrimSpace(status))
	switch status {
	case "", domain.PurchaseStatusDraft, domain.PurchaseStatusConfirmed, domain.PurchaseStatusReceived, domain.PurchaseStatusCanceled:
	default:
		return nil, invalid("unknown purchase status %q", status)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	purchases, err := s.repo.ListPurchases(ctx, storeID, status, limit)
	if err != nil {
		return nil, wrapStep("list_purchases", "load purchases", err)
	}
	return purchases, nil
}

// ConfirmReception adds every item's quantity to stock, creating variants
// that do not exist yet, and rolls the unit cost and proposed sell price
// forward into the catalog. The purchase must be CONFIRMED.
func (s *Service) ConfirmReception(ctx context.Context, storeID string, purchaseID string) (domain.ReceptionResult, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.ReceptionResult{}, err
	}
	if err := requireID("purchase_id", purchaseID); err != nil {
		return domain.ReceptionResult{}, err
	}

	var result domain.ReceptionResult
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Repository) error {
		purchase, err := tx.GetPurchase(ctx, storeID, purchaseID)
		if err != nil {
			return wrapStep("confirm_reception", "load purchase", err)
		}
		if purchase.Status != domain.PurchaseStatusConfirmed {
			return invalidState("purchase %s is %s, expected %s", purchase.ID, purchase.Status, domain.PurchaseStatusConfirmed)
		}

		adjustments := make([]domain.StockAdjustment, 0, len(purchase.Items))
		for _, item := range purchase.Items {
			adj := domain.StockAdjustment{
				ProductID:          item.ProductID,
				VariantID:          item.VariantID,
				VariantName:        item.VariantName,
				Delta:              item.Quantity,
				PriceOverrideCents: item.ProposedSellPriceCents,
			}
			if !item.IsBonus {
				cost := item.UnitCostCents
				adj.CostOverrideCents = &cost
			}
			adjustments = append(adjustments, adj)
		}
		products, clamped, err := s.applyAdjustments(ctx, tx, storeID, adjustments, false)
		if err != nil {
			return err
		}

		now := s.now()
		purchase.Status = domain.PurchaseStatusReceived
		purchase.ReceivedAt = &now
		purchase.UpdatedAt = now
		saved, err := tx.UpsertPurchase(ctx, *purchase)
		if err != nil {
			return wrapStep("confirm_reception", "save purchase", err)
		}
		s.logAudit(ctx, tx, storeID, "purchase_receive", "purchase", saved.ID,
			fmt.Sprintf("items=%d,total=%s", len(saved.Items), formatCents(saved.TotalCents)))

		result = domain.ReceptionResult{Purchase: *saved, Products: products, ClampedItems: clamped}
		return nil
	})
	if err != nil {
		return domain.ReceptionResult{}, err
	}
	s.metrics.Reception(storeID, "receive")
	return result, nil
}

// RevertReception takes every item's quantity back out of stock and returns
// the purchase to CONFIRMED. Prices and costs set on reception stay as they
// are.
func (s *Service) RevertReception(ctx context.Context, storeID string, purchaseID string) (domain.ReceptionResult, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.ReceptionResult{}, err
	}
	if err := requireID("purchase_id", purchaseID); err != nil {
		return domain.ReceptionResult{}, err
	}

	var result domain.ReceptionResult
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Repository) error {
		purchase, err := tx.GetPurchase(ctx, storeID, purchaseID)
		if err != nil {
			return wrapStep("revert_reception", "load purchase", err)
		}
		if purchase.Status != domain.PurchaseStatusReceived {
			return invalidState("purchase %s is %s, expected %s", purchase.ID, purchase.Status, domain.PurchaseStatusReceived)
		}

		adjustments := make([]domain.StockAdjustment, 0, len(purchase.Items))
		for _, item := range purchase.Items {
			adjustments = append(adjustments, domain.StockAdjustment{
				ProductID:   item.ProductID,
				VariantID:   item.VariantID,
				VariantName: item.VariantName,
				Delta:       -item.Quantity,
			})
		}
		products, clamped, err := s.applyAdjustments(ctx, tx, storeID, adjustments, true)
		if err != nil {
			return err
		}

		purchase.Status = domain.PurchaseStatusConfirmed
		purchase.ReceivedAt = nil
		purchase.UpdatedAt = s.now()
		saved, err := tx.UpsertPurchase(ctx, *purchase)
		if err != nil {
			return wrapStep("revert_reception", "save purchase", err)
		}
		s.logAudit(ctx, tx, storeID, "purchase_revert", "purchase", saved.ID,
			fmt.Sprintf("items=%d,clamped=%d", len(saved.Items), clamped))

		result = domain.ReceptionResult{Purchase: *saved, Products: products, ClampedItems: clamped}
		return nil
	})
	if err != nil {
		return domain.ReceptionResult{}, err
	}
	s.metrics.Reception(storeID, "revert")
	return result, nil
}

// applyAdjustments runs each adjustment in order and returns the final state
// of every touched product, in first-touched order.
func (s *Service) applyAdjustments(ctx context.Context, tx store.Repository, storeID string, adjustments []domain.StockAdjustment, reversal bool) ([]domain.Product, int, error) {
	products := make([]domain.Product, 0, len(adjustments))
	position := make(map[string]int, len(adjustments))
	clamped := 0
	for _, adj := range adjustments {
		result, err := s.adjustStock(ctx, tx, storeID, adj, reversal)
		if err != nil {
			return nil, 0, err
		}
		if result.Clamped {
			clamped++
		}
		if idx, seen := position[result.Product.ID]; seen {
			products[idx] = result.Product
			continue
		}
		position[result.Product.ID] = len(products)
		products = append(products, result.Product)
	}
	return products, clamped, nil
}

func (s *Service) transitionPurchase(ctx context.Context, storeID string, purchaseID string, action string, to string, from ...string) (domain.Purchase, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.Purchase{}, err
	}
	if err := requireID("purchase_id", purchaseID); err != nil {
		return domain.Purchase{}, err
	}

	var out domain.Purchase
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Repository) error {
		purchase, err := tx.GetPurchase(ctx, storeID, purchaseID)
		if err != nil {
			return wrapStep(action, "load purchase", err)
		}
		allowed := false
		for _, status := range from {
			if purchase.Status == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return invalidState("purchase %s is %s, cannot move to %s", purchase.ID, purchase.Status, to)
		}

		before := purchase.Status
		purchase.Status = to
		purchase.UpdatedAt = s.now()
		saved, err := tx.UpsertPurchase(ctx, *purchase)
		if err != nil {
			return wrapStep(action, "save purchase", err)
		}
		out = *saved
		s.logAudit(ctx, tx, storeID, action, "purchase", saved.ID, fmt.Sprintf("status=%s->%s", before, to))
		return nil
	})
	if err != nil {
		return domain.Purchase{}, err
	}
	return out, nil
}

// buildPurchase validates req and turns it into the purchase to store. When
// existing is set its identity and reception fields are kept.
func (s *Service) buildPurchase(ctx context.Context, repo store.Repository, storeID string, req domain.PurchaseRequest, existing *domain.Purchase) (domain.Purchase, error) {
	req.SupplierID = strings.TrimSpace(req.SupplierID)
	req.PaymentCondition = strings.ToUpper(strings.TrimSpace(req.PaymentCondition))
	req.DocType = strings.ToUpper(strings.TrimSpace(req.DocType))
	req.Status = strings.ToUpper(strings.TrimSpace(req.Status))
	if err := s.validateStruct(req); err != nil {
		return domain.Purchase{}, err
	}

	if _, err := repo.GetSupplier(ctx, storeID, req.SupplierID); err != nil {
		return domain.Purchase{}, wrapStep("save_purchase", "load supplier", err)
	}

	items := make([]domain.PurchaseItem, 0, len(req.Items))
	var itemsSubtotal int64
	for _, item := range req.Items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.VariantID = strings.TrimSpace(item.VariantID)
		item.VariantName = strings.TrimSpace(item.VariantName)
		if item.ProposedSellPriceCents != nil && *item.ProposedSellPriceCents <= 0 {
			item.ProposedSellPriceCents = nil
		}
		if !item.IsBonus {
			itemsSubtotal += int64(item.Quantity) * item.UnitCostCents
		}
		items = append(items, item)
	}

	subtotal := req.SubtotalCents
	if subtotal == 0 {
		subtotal = itemsSubtotal
	}
	total := req.TotalCents
	if total == 0 {
		total = subtotal
		if !req.TaxIncluded {
			total += req.TaxCents
		}
	}

	paid := req.AmountPaidCents
	dueDate := req.DueDate
	if req.PaymentCondition == domain.PaymentConditionCash {
		paid = total
		dueDate = nil
	}
	if paid > total {
		return domain.Purchase{}, invalid("amount_paid_cents %s exceeds total %s", formatCents(paid), formatCents(total))
	}

	now := s.now()
	purchase := domain.Purchase{
		ID:               xid.New("pur"),
		StoreID:          storeID,
		Status:           defaultString(req.Status, domain.PurchaseStatusDraft),
		Date:             now,
		SupplierID:       req.SupplierID,
		InvoiceNumber:    strings.TrimSpace(req.InvoiceNumber),
		DocType:          req.DocType,
		DueDate:          dueDate,
		Items:            items,
		SubtotalCents:    subtotal,
		TaxCents:         req.TaxCents,
		TotalCents:       total,
		AmountPaidCents:  paid,
		PaymentCondition: req.PaymentCondition,
		PaymentMethod:    strings.TrimSpace(req.PaymentMethod),
		PayFromCash:      req.PayFromCash,
		TaxIncluded:      req.TaxIncluded,
		UpdatedAt:        now,
	}
	purchase.Reference = "C-" + xid.Short(purchase.ID)
	if existing != nil {
		purchase.ID = existing.ID
		purchase.Reference = existing.Reference
		purchase.Date = existing.Date
		purchase.ReceivedAt = existing.ReceivedAt
		if req.Status == "" {
			purchase.Status = existing.Status
		}
	}
	if ref := strings.TrimSpace(req.Reference); ref != "" {
		purchase.Reference = ref
	}
	if req.Date != nil {
		purchase.Date = req.Date.UTC()
	}
	return purchase, nil
}

func isEditable(status string) bool {
	return status == domain.PurchaseStatusDraft || status == domain.PurchaseStatusConfirmed
}
