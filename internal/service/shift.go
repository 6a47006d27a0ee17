package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"posgo/backend/internal/cache"
	"posgo/backend/internal/domain"
	"posgo/backend/internal/store"
	"posgo/backend/internal/xid"
)

func (s *Service) OpenShift(ctx context.Context, storeID string, req domain.ShiftOpenRequest) (domain.CashShift, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.CashShift{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.CashShift{}, err
	}
	if req.OpenedBy == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			req.OpenedBy = actor.Username
		}
	}

	var opened domain.CashShift
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Repository) error {
		active, err := tx.GetOpenShift(ctx, storeID)
		switch {
		case err == nil:
			return invalidState("shift %s is already open", active.ID)
		case !errors.Is(err, store.ErrNotFound):
			return wrapStep("open_shift", "check open shift", err)
		}

		now := s.now()
		shift := domain.CashShift{
			ID:               xid.New("shift"),
			StoreID:          storeID,
			TerminalID:       strings.TrimSpace(req.TerminalID),
			OpenedBy:         strings.TrimSpace(req.OpenedBy),
			StartTime:        now,
			StartAmountCents: req.StartAmountCents,
			Status:           domain.ShiftStatusOpen,
		}
		saved, err := tx.UpsertShift(ctx, shift)
		if err != nil {
			return wrapStep("open_shift", "save shift", err)
		}
		if _, err := tx.InsertMovement(ctx, domain.CashMovement{
			ID:          xid.New("mov"),
			StoreID:     storeID,
			ShiftID:     saved.ID,
			Type:        domain.MovementOpen,
			AmountCents: req.StartAmountCents,
			Description: "Shift open",
			Timestamp:   now,
		}); err != nil {
			return wrapStep("open_shift", "append open movement", err)
		}
		opened = *saved
		s.logAudit(ctx, tx, storeID, "shift_open", "shift", saved.ID,
			fmt.Sprintf("start=%s,terminal=%s", formatCents(req.StartAmountCents), saved.TerminalID))
		return nil
	})
	if err != nil {
		return domain.CashShift{}, err
	}
	return opened, nil
}

func (s *Service) CloseShift(ctx context.Context, storeID string, shiftID string, req domain.ShiftCloseRequest) (domain.CashShift, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.CashShift{}, err
	}
	if err := requireID("shift_id", shiftID); err != nil {
		return domain.CashShift{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.CashShift{}, err
	}

	var closed domain.CashShift
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Repository) error {
		shift, err := tx.GetShift(ctx, storeID, shiftID)
		if err != nil {
			return wrapStep("close_shift", "load shift", err)
		}
		if shift.Status != domain.ShiftStatusOpen {
			return invalidState("shift %s is %s", shift.ID, shift.Status)
		}

		now := s.now()
		end := req.EndAmountCents
		shift.Status = domain.ShiftStatusClosed
		shift.EndTime = &now
		shift.EndAmountCents = &end
		saved, err := tx.UpsertShift(ctx, *shift)
		if err != nil {
			return wrapStep("close_shift", "save shift", err)
		}
		if _, err := tx.InsertMovement(ctx, domain.CashMovement{
			ID:          xid.New("mov"),
			StoreID:     storeID,
			ShiftID:     saved.ID,
			Type:        domain.MovementClose,
			AmountCents: end,
			Description: defaultString(strings.TrimSpace(req.Description), "Shift close"),
			Timestamp:   now,
		}); err != nil {
			return wrapStep("close_shift", "append close movement", err)
		}
		closed = *saved
		s.logAudit(ctx, tx, storeID, "shift_close", "shift", saved.ID, fmt.Sprintf("end=%s", formatCents(end)))
		return nil
	})
	if err != nil {
		return domain.CashShift{}, err
	}
	s.invalidateSummary(ctx, storeID, shiftID)
	return closed, nil
}

func (s *Service) GetShift(ctx context.Context, storeID string, shiftID string) (domain.CashShift, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.CashShift{}, err
	}
	if err := requireID("shift_id", shiftID); err != nil {
		return domain.CashShift{}, err
	}
	shift, err := s.repo.GetShift(ctx, storeID, shiftID)
	if err != nil {
		return domain.CashShift{}, wrapStep("get_shift", "load shift", err)
	}
	return *shift, nil
}

// ActiveShift returns the store's OPEN shift or store.ErrNotFound.
func (s *Service) ActiveShift(ctx context.Context, storeID string) (domain.CashShift, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.CashShift{}, err
	}
	shift, err := s.repo.GetOpenShift(ctx, storeID)
	if err != nil {
		return domain.CashShift{}, wrapStep("active_shift", "load open shift", err)
	}
	return *shift, nil
}

func (s *Service) ListShifts(ctx context.Context, storeID string, limit int) ([]domain.CashShift, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	shifts, err := s.repo.ListShifts(ctx, storeID, limit)
	if err != nil {
		return nil, wrapStep("list_shifts", "load shifts", err)
	}
	return shifts, nil
}

// Credit adds a tender breakdown to an OPEN shift's running totals.
func (s *Service) Credit(ctx context.Context, storeID string, shiftID string, breakdown domain.TenderBreakdown) (domain.CashShift, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.CashShift{}, err
	}
	if err := requireID("shift_id", shiftID); err != nil {
		return domain.CashShift{}, err
	}
	if err := validateBreakdown(breakdown); err != nil {
		return domain.CashShift{}, err
	}

	var out domain.CashShift
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Repository) error {
		shift, err := s.creditShift(ctx, tx, storeID, shiftID, breakdown)
		if err != nil {
			return err
		}
		out = shift
		return nil
	})
	if err != nil {
		return domain.CashShift{}, err
	}
	s.invalidateSummary(ctx, storeID, shiftID)
	return out, nil
}

// Debit subtracts a tender breakdown from an OPEN shift, flooring each total
// at zero. The returned flag reports whether any floor was hit.
func (s *Service) Debit(ctx context.Context, storeID string, shiftID string, breakdown domain.TenderBreakdown) (domain.CashShift, bool, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.CashShift{}, false, err
	}
	if err := requireID("shift_id", shiftID); err != nil {
		return domain.CashShift{}, false, err
	}
	if err := validateBreakdown(breakdown); err != nil {
		return domain.CashShift{}, false, err
	}

	var (
		out     domain.CashShift
		floored bool
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Repository) error {
		var err error
		out, floored, err = s.debitShift(ctx, tx, storeID, shiftID, breakdown, false)
		return err
	})
	if err != nil {
		return domain.CashShift{}, false, err
	}
	s.invalidateSummary(ctx, storeID, shiftID)
	return out, floored, nil
}

func (s *Service) creditShift(ctx context.Context, tx store.Repository, storeID string, shiftID string, b domain.TenderBreakdown) (domain.CashShift, error) {
	shift, err := tx.GetShift(ctx, storeID, shiftID)
	if err != nil {
		return domain.CashShift{}, wrapStep("credit_shift", "load shift", err)
	}
	if shift.Status != domain.ShiftStatusOpen {
		return domain.CashShift{}, invalidState("shift %s is %s", shift.ID, shift.Status)
	}

	shift.TotalSalesCashCents += b.CashCents
	shift.TotalSalesCardCents += b.CardCents
	shift.TotalSalesYapeCents += b.YapeCents
	shift.TotalSalesPlinCents += b.PlinCents
	recomputeDigital(shift)

	saved, err := tx.UpsertShift(ctx, *shift)
	if err != nil {
		return domain.CashShift{}, wrapStep("credit_shift", "save shift", err)
	}
	return *saved, nil
}

// debitShift is shared with cancellation, which passes allowClosed so a sale
// can still be reversed after its shift was closed.
func (s *Service) debitShift(ctx context.Context, tx store.Repository, storeID string, shiftID string, b domain.TenderBreakdown, allowClosed bool) (domain.CashShift, bool, error) {
	shift, err := tx.GetShift(ctx, storeID, shiftID)
	if err != nil {
		return domain.CashShift{}, false, wrapStep("debit_shift", "load shift", err)
	}
	if shift.Status != domain.ShiftStatusOpen && !allowClosed {
		return domain.CashShift{}, false, invalidState("shift %s is %s", shift.ID, shift.Status)
	}

	var floored []string
	shift.TotalSalesCashCents = floorSub(shift.TotalSalesCashCents, b.CashCents, domain.TenderCash, &floored)
	shift.TotalSalesCardCents = floorSub(shift.TotalSalesCardCents, b.CardCents, domain.TenderCard, &floored)
	shift.TotalSalesYapeCents = floorSub(shift.TotalSalesYapeCents, b.YapeCents, domain.TenderYape, &floored)
	shift.TotalSalesPlinCents = floorSub(shift.TotalSalesPlinCents, b.PlinCents, domain.TenderPlin, &floored)
	recomputeDigital(shift)

	saved, err := tx.UpsertShift(ctx, *shift)
	if err != nil {
		return domain.CashShift{}, false, wrapStep("debit_shift", "save shift", err)
	}

	if len(floored) > 0 {
		s.logger.Warn("shift total floored at zero",
			zap.String("store_id", storeID),
			zap.String("shift_id", shiftID),
			zap.Strings("tenders", floored),
			zap.Bool("closed_shift", shift.Status != domain.ShiftStatusOpen),
		)
		s.metrics.ShiftFloored(storeID)
		s.logAudit(ctx, tx, storeID, "shift_floor", "shift", shiftID,
			fmt.Sprintf("tenders=%s,debit=%s", strings.Join(floored, "|"), formatCents(b.TotalCents())))
	}
	return *saved, len(floored) > 0, nil
}

// ShiftSummary returns the drawer count for a shift, served from the summary
// cache when possible. The cache generation is read before the ledger, so a
// write committing while the summary is computed leaves it under a stale
// generation.
func (s *Service) ShiftSummary(ctx context.Context, storeID string, shiftID string) (domain.ShiftSummary, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.ShiftSummary{}, err
	}
	if err := requireID("shift_id", shiftID); err != nil {
		return domain.ShiftSummary{}, err
	}

	key := cache.ShiftSummaryKey(storeID, shiftID)
	generation, err := s.summaries.Generation(ctx, key)
	cacheable := err == nil
	if err != nil {
		s.logger.Warn("shift summary generation read failed", zap.String("key", key), zap.Error(err))
	} else if cached, ok, err := s.summaries.Get(ctx, key, generation); err != nil {
		s.logger.Warn("shift summary cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		return *cached, nil
	}

	shift, err := s.repo.GetShift(ctx, storeID, shiftID)
	if err != nil {
		return domain.ShiftSummary{}, wrapStep("shift_summary", "load shift", err)
	}
	movements, err := s.repo.ListMovementsByShift(ctx, storeID, shiftID)
	if err != nil {
		return domain.ShiftSummary{}, wrapStep("shift_summary", "load movements", err)
	}
	transactions, err := s.repo.ListTransactionsByShift(ctx, storeID, shiftID)
	if err != nil {
		return domain.ShiftSummary{}, wrapStep("shift_summary", "load transactions", err)
	}

	summary := summarizeShift(*shift, movements, transactions)
	if !cacheable {
		return summary, nil
	}
	if err := s.summaries.Set(ctx, key, generation, &summary, s.summaryTTL); err != nil {
		s.logger.Warn("shift summary cache write failed", zap.String("key", key), zap.Error(err))
	}
	return summary, nil
}

func summarizeShift(shift domain.CashShift, movements []domain.CashMovement, transactions []domain.Transaction) domain.ShiftSummary {
	summary := domain.ShiftSummary{
		Shift:        shift,
		Movements:    len(movements),
		Transactions: len(transactions),
	}
	for _, m := range movements {
		switch m.Type {
		case domain.MovementIn:
			summary.ManualInCents += m.AmountCents
		case domain.MovementOut:
			if m.TransactionID != "" {
				summary.RefundOutCents += m.AmountCents
				continue
			}
			summary.ManualOutCents += m.AmountCents
		}
	}
	for _, t := range transactions {
		if t.Status == domain.TxStatusCanceled {
			summary.CanceledCount++
		}
	}
	summary.ExpectedCashCents = shift.StartAmountCents + shift.TotalSalesCashCents + summary.ManualInCents - summary.ManualOutCents
	summary.TotalInDrawerCents = summary.ExpectedCashCents + shift.TotalSalesDigitalCents
	return summary
}

func recomputeDigital(shift *domain.CashShift) {
	shift.TotalSalesDigitalCents = shift.TotalSalesCardCents + shift.TotalSalesYapeCents + shift.TotalSalesPlinCents
}

func floorSub(total int64, amount int64, tender string, floored *[]string) int64 {
	next := total - amount
	if next < 0 {
		*floored = append(*floored, tender)
		return 0
	}
	return next
}

func validateBreakdown(b domain.TenderBreakdown) error {
	if b.CashCents < 0 || b.CardCents < 0 || b.YapeCents < 0 || b.PlinCents < 0 || b.UntrackedCents < 0 {
		return invalid("tender amounts must be >= 0")
	}
	return nil
}
