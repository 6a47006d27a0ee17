package service

import (
	"context"
	"fmt"
	"strings"

	"posgo/backend/internal/domain"
	"posgo/backend/internal/store"
	"posgo/backend/internal/xid"
)

// AppendMovement records a manual IN or OUT against an OPEN shift. It never
// touches the shift's sales totals.
func (s *Service) AppendMovement(ctx context.Context, storeID string, shiftID string, req domain.MovementRequest) (domain.CashMovement, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.CashMovement{}, err
	}
	if err := requireID("shift_id", shiftID); err != nil {
		return domain.CashMovement{}, err
	}
	req.Type = strings.ToUpper(strings.TrimSpace(req.Type))
	if err := s.validateStruct(req); err != nil {
		return domain.CashMovement{}, err
	}

	var out domain.CashMovement
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Repository) error {
		shift, err := tx.GetShift(ctx, storeID, shiftID)
		if err != nil {
			return wrapStep("append_movement", "load shift", err)
		}
		if shift.Status != domain.ShiftStatusOpen {
			return invalidState("shift %s is %s", shift.ID, shift.Status)
		}

		saved, err := tx.InsertMovement(ctx, domain.CashMovement{
			ID:          xid.New("mov"),
			StoreID:     storeID,
			ShiftID:     shiftID,
			Type:        req.Type,
			AmountCents: req.AmountCents,
			Description: strings.TrimSpace(req.Description),
			Timestamp:   s.now(),
		})
		if err != nil {
			return wrapStep("append_movement", "insert movement", err)
		}
		out = *saved
		s.logAudit(ctx, tx, storeID, "cash_movement", "shift", shiftID,
			fmt.Sprintf("type=%s,amount=%s", saved.Type, formatCents(saved.AmountCents)))
		return nil
	})
	if err != nil {
		return domain.CashMovement{}, err
	}
	s.invalidateSummary(ctx, storeID, shiftID)
	return out, nil
}

func (s *Service) ListMovements(ctx context.Context, storeID string, shiftID string) ([]domain.CashMovement, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return nil, err
	}
	if err := requireID("shift_id", shiftID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetShift(ctx, storeID, shiftID); err != nil {
		return nil, wrapStep("list_movements", "load shift", err)
	}
	movements, err := s.repo.ListMovementsByShift(ctx, storeID, shiftID)
	if err != nil {
		return nil, wrapStep("list_movements", "load movements", err)
	}
	return movements, nil
}
