package service

import (
	"context"
	"fmt"
	"strings"

	"posgo/backend/internal/domain"
	"posgo/backend/internal/store"
	"posgo/backend/internal/xid"
)

// CancelTransaction reverses a COMPLETED sale: stock goes back, the shift is
// debited using refundTender, an OUT movement records the refund and the sale
// is flipped to CANCELED. refundTender is a single tender or ORIGINAL (also
// the meaning of an empty value) to mirror the sale's own split. The shift may
// already be closed.
func (s *Service) CancelTransaction(ctx context.Context, storeID string, transactionID string, refundTender string) (domain.CancellationResult, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.CancellationResult{}, err
	}
	if err := requireID("transaction_id", transactionID); err != nil {
		return domain.CancellationResult{}, err
	}
	tender, err := normalizeRefundTender(refundTender)
	if err != nil {
		return domain.CancellationResult{}, err
	}

	var result domain.CancellationResult
	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Repository) error {
		sale, err := tx.GetTransaction(ctx, storeID, transactionID)
		if err != nil {
			return wrapStep("cancel_transaction", "load transaction", err)
		}
		if sale.Status == domain.TxStatusCanceled {
			return store.ErrAlreadyCanceled
		}
		if sale.Status != domain.TxStatusCompleted {
			return invalidState("transaction %s is %s", sale.ID, sale.Status)
		}

		for _, item := range sale.Items {
			adjusted, err := s.adjustStock(ctx, tx, storeID, domain.StockAdjustment{
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Delta:     item.Quantity,
			}, true)
			if err != nil {
				return err
			}
			if adjusted.Clamped {
				result.StockClamped = true
			}
		}

		shift, floored, err := s.debitShift(ctx, tx, storeID, sale.ShiftID, refundBreakdown(*sale, tender), true)
		if err != nil {
			return err
		}

		now := s.now()
		movement, err := tx.InsertMovement(ctx, domain.CashMovement{
			ID:            xid.New("mov"),
			StoreID:       storeID,
			ShiftID:       sale.ShiftID,
			Type:          domain.MovementOut,
			AmountCents:   sale.TotalCents,
			Description:   fmt.Sprintf("CANCEL #%s (via %s)", xid.Short(sale.ID), tender),
			TransactionID: sale.ID,
			Timestamp:     now,
		})
		if err != nil {
			return wrapStep("cancel_transaction", "append refund movement", err)
		}

		canceled := *sale
		canceled.Status = domain.TxStatusCanceled
		canceled.RefundTender = tender
		canceled.CanceledAt = &now
		if err := tx.MarkTransactionCanceled(ctx, canceled); err != nil {
			return wrapStep("cancel_transaction", "mark canceled", err)
		}

		s.logAudit(ctx, tx, storeID, "sale_cancel", "transaction", sale.ID,
			fmt.Sprintf("total=%s,refund=%s,floored=%t", formatCents(sale.TotalCents), tender, floored))

		result.Transaction = canceled
		result.Shift = shift
		result.Movement = *movement
		result.ShiftFloored = floored
		return nil
	})
	if err != nil {
		return domain.CancellationResult{}, err
	}

	s.metrics.SaleCanceled(storeID, result.Transaction.RefundTender)
	s.invalidateSummary(ctx, storeID, result.Transaction.ShiftID)
	return result, nil
}

func normalizeRefundTender(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, domain.RefundOriginal) {
		return domain.RefundOriginal, nil
	}
	tender := normalizeTender(trimmed)
	if !isKnownTender(tender) {
		return "", invalid("unknown refund tender %q", raw)
	}
	return tender, nil
}

// refundBreakdown attributes the whole sale total to the chosen tender, or
// mirrors the sale's own split for ORIGINAL.
func refundBreakdown(sale domain.Transaction, tender string) domain.TenderBreakdown {
	if tender == domain.RefundOriginal {
		return sale.Breakdown()
	}
	var b domain.TenderBreakdown
	b.Add(tender, sale.TotalCents)
	return b
}
