package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"posgo/backend/internal/domain"
	"posgo/backend/internal/store"
	"posgo/backend/internal/xid"
)

const paymentMethodSplit = "split"

// RecordSale decrements stock for every line, credits the shift with the
// sale's tender split and stores the transaction as COMPLETED. The three
// steps commit together or not at all.
func (s *Service) RecordSale(ctx context.Context, storeID string, req domain.SaleRequest) (domain.Transaction, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.Transaction{}, err
	}
	req.ShiftID = strings.TrimSpace(req.ShiftID)
	for i := range req.Payments {
		req.Payments[i].Tender = normalizeTender(req.Payments[i].Tender)
	}
	if err := s.validateStruct(req); err != nil {
		return domain.Transaction{}, err
	}

	sale, err := s.buildSale(storeID, req)
	if err != nil {
		return domain.Transaction{}, err
	}

	var recorded domain.Transaction
	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Repository) error {
		shift, err := tx.GetShift(ctx, storeID, sale.ShiftID)
		if err != nil {
			return wrapStep("record_sale", "load shift", err)
		}
		if shift.Status != domain.ShiftStatusOpen {
			return invalidState("shift %s is %s", shift.ID, shift.Status)
		}

		var lineCost int64
		for i, item := range sale.Items {
			result, err := s.adjustStock(ctx, tx, storeID, domain.StockAdjustment{
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Delta:     -item.Quantity,
			}, false)
			if err != nil {
				return err
			}
			if item.Name == "" {
				sale.Items[i].Name = lineName(result.Product, item.VariantID)
			}
			if item.UnitCostCents == 0 {
				sale.Items[i].UnitCostCents = result.Product.CostCents
			}
			lineCost += int64(item.Quantity) * sale.Items[i].UnitCostCents
		}
		if req.ProfitCents != nil {
			sale.ProfitCents = *req.ProfitCents
		} else {
			sale.ProfitCents = sale.TotalCents - lineCost
		}

		if _, err := s.creditShift(ctx, tx, storeID, sale.ShiftID, sale.Breakdown()); err != nil {
			return err
		}

		saved, err := tx.InsertTransaction(ctx, sale)
		if err != nil {
			if errors.Is(err, store.ErrInvalidState) {
				return invalidState("transaction %s already exists", sale.ID)
			}
			return wrapStep("record_sale", "insert transaction", err)
		}
		recorded = *saved
		s.logAudit(ctx, tx, storeID, "sale_record", "transaction", saved.ID,
			fmt.Sprintf("shift=%s,total=%s,method=%s", saved.ShiftID, formatCents(saved.TotalCents), saved.PaymentMethod))
		return nil
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	s.metrics.SaleRecorded(storeID)
	s.invalidateSummary(ctx, storeID, recorded.ShiftID)
	return recorded, nil
}

func (s *Service) GetTransaction(ctx context.Context, storeID string, transactionID string) (domain.Transaction, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.Transaction{}, err
	}
	if err := requireID("transaction_id", transactionID); err != nil {
		return domain.Transaction{}, err
	}
	tx, err := s.repo.GetTransaction(ctx, storeID, transactionID)
	if err != nil {
		return domain.Transaction{}, wrapStep("get_transaction", "load transaction", err)
	}
	return *tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, storeID string, shiftID string) ([]domain.Transaction, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return nil, err
	}
	if err := requireID("shift_id", shiftID); err != nil {
		return nil, err
	}
	txs, err := s.repo.ListTransactionsByShift(ctx, storeID, shiftID)
	if err != nil {
		return nil, wrapStep("list_transactions", "load transactions", err)
	}
	return txs, nil
}

// buildSale checks everything that can be checked without reading state and
// returns the transaction to persist.
func (s *Service) buildSale(storeID string, req domain.SaleRequest) (domain.Transaction, error) {
	items := make([]domain.TransactionItem, 0, len(req.Items))
	var itemsSubtotal int64
	for _, item := range req.Items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.VariantID = strings.TrimSpace(item.VariantID)
		item.Name = strings.TrimSpace(item.Name)
		itemsSubtotal += int64(item.Quantity) * item.UnitPriceCents
		items = append(items, item)
	}

	subtotal := req.SubtotalCents
	if subtotal == 0 {
		subtotal = itemsSubtotal
	}
	total := req.TotalCents
	if total == 0 {
		total = subtotal + req.TaxCents - req.DiscountCents
	}
	if total < 0 {
		return domain.Transaction{}, invalid("discount exceeds subtotal")
	}

	method := normalizeTender(req.PaymentMethod)
	payments := make([]domain.Payment, 0, len(req.Payments))
	var paid int64
	for _, p := range req.Payments {
		paid += p.AmountCents
		payments = append(payments, p)
	}
	switch {
	case len(payments) > 1:
		method = paymentMethodSplit
	case len(payments) == 1:
		method = payments[0].Tender
	case method == "":
		method = domain.TenderCash
	}
	if len(payments) > 0 && paid != total {
		return domain.Transaction{}, invalid("payments sum to %s but total is %s", formatCents(paid), formatCents(total))
	}
	if len(payments) == 0 && !isKnownTender(method) {
		return domain.Transaction{}, invalid("unknown payment method %q", req.PaymentMethod)
	}

	date := s.now()
	if req.Date != nil {
		date = req.Date.UTC()
	}

	return domain.Transaction{
		ID:            defaultString(strings.TrimSpace(req.ID), xid.New("tx")),
		StoreID:       storeID,
		ShiftID:       req.ShiftID,
		Date:          date,
		Items:         items,
		Payments:      payments,
		PaymentMethod: method,
		SubtotalCents: subtotal,
		TaxCents:      req.TaxCents,
		DiscountCents: req.DiscountCents,
		TotalCents:    total,
		Status:        domain.TxStatusCompleted,
	}, nil
}

func lineName(p domain.Product, variantID string) string {
	if variantID == "" {
		return p.Name
	}
	if idx := p.VariantIndex(variantID); idx >= 0 {
		return p.Name + " (" + p.Variants[idx].Name + ")"
	}
	return p.Name
}
