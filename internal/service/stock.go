package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"posgo/backend/internal/domain"
	"posgo/backend/internal/store"
	"posgo/backend/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context, storeID string) ([]domain.Product, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx, storeID)
	if err != nil {
		return nil, wrapStep("list_products", "load products", err)
	}
	return products, nil
}

func (s *Service) GetProduct(ctx context.Context, storeID string, productID string) (domain.Product, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.Product{}, err
	}
	if err := requireID("product_id", productID); err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, storeID, productID)
	if err != nil {
		return domain.Product{}, wrapStep("get_product", "load product", err)
	}
	return *product, nil
}

// UpsertProduct creates or replaces a catalog entry. When variants are given
// the top-level stock is derived from them and the request's stock is ignored.
func (s *Service) UpsertProduct(ctx context.Context, storeID string, req domain.ProductUpsertRequest) (domain.Product, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.Product{}, err
	}
	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validateStruct(req); err != nil {
		return domain.Product{}, err
	}

	seen := make(map[string]struct{}, len(req.Variants))
	for _, v := range req.Variants {
		if _, dup := seen[v.ID]; dup {
			return domain.Product{}, invalid("duplicate variant id %q", v.ID)
		}
		seen[v.ID] = struct{}{}
	}

	product := domain.Product{
		ID:         defaultString(req.ID, xid.New("prod")),
		StoreID:    storeID,
		Name:       req.Name,
		Category:   strings.TrimSpace(req.Category),
		Barcode:    strings.TrimSpace(req.Barcode),
		PriceCents: req.PriceCents,
		CostCents:  req.CostCents,
		Stock:      req.Stock,
		UpdatedAt:  s.now(),
	}
	for _, v := range req.Variants {
		product.Variants = append(product.Variants, domain.ProductVariant{
			ID:         v.ID,
			Name:       strings.TrimSpace(v.Name),
			PriceCents: v.PriceCents,
			Stock:      v.Stock,
		})
	}
	recomputeVariantStock(&product)

	saved, err := s.repo.UpsertProduct(ctx, product)
	if err != nil {
		return domain.Product{}, wrapStep("upsert_product", "save product", err)
	}
	s.logAudit(ctx, s.repo, storeID, "product_upsert", "product", saved.ID,
		fmt.Sprintf("name=%s,price=%s,stock=%d", saved.Name, formatCents(saved.PriceCents), saved.Stock))
	return *saved, nil
}

// AdjustStock applies a signed delta to a product or one of its variants in
// its own unit of work.
func (s *Service) AdjustStock(ctx context.Context, storeID string, adj domain.StockAdjustment) (domain.StockAdjustmentResult, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.StockAdjustmentResult{}, err
	}
	if err := s.validateStruct(adj); err != nil {
		return domain.StockAdjustmentResult{}, err
	}

	var result domain.StockAdjustmentResult
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Repository) error {
		var err error
		result, err = s.adjustStock(ctx, tx, storeID, adj, false)
		if err != nil {
			return err
		}
		s.logAudit(ctx, tx, storeID, "stock_adjust", "product", adj.ProductID,
			fmt.Sprintf("variant=%s,delta=%d,stock=%d", adj.VariantID, adj.Delta, result.Product.Stock))
		return nil
	})
	if err != nil {
		return domain.StockAdjustmentResult{}, err
	}
	return result, nil
}

// SetPriceAndCost rolls a new sell price and unit cost forward without
// touching stock. A nil value leaves the field as it is.
func (s *Service) SetPriceAndCost(ctx context.Context, storeID string, productID string, variantID string, priceCents *int64, costCents *int64) (domain.Product, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return domain.Product{}, err
	}
	if err := requireID("product_id", productID); err != nil {
		return domain.Product{}, err
	}
	if (priceCents != nil && *priceCents < 0) || (costCents != nil && *costCents < 0) {
		return domain.Product{}, invalid("price and cost must be >= 0")
	}

	var out domain.Product
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Repository) error {
		product, err := tx.GetProduct(ctx, storeID, productID)
		if err != nil {
			return wrapStep("set_price_cost", "load product", err)
		}
		p := *product
		if err := applyPriceAndCost(&p, variantID, priceCents, costCents); err != nil {
			return err
		}
		p.UpdatedAt = s.now()
		saved, err := tx.UpsertProduct(ctx, p)
		if err != nil {
			return wrapStep("set_price_cost", "save product", err)
		}
		out = *saved
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return out, nil
}

// adjustStock is the read-modify-write core shared by every engine. The
// product is re-read through tx so the delta applies to the latest persisted
// value.
//
// reversal marks deltas that undo an earlier sale or reception. When such a
// line has no variant but the product gained variants since, the delta goes
// to the first variant so the variant sum stays equal to the product stock.
func (s *Service) adjustStock(ctx context.Context, tx store.Repository, storeID string, adj domain.StockAdjustment, reversal bool) (domain.StockAdjustmentResult, error) {
	product, err := tx.GetProduct(ctx, storeID, adj.ProductID)
	if err != nil {
		return domain.StockAdjustmentResult{}, wrapStep("adjust_stock", "load product "+adj.ProductID, err)
	}
	p := *product
	requested := 0
	clamped := false
	defaultVariant := ""

	if adj.VariantID == "" && len(p.Variants) > 0 && reversal {
		adj.VariantID = p.Variants[0].ID
		defaultVariant = adj.VariantID
	}

	if adj.VariantID != "" {
		idx := p.VariantIndex(adj.VariantID)
		if idx < 0 {
			price := p.PriceCents
			if adj.PriceOverrideCents != nil {
				price = *adj.PriceOverrideCents
			}
			p.Variants = append(p.Variants, domain.ProductVariant{
				ID:         adj.VariantID,
				Name:       defaultString(strings.TrimSpace(adj.VariantName), adj.VariantID),
				PriceCents: price,
			})
			idx = len(p.Variants) - 1
		} else if adj.PriceOverrideCents != nil {
			p.Variants[idx].PriceCents = *adj.PriceOverrideCents
		}
		requested = p.Variants[idx].Stock + adj.Delta
		p.Variants[idx].Stock, clamped = clampStock(requested)
		recomputeVariantStock(&p)
	} else {
		if len(p.Variants) > 0 {
			return domain.StockAdjustmentResult{}, invalid("product %s has variants; variant_id is required", p.ID)
		}
		if adj.PriceOverrideCents != nil {
			p.PriceCents = *adj.PriceOverrideCents
		}
		requested = p.Stock + adj.Delta
		p.Stock, clamped = clampStock(requested)
	}
	if adj.CostOverrideCents != nil {
		p.CostCents = *adj.CostOverrideCents
	}
	p.UpdatedAt = s.now()

	saved, err := tx.UpsertProduct(ctx, p)
	if err != nil {
		return domain.StockAdjustmentResult{}, wrapStep("adjust_stock", "save product "+adj.ProductID, err)
	}

	if clamped {
		s.logger.Warn("stock clamped at zero",
			zap.String("store_id", storeID),
			zap.String("product_id", adj.ProductID),
			zap.String("variant_id", adj.VariantID),
			zap.Int("delta", adj.Delta),
			zap.Int("requested", requested),
		)
		s.metrics.StockClamped(storeID)
		s.logAudit(ctx, tx, storeID, "stock_clamp", "product", adj.ProductID,
			fmt.Sprintf("variant=%s,delta=%d,requested=%d", adj.VariantID, adj.Delta, requested))
	}

	if defaultVariant != "" {
		s.logger.Warn("variant-less reversal applied to default variant",
			zap.String("store_id", storeID),
			zap.String("product_id", adj.ProductID),
			zap.String("variant_id", defaultVariant),
			zap.Int("delta", adj.Delta),
		)
		s.logAudit(ctx, tx, storeID, "stock_default_variant", "product", adj.ProductID,
			fmt.Sprintf("variant=%s,delta=%d", defaultVariant, adj.Delta))
	}

	return domain.StockAdjustmentResult{Product: *saved, Clamped: clamped, DefaultVariantID: defaultVariant}, nil
}

func applyPriceAndCost(p *domain.Product, variantID string, priceCents *int64, costCents *int64) error {
	if priceCents != nil {
		if variantID != "" {
			idx := p.VariantIndex(variantID)
			if idx < 0 {
				return fmt.Errorf("%w: variant %s on product %s", store.ErrNotFound, variantID, p.ID)
			}
			p.Variants[idx].PriceCents = *priceCents
		} else {
			p.PriceCents = *priceCents
		}
	}
	if costCents != nil {
		p.CostCents = *costCents
	}
	return nil
}

func clampStock(requested int) (int, bool) {
	if requested < 0 {
		return 0, true
	}
	return requested, false
}

func recomputeVariantStock(p *domain.Product) {
	if len(p.Variants) == 0 {
		return
	}
	total := 0
	for _, v := range p.Variants {
		total += v.Stock
	}
	p.Stock = total
	p.HasVariants = true
}
