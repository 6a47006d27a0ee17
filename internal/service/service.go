package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"posgo/backend/internal/cache"
	"posgo/backend/internal/domain"
	"posgo/backend/internal/metrics"
	"posgo/backend/internal/store"
	"posgo/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo       store.Repository
	summaries  cache.ShiftSummaryCache
	summaryTTL time.Duration
	metrics    *metrics.Recorder
	logger     *zap.Logger
	validate   *validator.Validate
	now        func() time.Time
}

// New wires the ledger core. summaries, recorder and logger may be nil.
func New(repo store.Repository, summaries cache.ShiftSummaryCache, summaryTTL time.Duration, recorder *metrics.Recorder, logger *zap.Logger) *Service {
	if summaries == nil {
		summaries = cache.NoopShiftSummaryCache{}
	}
	if summaryTTL <= 0 {
		summaryTTL = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:       repo,
		summaries:  summaries,
		summaryTTL: summaryTTL,
		metrics:    recorder,
		logger:     logger.Named("service"),
		validate:   newValidator(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, limit int) ([]domain.AuditLog, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	logs, err := s.repo.ListAuditLogs(ctx, storeID, limit)
	if err != nil {
		return nil, wrapStep("list_audit_logs", "load audit logs", err)
	}
	return logs, nil
}

// logAudit writes through repo so entries recorded inside a unit of work
// commit or roll back with it. Failures are logged, never returned.
func (s *Service) logAudit(ctx context.Context, repo store.Repository, storeID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Error("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

// invalidateSummary bumps the cached drawer count's generation. Call it after
// the unit of work has committed.
func (s *Service) invalidateSummary(ctx context.Context, storeID string, shiftID string) {
	if shiftID == "" {
		return
	}
	if err := s.summaries.Invalidate(ctx, cache.ShiftSummaryKey(storeID, shiftID)); err != nil {
		s.logger.Warn("failed to invalidate shift summary",
			zap.String("store_id", storeID),
			zap.String("shift_id", shiftID),
			zap.Error(err),
		)
	}
}

func ValidateStoreID(storeID string) error {
	if strings.TrimSpace(storeID) == "" {
		return invalid("store_id is required")
	}
	return nil
}

func requireID(name string, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("%s is required", name)
	}
	return nil
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
