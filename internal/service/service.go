package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"dapurpos/backend/internal/cache"
	"dapurpos/backend/internal/domain"
	"dapurpos/backend/internal/inventory"
	"dapurpos/backend/internal/store"
	"dapurpos/backend/internal/xid"
)

var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo        store.Repository
	coordinator *inventory.Coordinator
	reportCache cache.ValuationCache
	cacheTTL    time.Duration
	validate    *validator.Validate
	logger      logrus.FieldLogger
	now         func() time.Time
}

type Option func(*Service)

func WithReportCache(c cache.ValuationCache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil {
			s.reportCache = c
		}
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, coordinator *inventory.Coordinator, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		coordinator: coordinator,
		reportCache: cache.NoopValuationCache{},
		cacheTTL:    time.Minute,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logrus.StandardLogger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	if s.coordinator == nil {
		s.coordinator = inventory.NewCoordinator(repo, nil)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", ErrForbidden)
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("%w: %s role required", ErrForbidden, strings.Join(roles, " or "))
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	return requireRole(ctx, domain.RoleAdmin)
}

func requireStaff(ctx context.Context) (domain.Actor, error) {
	return requireRole(ctx, domain.RoleAdmin, domain.RoleStaff)
}

// check runs struct validation and converts the first failing field into a
// ValidationError.
func (s *Service) check(req any, entityID string) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return domain.NewValidationError("", entityID, err.Error())
	}

	failed := processValidationErrors(fieldErrs)
	fields := make([]string, 0, len(failed))
	for field := range failed {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	first := fields[0]
	return domain.NewValidationError(first, entityID, "failed "+failed[first]+" check")
}

func processValidationErrors(errs validator.ValidationErrors) map[string]string {
	result := make(map[string]string, len(errs))
	for _, fe := range errs {
		result[toSnake(fe.Namespace())] = fe.Tag()
	}
	return result
}

// toSnake turns "PurchaseOrderCreateRequest.Items[0].Qty" into "items[0].qty".
func toSnake(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		namespace = namespace[idx+1:]
	}
	var b strings.Builder
	var prev rune
	for _, r := range namespace {
		if r >= 'A' && r <= 'Z' {
			if (prev >= 'a' && prev <= 'z') || (prev >= '0' && prev <= '9') {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
		} else {
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, domain.NewValidationError("date", date, "expected YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.WithFields(logrus.Fields{
			"action":      action,
			"entity_type": entityType,
			"entity_id":   entityID,
		}).WithError(err).Warn("failed to write audit log")
	}
}
