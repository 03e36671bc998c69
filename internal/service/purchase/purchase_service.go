package purchase

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"storefront/internal/config"
	"storefront/internal/events"
	"storefront/internal/model"
	"storefront/internal/monitor"
	"storefront/internal/repository"
	"storefront/pkg/log"
	"storefront/pkg/utils"
)

// EventPublisher emits domain events. *events.Publisher implements it.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event, payload interface{}, opts ...events.PublishOption) bool
}

// PurchaseService purchase service interface
type PurchaseService interface {
	// CreatePurchase records a purchase, decrements stock for every item and announces
	// the result. On failure the purchase rows are removed again.
	CreatePurchase(ctx context.Context, userID string, items []model.PurchaseItem, total decimal.Decimal) (*model.Purchase, error)

	// GetPurchaseHistory lists a user's purchases, newest first.
	GetPurchaseHistory(ctx context.Context, userID string) ([]*model.Purchase, error)
}

// Option configures the purchase service.
type Option func(*purchaseService)

func WithMetrics(m *monitor.Metrics) Option {
	return func(s *purchaseService) { s.metrics = m }
}

func WithTracer(t *monitor.Tracer) Option {
	return func(s *purchaseService) { s.tracer = t }
}

type purchaseService struct {
	purchaseRepo repository.PurchaseRepository
	stockRepo    repository.StockRepository
	publisher    EventPublisher
	cfg          config.PurchaseConfig
	metrics      *monitor.Metrics
	tracer       *monitor.Tracer
}

// NewPurchaseService creates a purchase service
func NewPurchaseService(
	purchaseRepo repository.PurchaseRepository,
	stockRepo repository.StockRepository,
	publisher EventPublisher,
	cfg config.PurchaseConfig,
	opts ...Option,
) PurchaseService {
	s := &purchaseService{
		purchaseRepo: purchaseRepo,
		stockRepo:    stockRepo,
		publisher:    publisher,
		cfg:          cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePurchase runs the purchase saga.
//
// Stock rows are read and written back without a version check, so two purchases of the
// same variant racing each other can lose a decrement. total is stored as given.
func (s *purchaseService) CreatePurchase(ctx context.Context, userID string, items []model.PurchaseItem, total decimal.Decimal) (*model.Purchase, error) {
	if err := validatePurchase(userID, items); err != nil {
		return nil, err
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	ctx, span := s.tracer.StartSpan(ctx, "purchase.create",
		attribute.String("user_id", userID),
		attribute.Int("items", len(items)),
	)
	defer span.End()

	start := time.Now()
	run := newSaga(s, userID, log.WithContext(ctx).WithField("user_id", userID), span)
	purchase, err := run.execute(ctx, items, total)

	outcome := "completed"
	switch {
	case err == nil:
	case run.state == stateRolledBack:
		outcome = "rolled_back"
	default:
		outcome = "failed"
	}
	s.metrics.RecordPurchaseSaga(outcome, time.Since(start))

	if err != nil {
		monitor.RecordError(span, err)
		return nil, err
	}
	return purchase, nil
}

// GetPurchaseHistory returns the user's purchases with lines, stock, product and images.
func (s *purchaseService) GetPurchaseHistory(ctx context.Context, userID string) ([]*model.Purchase, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, utils.NewValidationError("user id is required")
	}

	purchases, err := s.purchaseRepo.ListByUser(ctx, userID)
	if err != nil {
		log.WithContext(ctx).WithFields(log.Fields{
			"user_id": userID,
			"error":   err.Error(),
		}).Error("Failed to list purchases")
		return nil, utils.NewPersistenceError("failed to list purchases", err)
	}
	return purchases, nil
}

func validatePurchase(userID string, items []model.PurchaseItem) error {
	if strings.TrimSpace(userID) == "" {
		return utils.NewValidationError("user id is required")
	}
	if len(items) == 0 {
		return utils.NewValidationError("at least one item is required")
	}
	for i, item := range items {
		if item.StockID == 0 {
			return utils.NewValidationError("item %d: stock id is required", i)
		}
		if item.Quantity <= 0 {
			return utils.NewValidationError("item %d: quantity must be positive", i)
		}
	}
	return nil
}
