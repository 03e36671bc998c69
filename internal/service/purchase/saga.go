package purchase

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"storefront/internal/events"
	"storefront/internal/model"
	"storefront/pkg/log"
	"storefront/pkg/utils"
)

type sagaState string

const (
	stateStart           sagaState = "START"
	stateHeaderInserted  sagaState = "HEADER_INSERTED"
	stateLinesInserted   sagaState = "LINES_INSERTED"
	stateStockUpdated    sagaState = "STOCK_UPDATED"
	stateEventsPublished sagaState = "EVENTS_PUBLISHED"
	stateRolledBack      sagaState = "ROLLED_BACK"
)

// stockChange is a decrement already written, kept to undo it.
type stockChange struct {
	stockID  uint64
	quantity int
}

// saga holds the progress of one CreatePurchase call.
type saga struct {
	svc    *purchaseService
	logger *logrus.Entry
	span   oteltrace.Span
	state  sagaState
	userID string

	purchase *model.Purchase
	lines    []model.PurchaseLine
	changes  []stockChange

	eventLines []events.PurchaseLine
	// products in order of first occurrence
	products  []uint64
	byProduct map[uint64]*events.StockUpdatedPayload
}

func newSaga(svc *purchaseService, userID string, logger *logrus.Entry, span oteltrace.Span) *saga {
	return &saga{
		svc:       svc,
		userID:    userID,
		logger:    logger,
		span:      span,
		state:     stateStart,
		byProduct: make(map[uint64]*events.StockUpdatedPayload),
	}
}

func (s *saga) transition(state sagaState, attrs ...attribute.KeyValue) {
	s.state = state
	s.span.AddEvent(string(state), oteltrace.WithAttributes(attrs...))
	s.logger.WithField("state", string(state)).Debug("Purchase saga transition")
}

func (s *saga) execute(ctx context.Context, items []model.PurchaseItem, total decimal.Decimal) (*model.Purchase, error) {
	s.purchase = &model.Purchase{
		UserID: s.userID,
		Total:  total,
	}
	if err := s.svc.purchaseRepo.Create(ctx, s.purchase); err != nil {
		s.logger.WithError(err).Error("Failed to create purchase")
		return nil, utils.NewPersistenceError("failed to create purchase", err)
	}
	s.logger = s.logger.WithField("purchase_id", s.purchase.ID)
	s.transition(stateHeaderInserted, attribute.Int64("purchase_id", int64(s.purchase.ID)))

	s.lines = make([]model.PurchaseLine, 0, len(items))
	for _, item := range items {
		s.lines = append(s.lines, model.PurchaseLine{
			PurchaseID: s.purchase.ID,
			StockID:    item.StockID,
			Quantity:   item.Quantity,
			Subtotal:   item.Subtotal(),
		})
	}
	if err := s.svc.purchaseRepo.CreateLines(ctx, s.lines); err != nil {
		s.logger.WithError(err).Error("Failed to create purchase lines")
		s.compensate(ctx, false)
		return nil, utils.NewPersistenceError("failed to create purchase lines", err)
	}
	s.transition(stateLinesInserted)

	// one at a time so a repeated stock id sees its own earlier decrement
	for _, item := range items {
		if err := s.decrement(ctx, item); err != nil {
			s.logger.WithFields(log.Fields{
				"stock_id": item.StockID,
				"error":    err.Error(),
			}).Error("Failed to update stock")
			s.compensate(ctx, true)
			return nil, utils.NewPersistenceError("failed to update stock", err)
		}
	}

	s.publish(ctx)
	s.transition(stateEventsPublished)

	s.purchase.Lines = s.lines
	s.logger.WithField("total", total.String()).Info("Purchase completed")
	return s.purchase, nil
}

func (s *saga) decrement(ctx context.Context, item model.PurchaseItem) error {
	stock, err := s.svc.stockRepo.GetWithProduct(ctx, item.StockID)
	if err != nil {
		s.svc.metrics.RecordStockDecrement("error")
		return err
	}

	newQuantity := stock.Quantity - item.Quantity
	if err := s.svc.stockRepo.SetQuantity(ctx, stock.ID, newQuantity); err != nil {
		s.svc.metrics.RecordStockDecrement("error")
		return err
	}
	s.svc.metrics.RecordStockDecrement("success")
	s.changes = append(s.changes, stockChange{stockID: stock.ID, quantity: item.Quantity})

	s.eventLines = append(s.eventLines, events.PurchaseLine{
		StockID:  stock.ID,
		Quantity: item.Quantity,
		Price:    item.Price,
		Title:    stock.Title(),
		Subtotal: item.Subtotal(),
	})

	payload, ok := s.byProduct[stock.ProductID]
	if !ok {
		payload = &events.StockUpdatedPayload{
			ProductID:  stock.ProductID,
			PurchaseID: s.purchase.ID,
		}
		s.byProduct[stock.ProductID] = payload
		s.products = append(s.products, stock.ProductID)
	}
	payload.Variants = append(payload.Variants, events.VariantDelta{
		StockID:  stock.ID,
		Size:     stock.Size,
		ColorID:  stock.ColorID,
		Quantity: newQuantity,
		Delta:    -item.Quantity,
	})

	s.transition(stateStockUpdated,
		attribute.Int64("stock_id", int64(stock.ID)),
		attribute.Int("quantity", newQuantity),
	)
	return nil
}

// publish announces the purchase. A failed publish is logged and otherwise ignored: the
// purchase is already committed. Like compensate it ignores cancellation of ctx, so a
// caller that went away after the last stock write still gets its events out.
func (s *saga) publish(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if timeout := s.svc.cfg.PublishTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	created := events.PurchasePayload{
		ID:        s.purchase.ID,
		UserID:    s.purchase.UserID,
		Total:     s.purchase.Total,
		Items:     s.eventLines,
		CreatedAt: s.purchase.CreatedAt,
	}
	completed := created
	completed.Status = events.StatusCompleted

	s.emit(ctx, events.PurchaseCreated, created)
	s.emit(ctx, events.PurchaseCompleted, completed)
	for _, productID := range s.products {
		s.emit(ctx, events.StockUpdated, s.byProduct[productID])
	}
}

func (s *saga) emit(ctx context.Context, event events.Event, payload interface{}) {
	if !s.svc.publisher.Publish(ctx, event, payload) {
		s.logger.WithField("event", string(event)).Warn("Purchase event not published")
	}
}

// compensate removes what the saga wrote. It ignores cancellation of ctx so a caller
// timeout cannot leave a header without lines behind.
func (s *saga) compensate(ctx context.Context, linesInserted bool) {
	ctx = context.WithoutCancel(ctx)
	if timeout := s.svc.cfg.CompensationTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if s.svc.cfg.RevertStockOnFailure {
		for i := len(s.changes) - 1; i >= 0; i-- {
			change := s.changes[i]
			if err := s.svc.stockRepo.Restock(ctx, change.stockID, change.quantity); err != nil {
				s.logger.WithFields(log.Fields{
					"stock_id": change.stockID,
					"error":    err.Error(),
				}).Error("Failed to restore stock")
			}
		}
	}

	if linesInserted {
		if err := s.svc.purchaseRepo.DeleteLines(ctx, s.purchase.ID); err != nil {
			s.logger.WithError(err).Error("Failed to delete purchase lines")
		}
	}
	if err := s.svc.purchaseRepo.Delete(ctx, s.purchase.ID); err != nil {
		s.logger.WithError(err).Error("Failed to delete purchase")
	}

	s.transition(stateRolledBack)
	s.logger.WithField("stock_changes_kept", !s.svc.cfg.RevertStockOnFailure && len(s.changes) > 0).
		Warn("Purchase rolled back")
}
