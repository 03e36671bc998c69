package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storefront/internal/broker"
	"storefront/internal/monitor"
	"storefront/pkg/log"
	"storefront/pkg/utils"
)

const contentTypeJSON = "application/json"

// ChannelProvider hands out the shared broker channel. *broker.Manager implements it.
type ChannelProvider interface {
	Channel(ctx context.Context) (broker.Channel, error)
}

// PublishOption adjusts a single Publish call.
type PublishOption func(*publishOptions)

type publishOptions struct {
	occurredAt time.Time
}

// WithOccurredAt stamps the envelope with t instead of the current time.
func WithOccurredAt(t time.Time) PublishOption {
	return func(o *publishOptions) {
		o.occurredAt = t
	}
}

// Option configures a Publisher.
type Option func(*Publisher)

func WithMetrics(m *monitor.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

func WithTracer(t *monitor.Tracer) Option {
	return func(p *Publisher) { p.tracer = t }
}

// WithClock overrides the time source of occurredAt.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// Publisher emits domain events. Publish reports success as a bool and never returns
// broker errors to the caller.
type Publisher struct {
	provider ChannelProvider
	routes   Routes
	metrics  *monitor.Metrics
	tracer   *monitor.Tracer
	now      func() time.Time
}

// NewPublisher creates a publisher for the given event table.
func NewPublisher(provider ChannelProvider, routes Routes, opts ...Option) *Publisher {
	p := &Publisher{
		provider: provider,
		routes:   routes,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Exchanges lists the exchanges this publisher may write to.
func (p *Publisher) Exchanges() []string {
	return p.routes.Exchanges()
}

// Publish sends payload as event. It returns false when the event is unknown, the
// broker is unreachable or the publish fails. Backpressure is logged but still counts as
// success.
func (p *Publisher) Publish(ctx context.Context, event Event, payload interface{}, opts ...PublishOption) (ok bool) {
	logger := log.WithContext(ctx).WithField("event", string(event))

	route, known := p.routes[event]
	if !known {
		logger.Error("Unknown event, not published")
		p.metrics.RecordEventPublish(string(event), "unknown")
		return false
	}

	ctx, span := p.tracer.StartPublishSpan(ctx, route.Exchange, route.RoutingKey)
	defer span.End()
	logger = logger.WithFields(log.Fields{
		"exchange":    route.Exchange,
		"routing_key": route.RoutingKey,
	})

	fail := func(op string, err error) bool {
		monitor.RecordError(span, err)
		logger.WithError(utils.NewPublishError(op, err)).Error("Failed to publish event")
		p.metrics.RecordEventPublish(string(event), "failed")
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			ok = fail("publish", fmt.Errorf("panic: %v", r))
		}
	}()

	o := publishOptions{occurredAt: p.now()}
	for _, opt := range opts {
		opt(&o)
	}

	body, err := json.Marshal(Envelope{
		EventType:  string(event),
		OccurredAt: o.occurredAt.UTC(),
		Payload:    payload,
	})
	if err != nil {
		return fail("encode envelope", err)
	}

	ch, err := p.provider.Channel(ctx)
	if err != nil {
		return fail("get channel", err)
	}

	backpressure, err := ch.Publish(ctx, route.Exchange, route.RoutingKey, broker.Message{
		ContentType: contentTypeJSON,
		Type:        string(event),
		Timestamp:   o.occurredAt,
		Persistent:  true,
		Body:        body,
	})
	if err != nil {
		return fail("publish", err)
	}

	if backpressure {
		logger.Warn("Message broker signalled backpressure, event accepted")
		p.metrics.RecordEventPublish(string(event), "backpressure")
		return true
	}

	logger.Debug("Event published")
	p.metrics.RecordEventPublish(string(event), "published")
	return true
}

// DeclareExchanges returns a channel setup hook declaring every exchange as a durable
// topic exchange.
func DeclareExchanges(exchanges []string) func(broker.Channel) error {
	return func(ch broker.Channel) error {
		for _, name := range exchanges {
			if err := ch.DeclareExchange(name, broker.ExchangeTopic); err != nil {
				return err
			}
		}
		return nil
	}
}
