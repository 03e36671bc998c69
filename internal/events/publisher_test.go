package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/broker"
	"storefront/internal/config"
	"storefront/internal/monitor"
)

type countingProvider struct {
	calls int
	ch    broker.Channel
	err   error
}

func (p *countingProvider) Channel(ctx context.Context) (broker.Channel, error) {
	p.calls++
	return p.ch, p.err
}

type panickingChannel struct{}

func (panickingChannel) DeclareExchange(name, kind string) error { return nil }

func (panickingChannel) Publish(ctx context.Context, exchange, routingKey string, msg broker.Message) (bool, error) {
	panic("transport exploded")
}

func (panickingChannel) Close() error { return nil }

func setupPublisher(t *testing.T, opts ...Option) (*Publisher, *broker.MemoryBroker, *broker.Manager) {
	t.Helper()
	b := newTestBroker(t)
	routes := DefaultRoutes()
	m := broker.NewManager(b, broker.WithSetup(DeclareExchanges(routes.Exchanges())))
	t.Cleanup(func() { _ = m.Close() })
	return NewPublisher(m, routes, opts...), b, m
}

func newTestBroker(t *testing.T) *broker.MemoryBroker {
	t.Helper()
	b := broker.NewMemoryBroker(16)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func receive(t *testing.T, q <-chan broker.Delivery) broker.Delivery {
	t.Helper()
	select {
	case d := <-q:
		return d
	case <-time.After(time.Second):
		t.Fatal("no delivery")
		return broker.Delivery{}
	}
}

func TestRoutes(t *testing.T) {
	routes := RoutesFromConfig(config.ExchangeConfig{Purchase: "orders", Stock: "inventory", Items: "catalog"})

	assert.Equal(t, Route{Exchange: "orders", RoutingKey: "purchase.created"}, routes[PurchaseCreated])
	assert.Equal(t, Route{Exchange: "orders", RoutingKey: "purchase.completed"}, routes[PurchaseCompleted])
	assert.Equal(t, Route{Exchange: "inventory", RoutingKey: "stock.updated"}, routes[StockUpdated])
	assert.Equal(t, Route{Exchange: "catalog", RoutingKey: "item.deleted"}, routes[ItemDeleted])
	assert.Equal(t, []string{"catalog", "inventory", "orders"}, routes.Exchanges())

	assert.Equal(t, []string{"items", "purchases", "stock"}, DefaultRoutes().Exchanges())
}

func TestPublishEnvelope(t *testing.T) {
	p, b, _ := setupPublisher(t)
	q := b.Bind("purchases", "purchase.*")

	payload := PurchasePayload{
		ID:     7,
		UserID: "user-1",
		Total:  decimal.NewFromInt(25),
		Items: []PurchaseLine{
			{StockID: 1, Quantity: 2, Price: decimal.NewFromInt(10), Title: "Shirt", Subtotal: decimal.NewFromInt(20)},
		},
		Status: StatusCompleted,
	}
	require.True(t, p.Publish(context.Background(), PurchaseCompleted, payload))

	d := receive(t, q)
	assert.Equal(t, "purchases", d.Exchange)
	assert.Equal(t, "purchase.completed", d.RoutingKey)
	assert.Equal(t, "application/json", d.ContentType)
	assert.True(t, d.Persistent)

	var env struct {
		EventType  string          `json:"eventType"`
		OccurredAt time.Time       `json:"occurredAt"`
		Payload    json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(d.Body, &env))
	assert.Equal(t, "purchase.completed", env.EventType)
	assert.WithinDuration(t, time.Now(), env.OccurredAt, 5*time.Second)
	assert.JSONEq(t, `{
		"id": 7,
		"userId": "user-1",
		"total": "25",
		"items": [{"stockId": 1, "quantity": 2, "price": "10", "title": "Shirt", "subtotal": "20"}],
		"createdAt": "0001-01-01T00:00:00Z",
		"status": "COMPLETED"
	}`, string(env.Payload))
}

func TestPublishWithOccurredAt(t *testing.T) {
	p, b, _ := setupPublisher(t)
	q := b.Bind("items", "#")

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.True(t, p.Publish(context.Background(), ItemCreated, map[string]string{"id": "42"}, WithOccurredAt(at)))

	d := receive(t, q)
	var env Envelope
	require.NoError(t, json.Unmarshal(d.Body, &env))
	assert.True(t, at.Equal(env.OccurredAt))
	assert.Equal(t, "item.created", d.RoutingKey)
}

func TestPublishUnknownEvent(t *testing.T) {
	provider := &countingProvider{}
	p := NewPublisher(provider, DefaultRoutes())

	assert.False(t, p.Publish(context.Background(), Event("cart.abandoned"), nil))
	assert.Equal(t, 0, provider.calls)
}

func TestPublishFailures(t *testing.T) {
	t.Run("BrokerUnreachable", func(t *testing.T) {
		p, b, m := setupPublisher(t)
		b.FailDials(errors.New("connection refused"))

		assert.False(t, p.Publish(context.Background(), StockUpdated, StockUpdatedPayload{ProductID: 1}))
		assert.Equal(t, broker.StateDisconnected, m.State())
	})

	t.Run("ChannelError", func(t *testing.T) {
		provider := &countingProvider{err: broker.ErrManagerClosed}
		p := NewPublisher(provider, DefaultRoutes())
		assert.False(t, p.Publish(context.Background(), PurchaseCreated, PurchasePayload{}))
		assert.Equal(t, 1, provider.calls)
	})

	t.Run("UnencodablePayload", func(t *testing.T) {
		provider := &countingProvider{}
		p := NewPublisher(provider, DefaultRoutes())
		assert.False(t, p.Publish(context.Background(), ItemUpdated, make(chan int)))
		assert.Equal(t, 0, provider.calls)
	})

	t.Run("TransportPanics", func(t *testing.T) {
		p := NewPublisher(&countingProvider{ch: panickingChannel{}}, DefaultRoutes())
		assert.NotPanics(t, func() {
			assert.False(t, p.Publish(context.Background(), ItemDeleted, nil))
		})
	})

	t.Run("ConnectionDropped", func(t *testing.T) {
		p, b, m := setupPublisher(t)
		require.True(t, p.Publish(context.Background(), PurchaseCreated, PurchasePayload{}))

		b.Sever(errors.New("broker restarted"))
		require.Eventually(t, func() bool {
			return m.State() == broker.StateDisconnected
		}, time.Second, 5*time.Millisecond)

		// the next publish re-dials
		assert.True(t, p.Publish(context.Background(), PurchaseCreated, PurchasePayload{}))
		assert.Equal(t, 2, b.Dials())
	})
}

func TestPublishBackpressure(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := monitor.NewMetrics(reg)
	p, b, _ := setupPublisher(t, WithMetrics(metrics))

	b.SetBlocked(true)
	assert.True(t, p.Publish(context.Background(), StockUpdated, StockUpdatedPayload{ProductID: 3}))
	b.SetBlocked(false)
	assert.True(t, p.Publish(context.Background(), StockUpdated, StockUpdatedPayload{ProductID: 3}))

	// one series for "backpressure", one for "published"
	count, err := testutil.GatherAndCount(reg, "storefront_event_publish_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDeclareExchanges(t *testing.T) {
	b := newTestBroker(t)
	conn, err := b.Dial(context.Background())
	require.NoError(t, err)
	ch, err := conn.Channel()
	require.NoError(t, err)

	require.NoError(t, DeclareExchanges([]string{"purchases", "stock"})(ch))
	assert.Equal(t, map[string]string{"purchases": "topic", "stock": "topic"}, b.Exchanges())

	require.NoError(t, ch.Close())
	assert.Error(t, DeclareExchanges([]string{"items"})(ch))
}
