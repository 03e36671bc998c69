// Package events defines the domain events the service emits and publishes them to the
// message broker.
package events

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/config"
)

// Event is a logical event name. It doubles as the routing key.
type Event string

const (
	PurchaseCreated   Event = "purchase.created"
	PurchaseCompleted Event = "purchase.completed"
	StockUpdated      Event = "stock.updated"
	ItemCreated       Event = "item.created"
	ItemUpdated       Event = "item.updated"
	ItemDeleted       Event = "item.deleted"
)

// Route is where an event is published.
type Route struct {
	Exchange   string
	RoutingKey string
}

// Routes is the fixed event table. Events missing from it are never published.
type Routes map[Event]Route

// DefaultRoutes uses the stock exchange names.
func DefaultRoutes() Routes {
	return RoutesFromConfig(config.ExchangeConfig{
		Purchase: "purchases",
		Stock:    "stock",
		Items:    "items",
	})
}

// RoutesFromConfig builds the table with the configured exchange names.
func RoutesFromConfig(cfg config.ExchangeConfig) Routes {
	route := func(exchange string, event Event) Route {
		return Route{Exchange: exchange, RoutingKey: string(event)}
	}
	return Routes{
		PurchaseCreated:   route(cfg.Purchase, PurchaseCreated),
		PurchaseCompleted: route(cfg.Purchase, PurchaseCompleted),
		StockUpdated:      route(cfg.Stock, StockUpdated),
		ItemCreated:       route(cfg.Items, ItemCreated),
		ItemUpdated:       route(cfg.Items, ItemUpdated),
		ItemDeleted:       route(cfg.Items, ItemDeleted),
	}
}

// Exchanges returns the distinct exchanges of the table, sorted.
func (r Routes) Exchanges() []string {
	seen := make(map[string]struct{}, len(r))
	out := make([]string, 0, len(r))
	for _, route := range r {
		if _, ok := seen[route.Exchange]; ok {
			continue
		}
		seen[route.Exchange] = struct{}{}
		out = append(out, route.Exchange)
	}
	sort.Strings(out)
	return out
}

// Envelope is the wire format of every event.
type Envelope struct {
	EventType  string      `json:"eventType"`
	OccurredAt time.Time   `json:"occurredAt"`
	Payload    interface{} `json:"payload"`
}

// PurchaseLine is one enriched line of a purchase event.
type PurchaseLine struct {
	StockID  uint64          `json:"stockId"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Title    string          `json:"title"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// PurchasePayload is carried by purchase.created and purchase.completed.
type PurchasePayload struct {
	ID        uint64          `json:"id"`
	UserID    string          `json:"userId"`
	Total     decimal.Decimal `json:"total"`
	Items     []PurchaseLine  `json:"items"`
	CreatedAt time.Time       `json:"createdAt"`
	Status    string          `json:"status,omitempty"`
}

// StatusCompleted marks a purchase.completed payload.
const StatusCompleted = "COMPLETED"

// VariantDelta is the change applied to one stock row.
type VariantDelta struct {
	StockID  uint64 `json:"stockId"`
	Size     string `json:"size"`
	ColorID  uint64 `json:"colorId"`
	Quantity int    `json:"quantity"`
	Delta    int    `json:"delta"`
}

// StockUpdatedPayload groups the deltas of one product within one purchase.
type StockUpdatedPayload struct {
	ProductID  uint64         `json:"productId"`
	PurchaseID uint64         `json:"purchaseId"`
	Variants   []VariantDelta `json:"variants"`
}
