package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"storefront/internal/broker"
	"storefront/internal/config"
	"storefront/internal/model"
	"storefront/internal/monitor"
)

type stubPurchaseService struct{}

func (stubPurchaseService) CreatePurchase(ctx context.Context, userID string, items []model.PurchaseItem, total decimal.Decimal) (*model.Purchase, error) {
	return &model.Purchase{ID: 1, UserID: userID, Total: total}, nil
}

func (stubPurchaseService) GetPurchaseHistory(ctx context.Context, userID string) ([]*model.Purchase, error) {
	return []*model.Purchase{}, nil
}

func testRouter(t *testing.T, mutate func(cfg *config.Config)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Metrics.Enabled = true
	if mutate != nil {
		mutate(cfg)
	}

	registry := prometheus.NewRegistry()
	b := broker.NewMemoryBroker(1)
	t.Cleanup(func() { _ = b.Close() })

	return setupRouter(cfg, routerDeps{
		purchaseService: stubPurchaseService{},
		pingDB:          func(ctx context.Context) error { return nil },
		broker:          broker.NewManager(b),
		metrics:         monitor.NewMetrics(registry),
		registry:        registry,
	})
}

func TestRouterRoutes(t *testing.T) {
	router := testRouter(t, nil)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/ping", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/api/v1/users/user-1/purchases", "", http.StatusOK},
		{http.MethodPost, "/api/v1/purchases", `{"user_id":"u","items":[{"stock_id":1,"quantity":1,"price":1}],"total":1}`, http.StatusOK},
		{http.MethodGet, "/api/v1/unknown", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}

func TestRouterRateLimitsPurchases(t *testing.T) {
	router := testRouter(t, func(cfg *config.Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.RPS = 1
		cfg.RateLimit.Burst = 1
	})

	post := func() int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases",
			bytes.NewBufferString(`{"user_id":"u","items":[{"stock_id":1,"quantity":1}],"total":1}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusTooManyRequests, post())

	// history reads are not limited
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/users/u/purchases", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewDialer(t *testing.T) {
	d, closeFn := newDialer(config.BrokerConfig{Driver: "memory", BufferSize: 4})
	defer closeFn()
	assert.IsType(t, &broker.MemoryBroker{}, d)

	d, closeFn = newDialer(config.BrokerConfig{Driver: "amqp", URL: "amqp://localhost/"})
	defer closeFn()
	assert.IsType(t, &broker.AMQPDialer{}, d)
}
