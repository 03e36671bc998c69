package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storefront/internal/broker"
	"storefront/internal/config"
	"storefront/internal/handler"
	"storefront/internal/middleware"
	"storefront/internal/monitor"
	"storefront/internal/service/purchase"
)

type routerDeps struct {
	purchaseService purchase.PurchaseService
	pingDB          func(ctx context.Context) error
	broker          interface{ State() broker.State }
	metrics         *monitor.Metrics
	registry        *prometheus.Registry
	tracer          *monitor.Tracer
}

func setupRouter(cfg *config.Config, deps routerDeps) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Tracing(deps.tracer))
	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.Metrics(deps.metrics))

	healthHandler := handler.NewHealthHandler(deps.pingDB, deps.broker)
	router.GET("/health", healthHandler.Health)
	router.GET("/ping", healthHandler.Ping)

	if cfg.Metrics.Enabled && deps.registry != nil {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{})))
	}

	purchaseHandler := handler.NewPurchaseHandler(deps.purchaseService)

	v1 := router.Group("/api/v1")
	{
		purchases := v1.Group("/purchases")
		if cfg.RateLimit.Enabled {
			purchases.Use(middleware.IPRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
		purchases.POST("", purchaseHandler.CreatePurchase)

		v1.GET("/users/:user_id/purchases", purchaseHandler.ListPurchases)
	}

	return router
}
