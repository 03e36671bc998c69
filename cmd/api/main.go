package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"storefront/internal/broker"
	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/events"
	"storefront/internal/monitor"
	"storefront/internal/repository"
	"storefront/internal/service/purchase"
	"storefront/pkg/log"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}

	if err := log.Init(logConfig(cfg.Log)); err != nil {
		log.WithError(err).Fatal("Failed to initialize logger")
	}

	config.WatchConfig(func(newCfg *config.Config) {
		if level, err := logrus.ParseLevel(newCfg.Log.Level); err == nil {
			log.GetLogger().SetLevel(level)
			log.WithField("level", level.String()).Info("Log level reloaded")
		}
	}, func(err error) {
		log.WithError(err).Warn("Ignoring invalid config change")
	})

	tracer, err := monitor.NewTracer(&monitor.TracerConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Tracing.Environment,
		JaegerEndpoint: cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize tracer")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitor.NewMetrics(registry)

	db, err := database.Open(cfg.Database, cfg.Log.Level)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	if cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(db); err != nil {
			log.WithError(err).Fatal("Failed to migrate database")
		}
	} else {
		database.CheckTables(db)
	}

	dialer, closeDialer := newDialer(cfg.Broker)
	routes := events.RoutesFromConfig(cfg.Broker.Exchanges)
	manager := broker.NewManager(dialer,
		broker.WithSetup(events.DeclareExchanges(routes.Exchanges())),
		broker.WithDialTimeout(cfg.Broker.DialTimeout),
		broker.WithMetrics(metrics),
	)
	publisher := events.NewPublisher(manager, routes,
		events.WithMetrics(metrics),
		events.WithTracer(tracer),
	)

	purchaseService := purchase.NewPurchaseService(
		repository.NewPurchaseRepository(db),
		repository.NewStockRepository(db),
		publisher,
		cfg.Purchase,
		purchase.WithMetrics(metrics),
		purchase.WithTracer(tracer),
	)

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := setupRouter(cfg, routerDeps{
		purchaseService: purchaseService,
		pingDB:          func(ctx context.Context) error { return database.Health(ctx, db) },
		broker:          manager,
		metrics:         metrics,
		registry:        registry,
		tracer:          tracer,
	})

	server := &http.Server{
		Addr:           cfg.Server.GetAddr(),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		log.WithFields(log.Fields{
			"addr":          server.Addr,
			"mode":          cfg.Server.Mode,
			"broker_driver": cfg.Broker.Driver,
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	if err := manager.Close(); err != nil {
		log.WithError(err).Warn("Failed to close message broker connection")
	}
	closeDialer()
	if err := database.Close(db); err != nil {
		log.WithError(err).Warn("Failed to close database")
	}
	if err := tracer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Failed to flush traces")
	}

	log.Info("Server exited")
}

// newDialer picks the broker transport. The memory driver keeps events in process.
func newDialer(cfg config.BrokerConfig) (broker.Dialer, func()) {
	switch cfg.Driver {
	case "memory":
		b := broker.NewMemoryBroker(cfg.BufferSize)
		return b, func() { _ = b.Close() }
	default:
		return broker.NewAMQPDialer(cfg.URL, cfg.Heartbeat), func() {}
	}
}

func logConfig(cfg config.LogConfig) log.Config {
	return log.Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
}
