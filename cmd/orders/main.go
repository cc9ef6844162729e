package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-cached-orders/internal/config"
	"github.com/ariefcatur/go-cached-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-cached-orders/internal/kafka"
	"github.com/ariefcatur/go-cached-orders/internal/logging"
	"github.com/ariefcatur/go-cached-orders/internal/migrations"
	"github.com/ariefcatur/go-cached-orders/internal/orders"
	"github.com/ariefcatur/go-cached-orders/internal/postgres"
	"github.com/ariefcatur/go-cached-orders/internal/redisx"
	"github.com/ariefcatur/go-cached-orders/internal/tracing"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("orders")
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.ServiceName, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal("tracing init", zap.Error(err))
	}

	if cfg.MigrateOnStart {
		if err := migrations.Up(cfg.PostgresDSN, "orders"); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	cache, err := redisx.New(cfg.RedisURL)
	if err != nil {
		log.Fatal("redis", zap.Error(err))
	}
	defer cache.Close()
	if err := cache.Ping(ctx); err != nil {
		log.Warn("redis unreachable, serving without cache", zap.Error(err))
	}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers(), log)

	svc := orders.NewService(&orders.Repo{DB: db}, cache, prod, cfg.ServiceName, cfg.CacheTTL, log)
	router := httpx.NewRouter(log)
	(&httpx.OrdersHandler{Service: svc, Log: log}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := prod.Close(); err != nil {
		log.Warn("kafka producer close", zap.Error(err))
	}
	if err := shutdownTracing(sctx); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}
}
