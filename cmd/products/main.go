package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-cached-orders/internal/config"
	"github.com/ariefcatur/go-cached-orders/internal/eventbus"
	"github.com/ariefcatur/go-cached-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-cached-orders/internal/kafka"
	"github.com/ariefcatur/go-cached-orders/internal/logging"
	"github.com/ariefcatur/go-cached-orders/internal/migrations"
	"github.com/ariefcatur/go-cached-orders/internal/postgres"
	"github.com/ariefcatur/go-cached-orders/internal/products"
	"github.com/ariefcatur/go-cached-orders/internal/redisx"
	"github.com/ariefcatur/go-cached-orders/internal/tracing"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("products")
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
		if err := migrations.Up(cfg.PostgresDSN, "products"); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
	}

	// DB
	db, err := postgres.ConnectSQLX(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis: product cache and dedup markers
	cache, err := redisx.New(cfg.RedisURL)
	if err != nil {
		log.Fatal("redis", zap.Error(err))
	}
	defer cache.Close()
	if err := cache.Ping(ctx); err != nil {
		log.Warn("redis unreachable, serving without cache", zap.Error(err))
	}

	svc := products.NewService(&products.Storage{DB: db}, cache, cache, cfg.CacheTTL, log)

	// Consumer
	events := eventbus.NewRouter()
	svc.Subscribe(events)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers(), cfg.ConsumerGroup, events.Topics(), cfg.ConsumerWorkers, log)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		log.Info("consumer started",
			zap.String("group", cfg.ConsumerGroup),
			zap.Strings("topics", events.Topics()),
			zap.Int("workers", cfg.ConsumerWorkers),
		)
		if err := cons.Start(ctx, events); err != nil {
			log.Error("consumer exit", zap.Error(err))
			stop()
		}
	}()

	router := httpx.NewRouter(log)
	(&httpx.ProductsHandler{Service: svc, Log: log}).Register(router)

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
	select {
	case <-consumed:
	case <-sctx.Done():
		log.Warn("consumer did not drain before timeout")
	}
	if err := shutdownTracing(sctx); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}
}
