package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-preorders/internal/auth"
	"github.com/ariefcatur/go-preorders/internal/config"
	"github.com/ariefcatur/go-preorders/internal/httpx"
	kafkax "github.com/ariefcatur/go-preorders/internal/kafka"
	"github.com/ariefcatur/go-preorders/internal/logging"
	"github.com/ariefcatur/go-preorders/internal/postgres"
	"github.com/ariefcatur/go-preorders/internal/preorders"
	"github.com/ariefcatur/go-preorders/internal/redisx"
	"github.com/ariefcatur/go-preorders/internal/telemetry"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatal("timezone", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		log.Error("tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresConns)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if cfg.MigrateOnStart {
		applied, err := postgres.Migrate(ctx, db, "up")
		if err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
		log.Info("migrations applied", zap.Strings("files", applied))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log.Named("producer"))
	prod.Start(ctx)

	svc := preorders.NewService(db, loc, cfg.MaxPerDay, prod, log.Named("preorders"), cfg.ServiceName)
	router := httpx.NewRouter(log.Named("http"), cfg.RequestTimeout)
	ph := &httpx.PreordersHandler{
		Service: svc,
		Cache:   redisx.NewCache(rdb),
		Tokens:  auth.NewAuthenticator(cfg.JWTSecret),
		Log:     log.Named("http"),
	}
	ph.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	prod.Close()      // flush buffered events
	prod.WaitClosed() // drain
	cancel()
	if err := shutdownTracing(ctx2); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}
}
