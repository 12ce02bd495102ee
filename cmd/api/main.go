package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-secure-checkout/internal/config"
	"github.com/ariefcatur/go-secure-checkout/internal/confirm"
	"github.com/ariefcatur/go-secure-checkout/internal/httpx"
	kafkax "github.com/ariefcatur/go-secure-checkout/internal/kafka"
	"github.com/ariefcatur/go-secure-checkout/internal/logging"
	"github.com/ariefcatur/go-secure-checkout/internal/memstore"
	"github.com/ariefcatur/go-secure-checkout/internal/orders"
	"github.com/ariefcatur/go-secure-checkout/internal/outbox"
	"github.com/ariefcatur/go-secure-checkout/internal/postgres"
	"github.com/ariefcatur/go-secure-checkout/internal/redisx"
	"github.com/ariefcatur/go-secure-checkout/internal/vnpay"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// store is what the API needs from a backend: the order ports plus the
// outbox queue drained by the relay.
type store interface {
	orders.Store
	outbox.Store
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.MustNew(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("store_open_failed", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer closeStore()

	// Redis
	rdb, err := redisx.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis_connect_failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	defer rdb.Close()

	// Kafka producer behind the outbox relay
	prod := kafkax.NewProducer(cfg.KafkaBrokers)
	relay := outbox.NewRelay(st, prod, log.Named("outbox"), outbox.RelayConfig{
		Interval:  cfg.OutboxInterval,
		BatchSize: cfg.OutboxBatchSize,
	})
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		relay.Run(ctx)
	}()

	svc := orders.NewService(st, log.Named("orders"), cfg.ServiceName)
	gw := vnpay.NewGateway(cfg.VNPay, st, svc, log.Named("vnpay"), cfg.ServiceName)
	if cfg.VNPay.SecretKey == "" {
		log.Warn("vnpay_secret_missing")
	}

	router := httpx.NewRouter(log)
	(&httpx.OrdersHandler{
		Orders: svc,
		Tokens: confirm.NewTokenService(rdb, svc, cfg.FrontendURL, log.Named("confirm")),
		Status: confirm.NewStatusCache(rdb, svc, log.Named("confirm")),
	}).Register(router)
	(&httpx.PaymentsHandler{Gateway: gw}).Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http_listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http_listen_failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting_down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
	<-relayDone
	if err := prod.Close(); err != nil {
		log.Warn("producer_close_failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store, func(), error) {
	if cfg.StoreDriver == "memory" {
		log.Warn("memory_store_in_use")
		ms := memstore.New()
		ms.AddProduct("demo-product", decimal.NewFromInt(100000), true, 100)
		return ms, func() {}, nil
	}

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresPool)
	if err != nil {
		return nil, nil, err
	}
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("migrations_applied")
	}
	return postgres.NewStore(db), db.Close, nil
}
