package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-secure-checkout/internal/config"
	"github.com/ariefcatur/go-secure-checkout/internal/confirm"
	kafkax "github.com/ariefcatur/go-secure-checkout/internal/kafka"
	"github.com/ariefcatur/go-secure-checkout/internal/logging"
	"github.com/ariefcatur/go-secure-checkout/internal/notify"
	"github.com/ariefcatur/go-secure-checkout/internal/orders"
	"github.com/ariefcatur/go-secure-checkout/internal/postgres"
	"github.com/ariefcatur/go-secure-checkout/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-notifier"
	log := logging.MustNew(service, cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB: the notifier reads order status before mailing
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresPool)
	if err != nil {
		log.Fatal("db_connect_failed", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb, err := redisx.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis_connect_failed", zap.Error(err))
	}
	defer rdb.Close()

	svc := orders.NewService(postgres.NewStore(db), log.Named("orders"), service)
	n := &confirm.Notifier{
		Tokens:      confirm.NewTokenService(rdb, svc, cfg.FrontendURL, log.Named("confirm")),
		Orders:      svc,
		Directory:   directory(cfg, log),
		Mailer:      mailer(cfg, log),
		Redis:       rdb,
		ServiceName: service,
		Log:         log.Named("notifier"),
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, orders.TopicConfirmationRequested, cfg.NotifierWorkers, log)
	handler := kafkax.WithRetry(n.HandleConfirmationRequested, cfg.NotifierRetries, 500*time.Millisecond, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("notifier_consumer_started",
			zap.String("group", cfg.NotifierGroup),
			zap.String("topic", orders.TopicConfirmationRequested),
			zap.Int("workers", cfg.NotifierWorkers),
		)
		if err := cons.Start(ctx, handler); err != nil {
			log.Error("consumer_exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting_down_consumer")
	cancel()
	<-done
}

func mailer(cfg config.Config, log *zap.Logger) notify.Mailer {
	if cfg.SMTP.Host == "" {
		log.Warn("smtp_not_configured_logging_mail")
		return notify.LogMailer{Log: log.Named("mail")}
	}
	return notify.NewSMTPMailer(cfg.SMTP, log.Named("mail"))
}

func directory(cfg config.Config, log *zap.Logger) notify.Directory {
	if cfg.UserServiceURL == "" {
		log.Warn("user_service_not_configured")
		return notify.StaticDirectory{}
	}
	return notify.NewHTTPDirectory(cfg.UserServiceURL, &http.Client{Timeout: 3 * time.Second}, log.Named("directory"))
}
