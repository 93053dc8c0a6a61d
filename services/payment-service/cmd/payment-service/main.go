package main

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/evercart/evercart/libs/config"
	"github.com/evercart/evercart/libs/db"
	"github.com/evercart/evercart/libs/httpx"
	"github.com/evercart/evercart/libs/inbox"
	"github.com/evercart/evercart/libs/kafkax"
	otelx "github.com/evercart/evercart/libs/otel"
	"github.com/evercart/evercart/libs/outbox"
	"github.com/evercart/evercart/libs/registry"
	"github.com/evercart/evercart/libs/runtime"
	"github.com/evercart/evercart/services/payment-service/internal/charge"
	"github.com/evercart/evercart/services/payment-service/internal/ops"
	"github.com/evercart/evercart/services/payment-service/internal/payments"
	"github.com/evercart/evercart/services/payment-service/internal/storage"
	"github.com/evercart/evercart/services/payment-service/migrations"
)

func main() {
	service := config.String("SERVICE_NAME", "payment-service")
	port, err := config.Port("PORT", "8082")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if err := db.Migrate(dbURL, migrations.FS, "."); err != nil {
		logger.Error("migrations failed", "err", err)
		panic(err)
	}

	topics := registry.Default()
	brokers := config.String("KAFKA_BROKERS", "")
	if brokers != "" {
		provisionCtx, cancel := context.WithTimeout(ctx, config.Duration("TOPIC_PROVISION_TIMEOUT", time.Minute))
		if err := kafkax.EnsureTopics(provisionCtx, brokers, topics.TopicConfigs(), config.Duration("TOPIC_PROVISION_TIMEOUT", time.Minute), logger); err != nil {
			logger.Error("topic provisioning failed", "err", err)
		}
		cancel()
	}

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository()

	var provider charge.Provider
	if key := config.String("STRIPE_SECRET_KEY", ""); key != "" {
		provider = charge.NewStripe(key, config.String("STRIPE_TEST_PAYMENT_METHOD", "pm_card_visa"))
		logger.Info("stripe provider configured")
	} else {
		provider = charge.NewSimulator(int64(config.Int("SIM_DECLINE_OVER_CENTS", 1_000_000)))
		logger.Warn("no STRIPE_SECRET_KEY, using simulated provider")
	}

	publisher := outbox.NewPublisher(pool, outboxRepo, topics, logger, outbox.Config{
		Brokers:           brokers,
		PollInterval:      config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize:         config.Int("OUTBOX_BATCH_SIZE", 50),
		Workers:           config.Int("OUTBOX_WORKERS", 1),
		MaxRetries:        config.Int("OUTBOX_MAX_RETRIES", 5),
		BackoffBase:       config.Duration("OUTBOX_BACKOFF_BASE", time.Second),
		BackoffMultiplier: config.Float("OUTBOX_BACKOFF_MULTIPLIER", 2),
		BackoffMax:        config.Duration("OUTBOX_BACKOFF_MAX", 5*time.Minute),
	})
	go publisher.Run(ctx)

	if brokers != "" {
		handler := payments.New(repo, outboxRepo, provider, logger)
		consumer := kafkax.NewConsumer(pool, inbox.NewRepository(), logger, kafkax.ConsumerConfig{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "payment-service"),
			Topics:  []string{registry.TopicOrderEvents},
		}, handler.Handle)
		go consumer.Run(ctx)
	} else {
		logger.Warn("payment consumer disabled (no kafka brokers configured)")
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	opsHandler := ops.New(pool, repo, outboxRepo)
	mux.HandleFunc("/ops/payments", opsHandler.PaymentStatus)
	mux.HandleFunc("/ops/outbox", opsHandler.OutboxStatus)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "payment")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
