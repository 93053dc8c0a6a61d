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
	"github.com/evercart/evercart/libs/registry"
	"github.com/evercart/evercart/libs/runtime"
	"github.com/evercart/evercart/services/analytics-service/internal/metrics"
	"github.com/evercart/evercart/services/analytics-service/internal/ops"
	"github.com/evercart/evercart/services/analytics-service/migrations"
)

func main() {
	service := config.String("SERVICE_NAME", "analytics-service")
	port, err := config.Port("PORT", "8086")
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

	if brokers != "" {
		handler := metrics.New(logger)
		consumer := kafkax.NewConsumer(pool, inbox.NewRepository(), logger, kafkax.ConsumerConfig{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "analytics-service"),
			Topics: []string{
				registry.TopicOrderEvents,
				registry.TopicPaymentEvents,
				registry.TopicInventoryEvents,
				registry.TopicAnalyticsEvents,
			},
		}, handler.Handle)
		go consumer.Run(ctx)
	} else {
		logger.Warn("metrics consumer disabled (no kafka brokers configured)")
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	opsHandler := ops.New(pool)
	mux.HandleFunc("/ops/metrics", opsHandler.DailyMetrics)
	mux.HandleFunc("/ops/funnel", opsHandler.Funnel)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "analytics")
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
