package kafkax

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/evercart/evercart/libs/db"
)

// Handler processes one message inside the consumer's transaction. The
// same transaction already holds the inbox record, so everything the
// handler writes commits together with the dedup marker.
type Handler func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error

// Dedup records an event id and reports false when it was seen before.
type Dedup interface {
	Record(ctx context.Context, tx pgx.Tx, eventID string, eventType string) (bool, error)
}

type ConsumerConfig struct {
	Brokers string
	GroupID string
	Topics  []string
}

// Consumer runs a consumer-group read loop with inbox deduplication.
// Redeliveries are expected; the inbox makes applying them a no-op.
type Consumer struct {
	reader  *kafka.Reader
	pool    *db.Pool
	dedup   Dedup
	logger  *slog.Logger
	handler Handler
}

func NewConsumer(pool *db.Pool, dedup Dedup, logger *slog.Logger, cfg ConsumerConfig, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     SplitBrokers(cfg.Brokers),
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &Consumer{
		reader:  reader,
		pool:    pool,
		dedup:   dedup,
		logger:  logger,
		handler: handler,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}
		c.process(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	ctxMsg := ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := ExtractEventMeta(msg)

	tx, err := c.pool.Begin(ctxSpan)
	if err != nil {
		c.logger.Error("consumer begin failed", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
		return
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctxSpan)) }()

	fresh, err := c.dedup.Record(ctxSpan, tx, meta.EventID, meta.EventType)
	if err != nil {
		c.logger.Error("inbox record failed", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
		return
	}
	if !fresh {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return
	}

	if err := c.handler(ctxSpan, tx, msg); err != nil {
		c.logger.Error("handler error", "err", err, "event_id", meta.EventID, "event_type", meta.EventType)
		span.RecordError(err)
		return
	}

	if err := tx.Commit(ctxSpan); err != nil {
		c.logger.Error("consumer commit failed", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
	}
}
