package outbox

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"github.com/evercart/evercart/libs/db"
	"github.com/evercart/evercart/libs/kafkax"
	otelx "github.com/evercart/evercart/libs/otel"
	"github.com/evercart/evercart/libs/registry"
)

// Store is the slice of the repository the publisher drives.
type Store interface {
	ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Entry, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, ids []string) error
	MarkRetry(ctx context.Context, tx pgx.Tx, id string, retryCount int, nextAttemptAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id string, retryCount int, lastError string) error
}

// Writer is the producer side of the publisher; *kafka.Writer satisfies it.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Config struct {
	Brokers           string
	PollInterval      time.Duration
	BatchSize         int
	Workers           int
	MaxRetries        int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = 2
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Minute
	}
	return c
}

// Publisher drains a service's outbox into Kafka. Each worker claims a
// batch of due PENDING entries under row locks, resolves topic and key
// through the registry, publishes, and marks the outcome inside the same
// transaction. Entry-level failures are recorded on the row and never
// surface to the code that inserted the entry.
type Publisher struct {
	db       beginner
	store    Store
	registry *registry.Registry
	writer   Writer
	logger   *slog.Logger
	cfg      Config
}

func NewPublisher(pool *db.Pool, repo *Repository, reg *registry.Registry, logger *slog.Logger, cfg Config) *Publisher {
	cfg = cfg.withDefaults()
	p := &Publisher{
		db:       pool,
		store:    repo,
		registry: reg,
		logger:   logger,
		cfg:      cfg,
	}
	if brokers := kafkax.SplitBrokers(cfg.Brokers); len(brokers) > 0 {
		p.writer = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Lz4,
			BatchTimeout: 50 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
		}
	}
	return p
}

// Run polls until ctx is done. Blocks; start it in a goroutine.
func (p *Publisher) Run(ctx context.Context) {
	if p.writer == nil {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}
	defer p.writer.Close()

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.runWorker(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (p *Publisher) runWorker(ctx context.Context, worker int) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The batch in flight finishes its marks even when shutdown
			// interrupts the poll loop.
			if err := p.publishBatch(context.WithoutCancel(ctx)); err != nil {
				p.logger.Error("outbox publish cycle failed", "worker", worker, "err", err)
			}
		}
	}
}

// publishBatch runs one claim-publish-mark cycle. A returned error means
// the cycle itself broke (begin, claim, or a mark write); those roll the
// whole batch back and the next tick starts over. Publish failures of
// individual entries are handled inside and do not abort the batch.
func (p *Publisher) publishBatch(ctx context.Context) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	entries, err := p.store.ClaimPending(ctx, tx, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return tx.Commit(ctx)
	}

	var processed []string
	for _, e := range entries {
		published, err := p.publishEntry(ctx, tx, e)
		if err != nil {
			return err
		}
		if published {
			processed = append(processed, e.ID)
		}
	}

	if err := p.store.MarkProcessed(ctx, tx, processed); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// publishEntry reports whether the entry was published. The returned
// error is a mark-write failure, never a publish failure.
func (p *Publisher) publishEntry(ctx context.Context, tx pgx.Tx, e Entry) (bool, error) {
	spec, err := p.registry.Resolve(e.EventType)
	if err != nil {
		// Unroutable event type: no topic, hence no DLQ to route to.
		p.logger.Error("outbox entry failed", "entry_id", e.ID, "event_type", e.EventType, "err", err)
		return false, p.store.MarkFailed(ctx, tx, e.ID, e.RetryCount, err.Error())
	}

	key, err := p.registry.ExtractKey(e.EventType, e.Payload)
	if err != nil {
		// Broken payload: retrying cannot fix it, dead-letter immediately.
		return false, p.deadLetter(ctx, tx, e, spec, e.RetryCount, err)
	}

	msgCtx := otelx.ContextWithTraceContext(ctx, e.Traceparent, e.Tracestate)
	msg := kafka.Message{
		Topic: spec.Name,
		Key:   []byte(key),
		Value: e.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(e.ID)},
			{Key: "event_type", Value: []byte(e.EventType)},
			{Key: "aggregate_id", Value: []byte(e.AggregateID)},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return false, p.retryOrDeadLetter(ctx, tx, e, spec, err)
	}
	return true, nil
}

func (p *Publisher) retryOrDeadLetter(ctx context.Context, tx pgx.Tx, e Entry, spec registry.TopicSpec, cause error) error {
	retryCount := e.RetryCount + 1
	if retryCount <= p.cfg.MaxRetries {
		next := time.Now().UTC().Add(p.backoff(e.RetryCount))
		p.logger.Warn("outbox publish failed, scheduling retry",
			"entry_id", e.ID, "event_type", e.EventType, "retry_count", retryCount, "next_attempt_at", next, "err", cause)
		return p.store.MarkRetry(ctx, tx, e.ID, retryCount, next, cause.Error())
	}
	p.logger.Error("outbox entry exhausted retries, dead-lettering",
		"entry_id", e.ID, "event_type", e.EventType, "retry_count", retryCount, "err", cause)
	return p.deadLetter(ctx, tx, e, spec, retryCount, cause)
}

// deadLetter mirrors the entry verbatim onto the topic's DLQ, failure
// context in headers only, then fails the entry. If even the DLQ write
// fails the entry stays PENDING so the payload is never dropped.
func (p *Publisher) deadLetter(ctx context.Context, tx pgx.Tx, e Entry, spec registry.TopicSpec, retryCount int, cause error) error {
	msgCtx := otelx.ContextWithTraceContext(ctx, e.Traceparent, e.Tracestate)
	msg := kafka.Message{
		Topic: registry.DLQFor(spec.Name),
		Key:   []byte(e.AggregateID),
		Value: e.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(e.ID)},
			{Key: "event_type", Value: []byte(e.EventType)},
			{Key: "aggregate_id", Value: []byte(e.AggregateID)},
			{Key: "source_topic", Value: []byte(spec.Name)},
			{Key: "error_reason", Value: []byte(cause.Error())},
			{Key: "retry_count", Value: []byte(strconv.Itoa(retryCount))},
			{Key: "failed_at", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("dead letter write failed, keeping entry pending",
			"entry_id", e.ID, "topic", msg.Topic, "err", err)
		next := time.Now().UTC().Add(p.backoff(retryCount))
		return p.store.MarkRetry(ctx, tx, e.ID, retryCount, next, cause.Error())
	}
	return p.store.MarkFailed(ctx, tx, e.ID, retryCount, cause.Error())
}

func (p *Publisher) backoff(retryCount int) time.Duration {
	d := time.Duration(float64(p.cfg.BackoffBase) * math.Pow(p.cfg.BackoffMultiplier, float64(retryCount)))
	if d <= 0 || d > p.cfg.BackoffMax {
		return p.cfg.BackoffMax
	}
	return d
}
