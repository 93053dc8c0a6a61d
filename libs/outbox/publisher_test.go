package outbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"github.com/evercart/evercart/libs/registry"
)

type fakeTx struct {
	pgx.Tx
	committed bool
}

func (t *fakeTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error { return nil }

type fakeDB struct {
	tx       *fakeTx
	beginErr error
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.tx = &fakeTx{}
	return f.tx, nil
}

type retryCall struct {
	id         string
	retryCount int
	next       time.Time
	lastError  string
}

type failCall struct {
	id         string
	retryCount int
	lastError  string
}

type fakeStore struct {
	entries   []Entry
	claimErr  error
	processed []string
	retries   []retryCall
	failures  []failCall
}

func (s *fakeStore) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Entry, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	if len(s.entries) > limit {
		return s.entries[:limit], nil
	}
	return s.entries, nil
}

func (s *fakeStore) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []string) error {
	s.processed = append(s.processed, ids...)
	return nil
}

func (s *fakeStore) MarkRetry(ctx context.Context, tx pgx.Tx, id string, retryCount int, next time.Time, lastError string) error {
	s.retries = append(s.retries, retryCall{id, retryCount, next, lastError})
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, tx pgx.Tx, id string, retryCount int, lastError string) error {
	s.failures = append(s.failures, failCall{id, retryCount, lastError})
	return nil
}

type fakeWriter struct {
	messages  []kafka.Message
	failTopic map[string]error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		if err, ok := w.failTopic[m.Topic]; ok {
			return err
		}
		w.messages = append(w.messages, m)
	}
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.New([]registry.TopicSpec{{
		Name:        "order-events",
		Partitions:  3,
		RetentionMS: 86400000,
		KeyPath:     "order_id",
		EventTypes:  []string{"order.created.v1"},
	}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

func newTestPublisher(store *fakeStore, writer *fakeWriter, reg *registry.Registry) (*Publisher, *fakeDB) {
	fdb := &fakeDB{}
	p := &Publisher{
		db:       fdb,
		store:    store,
		registry: reg,
		writer:   writer,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg: Config{
			BatchSize:   10,
			MaxRetries:  3,
			BackoffBase: 10 * time.Millisecond,
		}.withDefaults(),
	}
	return p, fdb
}

func pendingEntry(id string, retryCount int) Entry {
	return Entry{
		ID:            id,
		AggregateType: "order",
		AggregateID:   "ord-1",
		EventType:     "order.created.v1",
		Payload:       []byte(`{"order_id":"ord-1","total_cents":4200}`),
		Status:        StatusPending,
		RetryCount:    retryCount,
	}
}

func TestPublishBatch_MarksProcessedOnSuccess(t *testing.T) {
	store := &fakeStore{entries: []Entry{pendingEntry("e1", 2)}}
	writer := &fakeWriter{}
	p, fdb := newTestPublisher(store, writer, testRegistry(t))

	if err := p.publishBatch(context.Background()); err != nil {
		t.Fatalf("publishBatch: %v", err)
	}

	if len(writer.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if msg.Topic != "order-events" {
		t.Fatalf("topic = %q", msg.Topic)
	}
	if string(msg.Key) != "ord-1" {
		t.Fatalf("key = %q, want the extracted order_id", msg.Key)
	}
	headers := headerMap(msg.Headers)
	if headers["event_id"] != "e1" || headers["event_type"] != "order.created.v1" {
		t.Fatalf("headers missing event metadata: %v", headers)
	}

	if len(store.processed) != 1 || store.processed[0] != "e1" {
		t.Fatalf("processed = %v", store.processed)
	}
	// A previously retried entry keeps its count when it finally lands.
	if len(store.retries) != 0 || len(store.failures) != 0 {
		t.Fatalf("unexpected retry/failure marks: %v %v", store.retries, store.failures)
	}
	if fdb.tx == nil || !fdb.tx.committed {
		t.Fatalf("batch transaction was not committed")
	}
}

func TestPublishBatch_TransportErrorSchedulesRetry(t *testing.T) {
	store := &fakeStore{entries: []Entry{pendingEntry("e1", 0)}}
	writer := &fakeWriter{failTopic: map[string]error{
		"order-events":     errors.New("broker unreachable"),
		"order-events.DLQ": errors.New("broker unreachable"),
	}}
	p, _ := newTestPublisher(store, writer, testRegistry(t))

	before := time.Now().UTC()
	if err := p.publishBatch(context.Background()); err != nil {
		t.Fatalf("publishBatch: %v", err)
	}

	if len(store.retries) != 1 {
		t.Fatalf("expected 1 retry mark, got %d", len(store.retries))
	}
	r := store.retries[0]
	if r.retryCount != 1 {
		t.Fatalf("retry count = %d, want 1", r.retryCount)
	}
	if r.next.Before(before.Add(p.cfg.BackoffBase)) {
		t.Fatalf("next attempt %v not delayed by base backoff", r.next)
	}
	if !strings.Contains(r.lastError, "broker unreachable") {
		t.Fatalf("last error = %q", r.lastError)
	}
	if len(store.processed) != 0 || len(store.failures) != 0 {
		t.Fatalf("unexpected marks: processed=%v failures=%v", store.processed, store.failures)
	}
}

func TestPublishBatch_ExhaustedEntryIsDeadLettered(t *testing.T) {
	entry := pendingEntry("e1", 3) // already at MaxRetries
	store := &fakeStore{entries: []Entry{entry}}
	writer := &fakeWriter{failTopic: map[string]error{
		"order-events": errors.New("broker unreachable"),
	}}
	p, _ := newTestPublisher(store, writer, testRegistry(t))

	if err := p.publishBatch(context.Background()); err != nil {
		t.Fatalf("publishBatch: %v", err)
	}

	if len(writer.messages) != 1 {
		t.Fatalf("expected exactly 1 DLQ message, got %d", len(writer.messages))
	}
	dlq := writer.messages[0]
	if dlq.Topic != "order-events.DLQ" {
		t.Fatalf("DLQ topic = %q", dlq.Topic)
	}
	if string(dlq.Value) != string(entry.Payload) {
		t.Fatalf("DLQ payload altered: %s", dlq.Value)
	}
	headers := headerMap(dlq.Headers)
	if !strings.Contains(headers["error_reason"], "broker unreachable") {
		t.Fatalf("error_reason header = %q", headers["error_reason"])
	}
	if headers["retry_count"] != "4" || headers["source_topic"] != "order-events" {
		t.Fatalf("DLQ headers = %v", headers)
	}

	if len(store.failures) != 1 || store.failures[0].retryCount != 4 {
		t.Fatalf("failures = %v", store.failures)
	}
	if len(store.retries) != 0 {
		t.Fatalf("exhausted entry should not be rescheduled: %v", store.retries)
	}
}

func TestPublishBatch_BadPayloadDeadLettersWithoutRetry(t *testing.T) {
	entry := pendingEntry("e1", 0)
	entry.Payload = []byte(`{"total_cents":4200}`) // key field missing
	store := &fakeStore{entries: []Entry{entry}}
	writer := &fakeWriter{}
	p, _ := newTestPublisher(store, writer, testRegistry(t))

	if err := p.publishBatch(context.Background()); err != nil {
		t.Fatalf("publishBatch: %v", err)
	}

	if len(writer.messages) != 1 || writer.messages[0].Topic != "order-events.DLQ" {
		t.Fatalf("expected a single DLQ message, got %v", writer.messages)
	}
	if len(store.retries) != 0 {
		t.Fatalf("serialization failures must not be retried: %v", store.retries)
	}
	if len(store.failures) != 1 || store.failures[0].retryCount != 0 {
		t.Fatalf("failures = %v", store.failures)
	}
}

func TestPublishBatch_UnknownEventTypeFailsWithoutDLQ(t *testing.T) {
	entry := pendingEntry("e1", 0)
	entry.EventType = "order.shipped.v1"
	store := &fakeStore{entries: []Entry{entry}}
	writer := &fakeWriter{}
	p, _ := newTestPublisher(store, writer, testRegistry(t))

	if err := p.publishBatch(context.Background()); err != nil {
		t.Fatalf("publishBatch: %v", err)
	}

	if len(writer.messages) != 0 {
		t.Fatalf("no topic is derivable, nothing should be written: %v", writer.messages)
	}
	if len(store.failures) != 1 || !strings.Contains(store.failures[0].lastError, "unknown event type") {
		t.Fatalf("failures = %v", store.failures)
	}
}

func TestPublishBatch_DLQWriteFailureKeepsEntryPending(t *testing.T) {
	entry := pendingEntry("e1", 3)
	store := &fakeStore{entries: []Entry{entry}}
	writer := &fakeWriter{failTopic: map[string]error{
		"order-events":     errors.New("broker unreachable"),
		"order-events.DLQ": errors.New("broker unreachable"),
	}}
	p, _ := newTestPublisher(store, writer, testRegistry(t))

	if err := p.publishBatch(context.Background()); err != nil {
		t.Fatalf("publishBatch: %v", err)
	}

	if len(store.failures) != 0 {
		t.Fatalf("entry must not be failed while its dead letter is unwritten: %v", store.failures)
	}
	if len(store.retries) != 1 {
		t.Fatalf("expected the entry kept pending via retry mark, got %v", store.retries)
	}
}

func TestPublishBatch_EntryFailureDoesNotAbortBatch(t *testing.T) {
	broken := pendingEntry("e1", 0)
	broken.Payload = []byte(`not json`)
	ok := pendingEntry("e2", 0)
	store := &fakeStore{entries: []Entry{broken, ok}}
	writer := &fakeWriter{}
	p, _ := newTestPublisher(store, writer, testRegistry(t))

	if err := p.publishBatch(context.Background()); err != nil {
		t.Fatalf("publishBatch: %v", err)
	}

	if len(store.processed) != 1 || store.processed[0] != "e2" {
		t.Fatalf("healthy entry should still publish: processed=%v", store.processed)
	}
	if len(store.failures) != 1 || store.failures[0].id != "e1" {
		t.Fatalf("failures = %v", store.failures)
	}
}

func TestPublishBatch_ClaimErrorAbortsCycle(t *testing.T) {
	store := &fakeStore{claimErr: errors.New("connection refused")}
	writer := &fakeWriter{}
	p, _ := newTestPublisher(store, writer, testRegistry(t))

	if err := p.publishBatch(context.Background()); err == nil {
		t.Fatalf("expected cycle error when claim fails")
	}
	if len(writer.messages) != 0 || len(store.failures) != 0 || len(store.retries) != 0 {
		t.Fatalf("a broken cycle must not touch entries")
	}
}

func TestPublishBatch_BeginErrorAbortsCycle(t *testing.T) {
	store := &fakeStore{entries: []Entry{pendingEntry("e1", 0)}}
	writer := &fakeWriter{}
	p, fdb := newTestPublisher(store, writer, testRegistry(t))
	fdb.beginErr = errors.New("database unavailable")

	if err := p.publishBatch(context.Background()); err == nil {
		t.Fatalf("expected cycle error when the database is down")
	}
	if len(writer.messages) != 0 {
		t.Fatalf("nothing should publish without a transaction")
	}
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	p := &Publisher{cfg: Config{
		BackoffBase:       time.Second,
		BackoffMultiplier: 2,
		BackoffMax:        5 * time.Second,
	}.withDefaults()}

	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},  // capped
		{10, 5 * time.Second}, // still capped
	}
	for _, c := range cases {
		if got := p.backoff(c.retryCount); got != c.want {
			t.Fatalf("backoff(%d) = %v, want %v", c.retryCount, got, c.want)
		}
	}
}

// claimOnceStore hands out each entry exactly once, the way SKIP LOCKED
// row claims behave across concurrent publishers.
type claimOnceStore struct {
	mu        sync.Mutex
	pending   []Entry
	processed []string
}

func (s *claimOnceStore) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := limit
	if n > len(s.pending) {
		n = len(s.pending)
	}
	batch := make([]Entry, n)
	copy(batch, s.pending[:n])
	s.pending = s.pending[n:]
	return batch, nil
}

func (s *claimOnceStore) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = append(s.processed, ids...)
	return nil
}

func (s *claimOnceStore) MarkRetry(ctx context.Context, tx pgx.Tx, id string, retryCount int, next time.Time, lastError string) error {
	return nil
}

func (s *claimOnceStore) MarkFailed(ctx context.Context, tx pgx.Tx, id string, retryCount int, lastError string) error {
	return nil
}

func (s *claimOnceStore) processedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.processed...)
}

type countingWriter struct {
	mu       sync.Mutex
	eventIDs []string
}

func (w *countingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range msgs {
		w.eventIDs = append(w.eventIDs, headerMap(m.Headers)["event_id"])
	}
	return nil
}

func (w *countingWriter) Close() error { return nil }

func (w *countingWriter) events() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.eventIDs...)
}

type sharedDB struct{}

func (sharedDB) Begin(context.Context) (pgx.Tx, error) { return &fakeTx{}, nil }

func TestPublishBatch_ConcurrentWorkersSplitTheBacklog(t *testing.T) {
	const total = 40
	store := &claimOnceStore{}
	for i := 0; i < total; i++ {
		store.pending = append(store.pending, pendingEntry(fmt.Sprintf("e%d", i), 0))
	}
	writer := &countingWriter{}

	p := &Publisher{
		db:       sharedDB{},
		store:    store,
		registry: testRegistry(t),
		writer:   writer,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg:      Config{BatchSize: 5, MaxRetries: 3}.withDefaults(),
	}

	// 4 workers x 2 cycles x batch 5 covers the backlog exactly.
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2; i++ {
				if err := p.publishBatch(context.Background()); err != nil {
					t.Errorf("publishBatch: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	ids := writer.events()
	if len(ids) != total {
		t.Fatalf("published %d messages, want %d", len(ids), total)
	}
	seen := make(map[string]bool, total)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("entry %s published twice", id)
		}
		seen[id] = true
	}
	if got := len(store.processedIDs()); got != total {
		t.Fatalf("marked %d entries processed, want %d", got, total)
	}
}

func headerMap(headers []kafka.Header) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[h.Key] = string(h.Value)
	}
	return m
}
