package outbox

import "time"

// Status is the lifecycle state of an outbox entry. An entry is born
// PENDING and ends PROCESSED (published) or FAILED (given up). There is
// no in-between state: concurrent publishers coordinate through row
// locks, not through a status value.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusProcessed Status = "PROCESSED"
	StatusFailed    Status = "FAILED"
)

// Entry is one event row in a service's outbox_entries table. Services
// insert entries inside the transaction that performs the business write;
// the publisher drains them asynchronously.
type Entry struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Status        Status
	RetryCount    int
	NextAttemptAt time.Time
	LastError     string
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

// Counts is the per-status entry tally exposed on the ops surface.
type Counts struct {
	Pending   int64
	Processed int64
	Failed    int64
}
