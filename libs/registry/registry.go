package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrInvalidTopicSpec = errors.New("invalid topic spec")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingKeyField  = errors.New("missing key field")
)

// DLQSuffix is appended to a topic name to derive its dead-letter mirror.
const DLQSuffix = ".DLQ"

type CleanupPolicy string

const (
	CleanupDelete  CleanupPolicy = "delete"
	CleanupCompact CleanupPolicy = "compact"
)

type Compression string

const (
	CompressionLZ4    Compression = "lz4"
	CompressionSnappy Compression = "snappy"
	CompressionNone   Compression = "uncompressed"
)

// TopicSpec is the canonical configuration of one Kafka topic: broker-side
// settings plus the partition key path and the event types routed to it.
// DLQ mirrors are derived, never declared.
type TopicSpec struct {
	Name              string
	Partitions        int
	ReplicationFactor int
	RetentionMS       int64
	CleanupPolicy     CleanupPolicy
	Compression       Compression
	MaxMessageBytes   int
	MinInSyncReplicas int
	SegmentMS         int64
	SegmentBytes      int64

	// KeyPath is a dot-separated path into the event payload whose value
	// becomes the Kafka message key, e.g. "order_id" or "order.id".
	KeyPath string

	// EventTypes routed to this topic. Empty on derived DLQ specs.
	EventTypes []string
}

// IsDLQ reports whether s is a derived dead-letter mirror.
func (s TopicSpec) IsDLQ() bool {
	return strings.HasSuffix(s.Name, DLQSuffix)
}

// Registry maps event types to topic specs. It is immutable after New.
type Registry struct {
	byEvent map[string]TopicSpec
	topics  []TopicSpec
}

// New validates the given specs and builds a registry. Any violation
// (bad partition count, non-positive retention, empty key path, unknown
// cleanup or compression value, duplicate topic or event type) fails
// construction with ErrInvalidTopicSpec; there is no partial registry.
// Every accepted topic gets a derived <name>.DLQ mirror: same partition
// count, 7 day delete retention.
func New(specs []TopicSpec) (*Registry, error) {
	r := &Registry{byEvent: make(map[string]TopicSpec)}
	seen := make(map[string]bool)

	for _, s := range specs {
		s = withDefaults(s)
		if err := validate(s); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("%w: duplicate topic %q", ErrInvalidTopicSpec, s.Name)
		}
		seen[s.Name] = true

		s.EventTypes = append([]string(nil), s.EventTypes...)
		for _, et := range s.EventTypes {
			if et == "" {
				return nil, fmt.Errorf("%w: topic %q has an empty event type", ErrInvalidTopicSpec, s.Name)
			}
			if _, dup := r.byEvent[et]; dup {
				return nil, fmt.Errorf("%w: event type %q mapped to more than one topic", ErrInvalidTopicSpec, et)
			}
			r.byEvent[et] = s
		}

		dlq := dlqSpec(s)
		if seen[dlq.Name] {
			return nil, fmt.Errorf("%w: duplicate topic %q", ErrInvalidTopicSpec, dlq.Name)
		}
		seen[dlq.Name] = true
		r.topics = append(r.topics, s, dlq)
	}

	sort.Slice(r.topics, func(i, j int) bool { return r.topics[i].Name < r.topics[j].Name })
	return r, nil
}

// Resolve returns the topic spec for eventType, or ErrUnknownEventType.
func (r *Registry) Resolve(eventType string) (TopicSpec, error) {
	s, ok := r.byEvent[eventType]
	if !ok {
		return TopicSpec{}, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	return s, nil
}

// ExtractKey resolves eventType and walks the topic's key path through the
// JSON payload. Absent, null or empty values yield ErrMissingKeyField;
// a payload that is not a JSON object is a plain error. Both mean the
// entry cannot be published as-is.
func (r *Registry) ExtractKey(eventType string, payload []byte) (string, error) {
	spec, err := r.Resolve(eventType)
	if err != nil {
		return "", err
	}

	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", fmt.Errorf("payload is not a JSON object: %w", err)
	}

	path := strings.Split(spec.KeyPath, ".")
	var cur any = doc
	for _, field := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", fmt.Errorf("%w: %q in payload for %q", ErrMissingKeyField, spec.KeyPath, eventType)
		}
		cur, ok = obj[field]
		if !ok {
			return "", fmt.Errorf("%w: %q in payload for %q", ErrMissingKeyField, spec.KeyPath, eventType)
		}
	}

	switch v := cur.(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("%w: %q is empty", ErrMissingKeyField, spec.KeyPath)
		}
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("%w: %q is not a string or number", ErrMissingKeyField, spec.KeyPath)
	}
}

// Topics returns every topic the registry manages, business topics and
// DLQ mirrors alike, ordered by name. The caller gets a fresh slice.
func (r *Registry) Topics() []TopicSpec {
	out := make([]TopicSpec, len(r.topics))
	copy(out, r.topics)
	return out
}

// EventTypes returns every registered event type in sorted order.
func (r *Registry) EventTypes() []string {
	out := make([]string, 0, len(r.byEvent))
	for et := range r.byEvent {
		out = append(out, et)
	}
	sort.Strings(out)
	return out
}

// DLQFor returns the dead-letter topic name for a business topic.
func DLQFor(topic string) string {
	return topic + DLQSuffix
}

func withDefaults(s TopicSpec) TopicSpec {
	if s.ReplicationFactor == 0 {
		s.ReplicationFactor = 3
	}
	if s.MinInSyncReplicas == 0 {
		s.MinInSyncReplicas = 2
	}
	if s.CleanupPolicy == "" {
		s.CleanupPolicy = CleanupDelete
	}
	if s.Compression == "" {
		s.Compression = CompressionLZ4
	}
	if s.MaxMessageBytes == 0 {
		s.MaxMessageBytes = 1048576
	}
	if s.SegmentMS == 0 {
		s.SegmentMS = 86400000 // 1 day
	}
	if s.SegmentBytes == 0 {
		s.SegmentBytes = 1073741824 // 1 GiB
	}
	return s
}

func validate(s TopicSpec) error {
	switch {
	case s.Name == "":
		return fmt.Errorf("%w: empty topic name", ErrInvalidTopicSpec)
	case strings.HasSuffix(s.Name, DLQSuffix):
		return fmt.Errorf("%w: %q uses the reserved DLQ suffix", ErrInvalidTopicSpec, s.Name)
	case s.Partitions < 1:
		return fmt.Errorf("%w: topic %q needs at least one partition", ErrInvalidTopicSpec, s.Name)
	case s.ReplicationFactor < 1:
		return fmt.Errorf("%w: topic %q has replication factor %d", ErrInvalidTopicSpec, s.Name, s.ReplicationFactor)
	case s.RetentionMS <= 0:
		return fmt.Errorf("%w: topic %q needs a positive retention", ErrInvalidTopicSpec, s.Name)
	case s.KeyPath == "":
		return fmt.Errorf("%w: topic %q has no key path", ErrInvalidTopicSpec, s.Name)
	case len(s.EventTypes) == 0:
		return fmt.Errorf("%w: topic %q routes no event types", ErrInvalidTopicSpec, s.Name)
	}

	switch s.CleanupPolicy {
	case CleanupDelete, CleanupCompact:
	default:
		return fmt.Errorf("%w: topic %q has unknown cleanup policy %q", ErrInvalidTopicSpec, s.Name, s.CleanupPolicy)
	}
	switch s.Compression {
	case CompressionLZ4, CompressionSnappy, CompressionNone:
	default:
		return fmt.Errorf("%w: topic %q has unknown compression %q", ErrInvalidTopicSpec, s.Name, s.Compression)
	}
	return nil
}

func dlqSpec(parent TopicSpec) TopicSpec {
	return TopicSpec{
		Name:              DLQFor(parent.Name),
		Partitions:        parent.Partitions,
		ReplicationFactor: parent.ReplicationFactor,
		RetentionMS:       7 * 86400000,
		CleanupPolicy:     CleanupDelete,
		Compression:       parent.Compression,
		MaxMessageBytes:   parent.MaxMessageBytes,
		MinInSyncReplicas: parent.MinInSyncReplicas,
		SegmentMS:         parent.SegmentMS,
		SegmentBytes:      parent.SegmentBytes,
	}
}
