package eventstream

import "time"

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// TopicMemoryCreated is emitted after a memory is written to the backends.
	TopicMemoryCreated = "memory.created"

	// TopicMemoryDeprecated is emitted when a record is superseded.
	TopicMemoryDeprecated = "memory.deprecated"

	// TopicMemoryConflicted is emitted when a write is flagged against peers.
	TopicMemoryConflicted = "memory.conflicted"

	// TopicMemoryExpired is emitted by the expiry sweeper.
	TopicMemoryExpired = "memory.expired"

	// TopicCacheInvalidated is emitted after a scope's cached reads are dropped.
	TopicCacheInvalidated = "cache.invalidated"

	// TopicCompensationFailed is emitted when a compensation task exhausts
	// its retry budget.
	TopicCompensationFailed = "memory.compensation_failed"
)

// MemoryEvent is a transport-neutral change event for a memory record.
// The core does not prescribe the wire encoding; publishers choose it.
type MemoryEvent struct {
	SchemaVersion int               `json:"schema_version"`
	Topic         string            `json:"topic"`
	EventID       string            `json:"event_id"`
	ID            string            `json:"id,omitempty"`
	ScopeHash     string            `json:"scope_hash"`
	Category      string            `json:"category,omitempty"`
	ConflictWith  []string          `json:"conflict_with,omitempty"`
	EmittedAt     time.Time         `json:"emitted_at"`
	Extra         map[string]string `json:"extra,omitempty"`
}
