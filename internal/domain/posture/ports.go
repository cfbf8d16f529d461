package posture

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is one stored entry under a job prefix.
type Record struct {
	Key       RecordKey
	Payload   []byte
	UpdatedAt time.Time
}

// FindingStore is the durable keyed store for findings, completion markers,
// policy snapshots, status records, and final artifacts. Put overwrites; List
// may lag very recent writes (eventual visibility), so callers tolerate
// transient undercounts rather than treating them as errors.
type FindingStore interface {
	// Put writes or overwrites the record under key.
	Put(ctx context.Context, key RecordKey, payload []byte) error

	// Get returns the record payload or ErrRecordNotFound.
	Get(ctx context.Context, key RecordKey) ([]byte, error)

	// List returns every record under the job prefix.
	List(ctx context.Context, jobID uuid.UUID) ([]Record, error)

	// DeleteTransient removes every transient record (findings, markers,
	// policy snapshots) under the job prefix, leaving status records and
	// artifacts in place.
	DeleteTransient(ctx context.Context, jobID uuid.UUID) error
}

// TaskQueue enqueues push-style work invocations with at-least-once delivery
// and provider-managed retry. Delivery failures are the provider's concern,
// not part of this system's failure taxonomy.
type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) error
}

// TaskHandler processes one delivered task. A non-nil error tells the queue
// the invocation failed and may be redelivered.
type TaskHandler func(ctx context.Context, task Task) error

// InventoryResolver expands a scope into its leaf resource units. No
// uniqueness or ordering guarantee is required of implementations; the
// dispatcher snapshots whatever comes back.
type InventoryResolver interface {
	Resolve(ctx context.Context, kind ScopeKind, scopeID string) ([]ResourceUnit, error)
}

// ReportRenderer turns an aggregated report into its final artifacts: the
// rendered document and the tabular export.
type ReportRenderer interface {
	Render(ctx context.Context, report *Report) (document []byte, export []byte, err error)
}
