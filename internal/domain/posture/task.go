package posture

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// TaskKind discriminates queued work invocations.
type TaskKind string

const (
	// TaskKindScanResource asks a worker to run every check for one resource
	// unit.
	TaskKindScanResource TaskKind = "scan_resource"

	// TaskKindAggregate asks the controller to merge a ready job into its
	// final report.
	TaskKindAggregate TaskKind = "aggregate"
)

// Task is one queued work invocation. Delivery is at-least-once with no
// ordering guarantee, so every handler must be idempotent: workers overwrite
// findings and markers, the aggregator no-ops on completed jobs.
type Task struct {
	Kind       TaskKind  `json:"kind"`
	JobID      uuid.UUID `json:"job_id"`
	ScopeKind  ScopeKind `json:"scope_kind,omitempty"`
	ScopeID    string    `json:"scope_id,omitempty"`
	ResourceID string    `json:"resource_id,omitempty"`
}

// Validate enforces per-kind payload requirements.
func (t Task) Validate() error {
	if t.JobID == uuid.Nil {
		return fmt.Errorf("task: missing job id")
	}
	switch t.Kind {
	case TaskKindScanResource:
		if t.ResourceID == "" {
			return fmt.Errorf("task: scan_resource requires a resource id")
		}
	case TaskKindAggregate:
		if t.ScopeID == "" {
			return fmt.Errorf("task: aggregate requires a scope id")
		}
	default:
		return fmt.Errorf("task: unknown kind %q", t.Kind)
	}
	return nil
}

// Encode serializes the task for queue transport.
func (t Task) Encode() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(t)
}

// DecodeTask deserializes and re-validates a queued task.
func DecodeTask(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	return t, nil
}
