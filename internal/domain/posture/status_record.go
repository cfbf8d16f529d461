package posture

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Coarse progress milestones per phase. Progress is deliberately not
// per-check granular; clients poll and only need a rough bar.
const (
	ProgressResolving   = 5
	ProgressDispatched  = 50
	ProgressReady       = 70
	ProgressAggregating = 75
	ProgressRendering   = 90
	ProgressDone        = 100
)

// StatusRecord is the externally visible snapshot of a job's state. It is
// overwritten in the finding store at explicit phase transitions; the
// completed count is recomputed from markers on every query and is never
// authoritative on its own.
type StatusRecord struct {
	JobID          uuid.UUID `json:"job_id"`
	ScopeID        string    `json:"scope_id"`
	Phase          JobPhase  `json:"status"`
	Progress       int       `json:"progress"`
	CurrentTask    string    `json:"current_task"`
	ResourceCount  *int      `json:"resource_count,omitempty"`
	CompletedCount *int      `json:"completed_count,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewStatusRecord builds a status record stamped with the current time.
func NewStatusRecord(jobID uuid.UUID, scopeID string, phase JobPhase, progress int, currentTask string) StatusRecord {
	return StatusRecord{
		JobID:       jobID,
		ScopeID:     scopeID,
		Phase:       phase,
		Progress:    progress,
		CurrentTask: currentTask,
		Timestamp:   time.Now().UTC(),
	}
}

// WithResourceCount attaches the dispatch-time resource snapshot size.
func (r StatusRecord) WithResourceCount(n int) StatusRecord {
	r.ResourceCount = &n
	return r
}

// Validate enforces the boundary invariants for status records.
func (r StatusRecord) Validate() error {
	if r.JobID == uuid.Nil {
		return fmt.Errorf("status record: %w: missing job id", ErrInvalidRecord)
	}
	if r.ScopeID == "" {
		return fmt.Errorf("status record: %w: missing scope id", ErrInvalidRecord)
	}
	if r.Phase == "" {
		return fmt.Errorf("status record: %w: missing phase", ErrInvalidRecord)
	}
	if r.Progress < 0 || r.Progress > 100 {
		return fmt.Errorf("status record: %w: progress %d out of range", ErrInvalidRecord, r.Progress)
	}
	return nil
}

// Key returns the store key the record lives under.
func (r StatusRecord) Key() RecordKey { return StatusKey(r.JobID, r.ScopeID) }

// Encode serializes the record for storage.
func (r StatusRecord) Encode() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

// DecodeStatusRecord deserializes and re-validates a stored status record.
func DecodeStatusRecord(data []byte) (StatusRecord, error) {
	var r StatusRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return StatusRecord{}, fmt.Errorf("decode status record: %w", err)
	}
	if err := r.Validate(); err != nil {
		return StatusRecord{}, err
	}
	return r, nil
}
