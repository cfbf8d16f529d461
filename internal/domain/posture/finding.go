package posture

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Detail is one structured observation inside a finding. The shape varies per
// check (a bucket name, a role binding, a firewall rule), so it stays a loose
// map and is validated only at the envelope level.
type Detail map[string]any

// Finding is one check's result for one resource unit within a job. Findings
// are keyed by (job, resource, check); rewriting the same key overwrites the
// previous value, which keeps worker retries idempotent.
type Finding struct {
	JobID      uuid.UUID     `json:"job_id"`
	ResourceID string        `json:"resource_id"`
	CheckName  string        `json:"check_name"`
	Status     FindingStatus `json:"status"`
	Details    []Detail      `json:"details,omitempty"`
}

// NewFinding builds a validated finding.
func NewFinding(jobID uuid.UUID, resourceID, checkName string, status FindingStatus, details []Detail) (Finding, error) {
	f := Finding{
		JobID:      jobID,
		ResourceID: resourceID,
		CheckName:  checkName,
		Status:     status,
		Details:    details,
	}
	if err := f.Validate(); err != nil {
		return Finding{}, err
	}
	return f, nil
}

// Validate enforces the envelope invariants checked at every store boundary.
func (f Finding) Validate() error {
	if f.JobID == uuid.Nil {
		return fmt.Errorf("finding: %w: missing job id", ErrInvalidRecord)
	}
	if f.CheckName == "" {
		return fmt.Errorf("finding: %w: missing check name", ErrInvalidRecord)
	}
	if !f.Status.Known() {
		return fmt.Errorf("finding: %w: unknown status %q", ErrInvalidRecord, f.Status)
	}
	return nil
}

// Key returns the store key the finding lives under.
func (f Finding) Key() RecordKey {
	return FindingKey(f.JobID, f.ResourceID, f.CheckName)
}

// Encode serializes the finding for storage.
func (f Finding) Encode() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

// DecodeFinding deserializes a stored finding and re-validates it. Records
// written by older builds or corrupted in transit fail here rather than deep
// inside the aggregator.
func DecodeFinding(data []byte) (Finding, error) {
	var f Finding
	if err := json.Unmarshal(data, &f); err != nil {
		return Finding{}, fmt.Errorf("decode finding: %w", err)
	}
	if err := f.Validate(); err != nil {
		return Finding{}, err
	}
	return f, nil
}
