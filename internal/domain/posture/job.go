package posture

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScopeKind is the tier of target a scan job covers.
type ScopeKind string

const (
	ScopeOrganization ScopeKind = "organization"
	ScopeFolder       ScopeKind = "folder"
	ScopeProject      ScopeKind = "project"
)

func (s ScopeKind) String() string { return string(s) }

// ParseScopeKind converts a string to a ScopeKind, returning false for
// anything outside the fixed set.
func ParseScopeKind(s string) (ScopeKind, bool) {
	switch ScopeKind(s) {
	case ScopeOrganization, ScopeFolder, ScopeProject:
		return ScopeKind(s), true
	default:
		return "", false
	}
}

// ResourceName formats the scope as a Resource Manager resource name, e.g.
// "organizations/123" or "projects/my-proj".
func (s ScopeKind) ResourceName(scopeID string) string {
	switch s {
	case ScopeOrganization:
		return "organizations/" + scopeID
	case ScopeFolder:
		return "folders/" + scopeID
	default:
		return "projects/" + scopeID
	}
}

// ResourceUnit is the opaque identifier of one leaf target (a project) within
// a scope. Units are scanned independently with no ordering guarantee.
type ResourceUnit string

// Job is one posture scan over a scope. The resource list is snapshotted at
// dispatch time and never re-resolved; re-running a failed job means creating
// a new job with a fresh id.
type Job struct {
	jobID         uuid.UUID
	scopeKind     ScopeKind
	scopeID       string
	resourceCount int
	createdAt     time.Time
}

// NewJob creates a job for the given scope with a fresh unique id.
func NewJob(kind ScopeKind, scopeID string) (*Job, error) {
	if scopeID == "" {
		return nil, fmt.Errorf("new job: scope id is required")
	}
	if _, ok := ParseScopeKind(kind.String()); !ok {
		return nil, fmt.Errorf("new job: unknown scope kind %q", kind)
	}
	return &Job{
		jobID:     uuid.New(),
		scopeKind: kind,
		scopeID:   scopeID,
		createdAt: time.Now().UTC(),
	}, nil
}

func (j *Job) JobID() uuid.UUID     { return j.jobID }
func (j *Job) ScopeKind() ScopeKind { return j.scopeKind }
func (j *Job) ScopeID() string      { return j.scopeID }
func (j *Job) CreatedAt() time.Time { return j.createdAt }

// ResourceCount returns the size of the dispatch-time resource snapshot, zero
// until SnapshotResources has run.
func (j *Job) ResourceCount() int { return j.resourceCount }

// SnapshotResources fixes the job's resource count at dispatch. It may be
// called exactly once.
func (j *Job) SnapshotResources(units []ResourceUnit) error {
	if j.resourceCount != 0 {
		return fmt.Errorf("job %s: resource snapshot already taken", j.jobID)
	}
	if len(units) == 0 {
		return ErrNoResources
	}
	j.resourceCount = len(units)
	return nil
}
