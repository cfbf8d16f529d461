package posture

import (
	"fmt"

	"github.com/google/uuid"
)

// Reserved record names inside a job's key space. Everything else under a
// non-empty resource id is a finding keyed by its check name.
const (
	// markerName is the completion marker written once per resource unit after
	// every check has returned.
	markerName = "_SUCCESS"

	// baselineName and currentPoliciesName hold the scope-wide organization
	// policy snapshot, written once per job by the scope checks.
	baselineName        = "policy_baseline.json"
	currentPoliciesName = "current_policies.json"
)

// RecordKey addresses one record in the finding store. The layout mirrors an
// object-store prefix scheme: job/resource/name for per-resource records and
// job//name for job-scoped ones, so a whole job (or its transient subset) can
// be listed and removed as a batch.
type RecordKey struct {
	JobID      uuid.UUID
	ResourceID string
	Name       string
}

func (k RecordKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.JobID, k.ResourceID, k.Name)
}

// IsMarker reports whether the key is a resource completion marker.
func (k RecordKey) IsMarker() bool {
	return k.ResourceID != "" && k.Name == markerName
}

// IsFinding reports whether the key holds a per-resource check finding.
func (k RecordKey) IsFinding() bool {
	return k.ResourceID != "" && k.Name != markerName
}

// IsPolicySnapshot reports whether the key holds scope-wide raw policy data.
func (k RecordKey) IsPolicySnapshot() bool {
	return k.ResourceID == "" && (k.Name == baselineName || k.Name == currentPoliciesName)
}

// Transient reports whether the record is purged after a successful
// aggregation. Status records and final artifacts survive; findings, markers,
// and policy snapshots do not.
func (k RecordKey) Transient() bool {
	return k.ResourceID != "" || k.IsPolicySnapshot()
}

// FindingKey addresses a check finding for one resource unit.
func FindingKey(jobID uuid.UUID, resourceID, checkName string) RecordKey {
	return RecordKey{JobID: jobID, ResourceID: resourceID, Name: checkName}
}

// MarkerKey addresses the completion marker for one resource unit.
func MarkerKey(jobID uuid.UUID, resourceID string) RecordKey {
	return RecordKey{JobID: jobID, ResourceID: resourceID, Name: markerName}
}

// BaselineKey addresses the job's policy baseline snapshot.
func BaselineKey(jobID uuid.UUID) RecordKey {
	return RecordKey{JobID: jobID, Name: baselineName}
}

// CurrentPoliciesKey addresses the job's observed policy snapshot.
func CurrentPoliciesKey(jobID uuid.UUID) RecordKey {
	return RecordKey{JobID: jobID, Name: currentPoliciesName}
}

// StatusKey addresses the job's status record.
func StatusKey(jobID uuid.UUID, scopeID string) RecordKey {
	return RecordKey{JobID: jobID, Name: scopeID + "_status.json"}
}

// ReportKey addresses the rendered report document.
func ReportKey(jobID uuid.UUID, scopeID string) RecordKey {
	return RecordKey{JobID: jobID, Name: scopeID + "_report.html"}
}

// ExportKey addresses the tabular report export.
func ExportKey(jobID uuid.UUID, scopeID string) RecordKey {
	return RecordKey{JobID: jobID, Name: scopeID + "_report.csv"}
}
