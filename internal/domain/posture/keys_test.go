package posture

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRecordKeyClassification(t *testing.T) {
	t.Parallel()

	jobID := uuid.New()

	finding := FindingKey(jobID, "proj-a", "Public GCS Buckets")
	assert.True(t, finding.IsFinding())
	assert.True(t, finding.Transient())
	assert.False(t, finding.IsMarker())

	marker := MarkerKey(jobID, "proj-a")
	assert.True(t, marker.IsMarker())
	assert.True(t, marker.Transient())
	assert.False(t, marker.IsFinding())

	baseline := BaselineKey(jobID)
	assert.True(t, baseline.IsPolicySnapshot())
	assert.True(t, baseline.Transient())
	assert.False(t, baseline.IsFinding())

	// Status records and artifacts survive the post-aggregation purge.
	assert.False(t, StatusKey(jobID, "folders/1").Transient())
	assert.False(t, ReportKey(jobID, "folders/1").Transient())
	assert.False(t, ExportKey(jobID, "folders/1").Transient())
}

func TestJobSnapshotResources(t *testing.T) {
	t.Parallel()

	job, err := NewJob(ScopeFolder, "folders/42")
	assert.NoError(t, err)
	assert.Equal(t, 0, job.ResourceCount())

	assert.ErrorIs(t, job.SnapshotResources(nil), ErrNoResources)

	assert.NoError(t, job.SnapshotResources([]ResourceUnit{"a", "b", "c"}))
	assert.Equal(t, 3, job.ResourceCount())

	// The snapshot is taken once; the list is never re-resolved.
	assert.Error(t, job.SnapshotResources([]ResourceUnit{"a"}))
}
