package status

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
	"github.com/GoogleCloudPlatform/cloudgauge/internal/infra/storage/posture/memory"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/logger"
)

func testTracker(store posture.FindingStore) *Tracker {
	log := logger.New(io.Discard, logger.LevelDebug, "status-test", nil)
	return NewTracker(store, log, noop.NewTracerProvider().Tracer("test"))
}

func putStatus(t *testing.T, store posture.FindingStore, record posture.StatusRecord) {
	t.Helper()
	data, err := record.Encode()
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), record.Key(), data))
}

func TestStatusUnknownJobIsPending(t *testing.T) {
	t.Parallel()

	tracker := testTracker(memory.New())
	record, err := tracker.Status(context.Background(), uuid.New(), "org-1")
	require.NoError(t, err)

	assert.Equal(t, posture.PhasePending, record.Phase)
	assert.Equal(t, 0, record.Progress)
	assert.Equal(t, "Waiting for scan to start...", record.CurrentTask)
}

func TestStatusSingleUnitJobReturnsStoredRecord(t *testing.T) {
	t.Parallel()

	store := memory.New()
	jobID := uuid.New()
	putStatus(t, store, posture.NewStatusRecord(jobID, "proj-1", posture.PhaseDispatched,
		posture.ProgressDispatched, "Scanning project...").WithResourceCount(1))

	record, err := testTracker(store).Status(context.Background(), jobID, "proj-1")
	require.NoError(t, err)

	assert.Equal(t, posture.PhaseDispatched, record.Phase)
	assert.Equal(t, "Scanning project...", record.CurrentTask)
	assert.Nil(t, record.CompletedCount, "single-unit jobs never derive from markers")
}

func TestStatusDerivesProcessingFromMarkers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	jobID := uuid.New()
	putStatus(t, store, posture.NewStatusRecord(jobID, "org-1", posture.PhaseDispatched,
		posture.ProgressDispatched, "Scanning...").WithResourceCount(3))
	require.NoError(t, store.Put(ctx, posture.MarkerKey(jobID, "proj-1"), []byte{}))
	require.NoError(t, store.Put(ctx, posture.MarkerKey(jobID, "proj-2"), []byte{}))

	record, err := testTracker(store).Status(ctx, jobID, "org-1")
	require.NoError(t, err)

	assert.Equal(t, posture.PhaseProcessing, record.Phase)
	assert.Equal(t, "Processing... 2 of 3 projects complete.", record.CurrentTask)
	require.NotNil(t, record.CompletedCount)
	assert.Equal(t, 2, *record.CompletedCount)
	assert.Equal(t, posture.ProgressDispatched, record.Progress, "derivation keeps the stored progress")
}

func TestStatusDerivesReadyWhenAllMarkersPresent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	jobID := uuid.New()
	putStatus(t, store, posture.NewStatusRecord(jobID, "org-1", posture.PhaseDispatched,
		posture.ProgressDispatched, "Scanning...").WithResourceCount(2))
	require.NoError(t, store.Put(ctx, posture.MarkerKey(jobID, "proj-1"), []byte{}))
	require.NoError(t, store.Put(ctx, posture.MarkerKey(jobID, "proj-2"), []byte{}))

	record, err := testTracker(store).Status(ctx, jobID, "org-1")
	require.NoError(t, err)

	assert.Equal(t, posture.PhaseReadyToAggregate, record.Phase)
	assert.Equal(t, posture.ProgressReady, record.Progress)
	assert.Equal(t, "All projects scanned. Ready to generate report.", record.CurrentTask)
}

func TestStatusMarkerCountIgnoresOtherRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	jobID := uuid.New()
	putStatus(t, store, posture.NewStatusRecord(jobID, "org-1", posture.PhaseDispatched,
		posture.ProgressDispatched, "Scanning...").WithResourceCount(2))

	finding, err := posture.NewFinding(jobID, "proj-1", "Public GCS Buckets",
		posture.StatusCompliant, []posture.Detail{{"Status": "ok"}})
	require.NoError(t, err)
	data, err := finding.Encode()
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, finding.Key(), data))

	record, err := testTracker(store).Status(ctx, jobID, "org-1")
	require.NoError(t, err)

	assert.Equal(t, posture.PhaseProcessing, record.Phase)
	require.NotNil(t, record.CompletedCount)
	assert.Equal(t, 0, *record.CompletedCount, "findings without a marker do not count")
}

func TestStatusAggregatingPhaseIsAuthoritative(t *testing.T) {
	t.Parallel()

	store := memory.New()
	jobID := uuid.New()
	putStatus(t, store, posture.NewStatusRecord(jobID, "org-1", posture.PhaseAggregating,
		posture.ProgressAggregating, "Aggregating findings...").WithResourceCount(5))

	record, err := testTracker(store).Status(context.Background(), jobID, "org-1")
	require.NoError(t, err)

	assert.Equal(t, posture.PhaseAggregating, record.Phase)
	assert.Nil(t, record.CompletedCount)
}

type listFailingStore struct {
	*memory.Store
}

func (s *listFailingStore) List(context.Context, uuid.UUID) ([]posture.Record, error) {
	return nil, errors.New("backend unavailable")
}

func TestStatusListFailureFallsBackToStoredRecord(t *testing.T) {
	t.Parallel()

	store := &listFailingStore{Store: memory.New()}
	jobID := uuid.New()
	putStatus(t, store, posture.NewStatusRecord(jobID, "org-1", posture.PhaseDispatched,
		posture.ProgressDispatched, "Scanning...").WithResourceCount(3))

	record, err := testTracker(store).Status(context.Background(), jobID, "org-1")
	require.NoError(t, err)

	assert.Equal(t, posture.PhaseDispatched, record.Phase)
	assert.Equal(t, "Scanning...", record.CurrentTask)
}
