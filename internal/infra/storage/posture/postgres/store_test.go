package postgres

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
	"github.com/GoogleCloudPlatform/cloudgauge/internal/infra/storage"
)

func setupStore(t *testing.T) (*recordStore, func()) {
	t.Helper()
	pool, cleanup := storage.SetupTestContainer(t)
	return NewRecordStore(pool, storage.NoOpTracer()), cleanup
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()
	store, cleanup := setupStore(t)
	defer cleanup()

	ctx := context.Background()
	key := posture.FindingKey(uuid.New(), "proj-a", "Public GCS Buckets")

	require.NoError(t, store.Put(ctx, key, []byte(`{"status":"Compliant"}`)))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"Compliant"}`, string(got))
}

func TestPutOverwrites(t *testing.T) {
	t.Parallel()
	store, cleanup := setupStore(t)
	defer cleanup()

	ctx := context.Background()
	jobID := uuid.New()
	key := posture.StatusKey(jobID, "org-1")

	require.NoError(t, store.Put(ctx, key, []byte(`{"progress":5}`)))
	require.NoError(t, store.Put(ctx, key, []byte(`{"progress":50}`)))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"progress":50}`, string(got))
}

func TestGetMissingRecord(t *testing.T) {
	t.Parallel()
	store, cleanup := setupStore(t)
	defer cleanup()

	_, err := store.Get(context.Background(), posture.StatusKey(uuid.New(), "org-1"))
	assert.ErrorIs(t, err, posture.ErrRecordNotFound)
}

func TestListScopedToJob(t *testing.T) {
	t.Parallel()
	store, cleanup := setupStore(t)
	defer cleanup()

	ctx := context.Background()
	jobA, jobB := uuid.New(), uuid.New()

	require.NoError(t, store.Put(ctx, posture.FindingKey(jobA, "proj-1", "GKE Hygiene"), []byte(`{}`)))
	require.NoError(t, store.Put(ctx, posture.MarkerKey(jobA, "proj-1"), []byte(`{}`)))
	require.NoError(t, store.Put(ctx, posture.FindingKey(jobB, "proj-1", "GKE Hygiene"), []byte(`{}`)))

	records, err := store.List(ctx, jobA)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, jobA, rec.Key.JobID)
		assert.False(t, rec.UpdatedAt.IsZero())
	}
}

func TestDeleteTransientKeepsArtifacts(t *testing.T) {
	t.Parallel()
	store, cleanup := setupStore(t)
	defer cleanup()

	ctx := context.Background()
	jobID := uuid.New()

	require.NoError(t, store.Put(ctx, posture.FindingKey(jobID, "proj-1", "Open Firewall Rules (any)"), []byte(`{}`)))
	require.NoError(t, store.Put(ctx, posture.MarkerKey(jobID, "proj-1"), []byte(`{}`)))
	require.NoError(t, store.Put(ctx, posture.BaselineKey(jobID), []byte(`{}`)))
	require.NoError(t, store.Put(ctx, posture.StatusKey(jobID, "org-1"), []byte(`{"progress":100}`)))
	require.NoError(t, store.Put(ctx, posture.ReportKey(jobID, "org-1"), []byte(`<html></html>`)))

	require.NoError(t, store.DeleteTransient(ctx, jobID))

	records, err := store.List(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, records, 2)

	names := []string{records[0].Key.Name, records[1].Key.Name}
	assert.ElementsMatch(t, []string{"org-1_status.json", "org-1_report.html"}, names)
}
