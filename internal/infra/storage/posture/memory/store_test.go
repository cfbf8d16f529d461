package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
)

func TestPutGetOverwrite(t *testing.T) {
	t.Parallel()
	store := New()
	ctx := context.Background()
	key := posture.FindingKey(uuid.New(), "proj-1", "Project IAM Hygiene")

	_, err := store.Get(ctx, key)
	assert.ErrorIs(t, err, posture.ErrRecordNotFound)

	require.NoError(t, store.Put(ctx, key, []byte("v1")))
	require.NoError(t, store.Put(ctx, key, []byte("v2")))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()
	store := New()
	ctx := context.Background()
	key := posture.BaselineKey(uuid.New())

	require.NoError(t, store.Put(ctx, key, []byte("original")))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	got[0] = 'X'

	again, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}

func TestListReturnsCopies(t *testing.T) {
	t.Parallel()
	store := New()
	ctx := context.Background()
	jobID := uuid.New()
	key := posture.FindingKey(jobID, "proj-1", "GKE Hygiene")

	require.NoError(t, store.Put(ctx, key, []byte("original")))

	records, err := store.List(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	records[0].Payload[0] = 'X'

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
}

func TestListScopedToJob(t *testing.T) {
	t.Parallel()
	store := New()
	ctx := context.Background()
	jobA, jobB := uuid.New(), uuid.New()

	require.NoError(t, store.Put(ctx, posture.MarkerKey(jobA, "proj-1"), nil))
	require.NoError(t, store.Put(ctx, posture.MarkerKey(jobA, "proj-2"), nil))
	require.NoError(t, store.Put(ctx, posture.MarkerKey(jobB, "proj-1"), nil))

	records, err := store.List(ctx, jobA)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestDeleteTransientKeepsArtifacts(t *testing.T) {
	t.Parallel()
	store := New()
	ctx := context.Background()
	jobID := uuid.New()

	require.NoError(t, store.Put(ctx, posture.FindingKey(jobID, "proj-1", "GKE Hygiene"), []byte("{}")))
	require.NoError(t, store.Put(ctx, posture.CurrentPoliciesKey(jobID), []byte("{}")))
	require.NoError(t, store.Put(ctx, posture.StatusKey(jobID, "org-1"), []byte("{}")))
	require.NoError(t, store.Put(ctx, posture.ExportKey(jobID, "org-1"), []byte("a,b")))

	require.NoError(t, store.DeleteTransient(ctx, jobID))

	records, err := store.List(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.False(t, rec.Key.Transient())
	}
}

func TestConcurrentWriters(t *testing.T) {
	t.Parallel()
	store := New()
	ctx := context.Background()
	jobID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := posture.MarkerKey(jobID, string(rune('a'+n)))
			_ = store.Put(ctx, key, nil)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, store.Len())
}
