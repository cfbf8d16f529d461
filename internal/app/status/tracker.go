// Package status derives the externally visible state of a scan job.
package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/logger"
)

// Tracker answers status queries by overlaying live marker counts on the
// stored status record. Nothing writes state on the query path; the worker
// fleet never has to report progress anywhere, progress is read off the
// completion markers each unit already leaves behind.
type Tracker struct {
	store  posture.FindingStore
	logger *logger.Logger
	tracer trace.Tracer
}

// NewTracker wires the tracker's dependencies.
func NewTracker(store posture.FindingStore, log *logger.Logger, tracer trace.Tracer) *Tracker {
	return &Tracker{store: store, logger: log, tracer: tracer}
}

// Status reports the current state of a job. A job with no status record yet
// is pending, not an error: the dispatcher may simply not have written its
// first record. During fan-out the phase and completed count are derived from
// markers; every other phase returns the stored record untouched.
func (t *Tracker) Status(ctx context.Context, jobID uuid.UUID, scopeID string) (posture.StatusRecord, error) {
	ctx, span := t.tracer.Start(ctx, "tracker.status",
		trace.WithAttributes(
			attribute.String("job_id", jobID.String()),
			attribute.String("scope_id", scopeID),
		),
	)
	defer span.End()

	data, err := t.store.Get(ctx, posture.StatusKey(jobID, scopeID))
	if errors.Is(err, posture.ErrRecordNotFound) {
		return posture.NewStatusRecord(jobID, scopeID, posture.PhasePending, 0,
			"Waiting for scan to start..."), nil
	}
	if err != nil {
		return posture.StatusRecord{}, fmt.Errorf("loading status record: %w", err)
	}

	record, err := posture.DecodeStatusRecord(data)
	if err != nil {
		return posture.StatusRecord{}, fmt.Errorf("decoding status record: %w", err)
	}

	// Derivation only applies to a fanned-out scan in flight. Single-unit jobs
	// run inline and jump straight to aggregation, and once the aggregator
	// owns the job its stored record is authoritative.
	if record.Phase != posture.PhaseDispatched || record.ResourceCount == nil || *record.ResourceCount <= 1 {
		return record, nil
	}

	completed, err := t.countMarkers(ctx, jobID)
	if err != nil {
		// A flaky list degrades the answer, it does not fail the query.
		t.logger.Warn(ctx, "marker count unavailable, returning stored status",
			"job_id", jobID, "error", err)
		return record, nil
	}

	total := *record.ResourceCount
	record.CompletedCount = &completed

	if completed >= total {
		record.Phase = posture.PhaseReadyToAggregate
		record.Progress = posture.ProgressReady
		record.CurrentTask = "All projects scanned. Ready to generate report."
		return record, nil
	}

	record.Phase = posture.PhaseProcessing
	record.CurrentTask = fmt.Sprintf("Processing... %d of %d projects complete.", completed, total)
	return record, nil
}

// countMarkers counts resource units that have written their completion
// marker.
func (t *Tracker) countMarkers(ctx context.Context, jobID uuid.UUID) (int, error) {
	records, err := t.store.List(ctx, jobID)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{})
	for _, rec := range records {
		if rec.Key.IsMarker() {
			seen[rec.Key.ResourceID] = struct{}{}
		}
	}
	return len(seen), nil
}
