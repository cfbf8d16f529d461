// Package scanning runs the per-resource check suite and records findings.
package scanning

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/checks"
	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/logger"
)

// Worker executes every registered check against one resource unit, writing
// one finding per check and a completion marker once all checks have
// returned. Finding keys are deterministic, so a redelivered task simply
// overwrites its previous output.
type Worker struct {
	store       posture.FindingStore
	registry    []checks.Check
	concurrency int
	logger      *logger.Logger
	tracer      trace.Tracer
}

// NewWorker builds a worker running at most concurrency checks in parallel
// per resource unit.
func NewWorker(
	store posture.FindingStore,
	registry []checks.Check,
	concurrency int,
	log *logger.Logger,
	tracer trace.Tracer,
) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		store:       store,
		registry:    registry,
		concurrency: concurrency,
		logger:      log,
		tracer:      tracer,
	}
}

// HandleTask adapts the worker to queue delivery.
func (w *Worker) HandleTask(ctx context.Context, task posture.Task) error {
	if task.Kind != posture.TaskKindScanResource {
		return fmt.Errorf("worker: unexpected task kind %q", task.Kind)
	}
	return w.ScanResource(ctx, task.JobID, task.ResourceID)
}

// ScanResource runs the full check suite against one resource unit. A check
// that fails or panics becomes an Error finding rather than failing the unit;
// the only hard failure is being unable to persist results, which leaves the
// task eligible for redelivery.
func (w *Worker) ScanResource(ctx context.Context, jobID uuid.UUID, resourceID string) error {
	ctx, span := w.tracer.Start(ctx, "worker.scan_resource",
		trace.WithAttributes(
			attribute.String("job_id", jobID.String()),
			attribute.String("resource_id", resourceID),
		),
	)
	defer span.End()

	w.logger.Info(ctx, "scanning resource", "job_id", jobID, "resource_id", resourceID,
		"checks", len(w.registry))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for _, check := range w.registry {
		check := check
		g.Go(func() error {
			status, details := w.runCheck(gctx, check, resourceID)

			finding, err := posture.NewFinding(jobID, resourceID, check.Name(), status, details)
			if err != nil {
				return err
			}
			data, err := finding.Encode()
			if err != nil {
				return err
			}
			if err := w.store.Put(gctx, finding.Key(), data); err != nil {
				return fmt.Errorf("storing finding %s for %s: %w", check.Name(), resourceID, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	// The marker is written last: its presence asserts that every finding
	// above is already durable.
	if err := w.store.Put(ctx, posture.MarkerKey(jobID, resourceID), []byte{}); err != nil {
		return fmt.Errorf("writing completion marker for %s: %w", resourceID, err)
	}

	w.logger.Info(ctx, "resource scan complete", "job_id", jobID, "resource_id", resourceID)
	return nil
}

// runCheck executes one check, converting errors and panics into an Error
// status so a single broken check cannot take down the whole unit.
func (w *Worker) runCheck(ctx context.Context, check checks.Check, resourceID string) (status posture.FindingStatus, details []posture.Detail) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error(ctx, "check panicked", "check", check.Name(), "resource_id", resourceID, "panic", r)
			status = posture.StatusError
			details = []posture.Detail{{"Error": fmt.Sprintf("check %s panicked: %v", check.Name(), r)}}
		}
	}()

	status, details, err := check.Run(ctx, resourceID)
	if err != nil {
		w.logger.Warn(ctx, "check failed", "check", check.Name(), "resource_id", resourceID, "error", err)
		return posture.StatusError, []posture.Detail{{"Error": err.Error()}}
	}
	return status, details
}
