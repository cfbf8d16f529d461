// Package dispatch turns a scan request into fanned-out work.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/checks"
	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/logger"
)

// ResourceScanner runs the full check suite against one resource unit. The
// dispatcher uses it directly on single-unit jobs instead of paying a queue
// round trip.
type ResourceScanner interface {
	ScanResource(ctx context.Context, jobID uuid.UUID, resourceID string) error
}

// ReportAggregator finalizes a job once its scans are complete.
type ReportAggregator interface {
	Aggregate(ctx context.Context, jobID uuid.UUID, scopeKind posture.ScopeKind, scopeID string, force bool) error
}

// Dispatcher resolves a job's scope into resource units, runs the scope-wide
// checks, and either scans inline (one unit) or fans the units out over the
// task queue.
type Dispatcher struct {
	store       posture.FindingStore
	queue       posture.TaskQueue
	resolver    posture.InventoryResolver
	scopeChecks []checks.ScopeCheck
	scanner     ResourceScanner
	aggregator  ReportAggregator
	logger      *logger.Logger
	tracer      trace.Tracer

	jobsStarted   metric.Int64Counter
	unitsEnqueued metric.Int64Counter
}

// NewDispatcher wires the dispatcher's dependencies. Metric instrument
// creation failures are impossible for valid names, so they only log.
func NewDispatcher(
	store posture.FindingStore,
	queue posture.TaskQueue,
	resolver posture.InventoryResolver,
	scopeChecks []checks.ScopeCheck,
	scanner ResourceScanner,
	aggregator ReportAggregator,
	log *logger.Logger,
	tracer trace.Tracer,
	meter metric.Meter,
) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		queue:       queue,
		resolver:    resolver,
		scopeChecks: scopeChecks,
		scanner:     scanner,
		aggregator:  aggregator,
		logger:      log,
		tracer:      tracer,
	}

	var err error
	if d.jobsStarted, err = meter.Int64Counter("scan_jobs_started_total",
		metric.WithDescription("Scan jobs accepted for dispatch")); err != nil {
		log.Error(context.Background(), "creating jobs counter", "error", err)
	}
	if d.unitsEnqueued, err = meter.Int64Counter("scan_units_enqueued_total",
		metric.WithDescription("Resource units fanned out to the task queue")); err != nil {
		log.Error(context.Background(), "creating units counter", "error", err)
	}
	return d
}

// StartScan resolves the job's scope and launches its scans. Any failure
// before fan-out lands the job in the error phase with a client-readable
// message; nothing is retried here because the job never left the building.
func (d *Dispatcher) StartScan(ctx context.Context, job *posture.Job) error {
	ctx, span := d.tracer.Start(ctx, "dispatcher.start_scan",
		trace.WithAttributes(
			attribute.String("job_id", job.JobID().String()),
			attribute.String("scope_kind", job.ScopeKind().String()),
			attribute.String("scope_id", job.ScopeID()),
		),
	)
	defer span.End()

	if d.jobsStarted != nil {
		d.jobsStarted.Add(ctx, 1,
			metric.WithAttributes(attribute.String("scope_kind", job.ScopeKind().String())))
	}

	d.writeStatus(ctx, job, posture.PhaseDispatched, posture.ProgressResolving,
		"Resolving resource inventory...", false)

	units, err := d.resolver.Resolve(ctx, job.ScopeKind(), job.ScopeID())
	if err != nil {
		return d.fail(ctx, job, fmt.Errorf("resolving inventory: %w", err))
	}

	if err := job.SnapshotResources(units); err != nil {
		if errors.Is(err, posture.ErrNoResources) {
			return d.fail(ctx, job, fmt.Errorf("scope %s %s: %w",
				job.ScopeKind(), job.ScopeID(), err))
		}
		return d.fail(ctx, job, err)
	}

	d.runScopeChecks(ctx, job)

	count := job.ResourceCount()
	d.logger.Info(ctx, "dispatching scan", "job_id", job.JobID(),
		"scope_kind", job.ScopeKind(), "scope_id", job.ScopeID(), "resource_units", count)

	if count == 1 {
		return d.scanInline(ctx, job, units[0])
	}
	return d.fanOut(ctx, job, units)
}

// scanInline is the single-unit path: the dispatcher scans and aggregates
// itself, so a project-scope request returns a finished report without ever
// touching the queue.
func (d *Dispatcher) scanInline(ctx context.Context, job *posture.Job, unit posture.ResourceUnit) error {
	d.writeStatus(ctx, job, posture.PhaseDispatched, posture.ProgressDispatched,
		"Scanning project...", true)

	if err := d.scanner.ScanResource(ctx, job.JobID(), string(unit)); err != nil {
		return d.fail(ctx, job, fmt.Errorf("scanning %s: %w", unit, err))
	}

	// Force: the dispatcher just finished the only unit itself, the marker
	// gate has nothing left to wait for.
	if err := d.aggregator.Aggregate(ctx, job.JobID(), job.ScopeKind(), job.ScopeID(), true); err != nil {
		return fmt.Errorf("aggregating single-unit job: %w", err)
	}
	return nil
}

// fanOut enqueues one scan task per resource unit. A failed enqueue aborts
// the job: a partial fan-out would leave the marker gate waiting forever.
func (d *Dispatcher) fanOut(ctx context.Context, job *posture.Job, units []posture.ResourceUnit) error {
	d.writeStatus(ctx, job, posture.PhaseDispatched, posture.ProgressDispatched,
		fmt.Sprintf("Scanning %d projects...", len(units)), true)

	for _, unit := range units {
		task := posture.Task{
			Kind:       posture.TaskKindScanResource,
			JobID:      job.JobID(),
			ResourceID: string(unit),
		}
		if err := d.queue.Enqueue(ctx, task); err != nil {
			return d.fail(ctx, job, fmt.Errorf("enqueueing scan for %s: %w", unit, err))
		}
	}

	if d.unitsEnqueued != nil {
		d.unitsEnqueued.Add(ctx, int64(len(units)))
	}
	return nil
}

// runScopeChecks executes the scope-wide checks and records their findings
// under the scope id. Scope check errors degrade the report, they never abort
// the job: the per-project fan-out is still worth running.
func (d *Dispatcher) runScopeChecks(ctx context.Context, job *posture.Job) {
	req := checks.ScopeRequest{
		JobID:   job.JobID(),
		Kind:    job.ScopeKind(),
		ScopeID: job.ScopeID(),
		Store:   d.store,
	}

	for _, check := range d.scopeChecks {
		results, err := check.Run(ctx, req)
		if err != nil {
			d.logger.Error(ctx, "scope check failed", "job_id", job.JobID(), "error", err)
			continue
		}
		for _, result := range results {
			finding, err := posture.NewFinding(job.JobID(), job.ScopeID(),
				result.CheckName, result.Status, result.Details)
			if err != nil {
				d.logger.Error(ctx, "invalid scope finding", "check", result.CheckName, "error", err)
				continue
			}
			data, err := finding.Encode()
			if err != nil {
				d.logger.Error(ctx, "encoding scope finding", "check", result.CheckName, "error", err)
				continue
			}
			if err := d.store.Put(ctx, finding.Key(), data); err != nil {
				d.logger.Error(ctx, "storing scope finding", "check", result.CheckName, "error", err)
			}
		}
	}
}

// writeStatus overwrites the job's status record. A replayed or duplicated
// start must not move an in-flight or finished job backwards, so any write
// that is not a valid lifecycle edge (or a same-phase refresh) is refused.
func (d *Dispatcher) writeStatus(ctx context.Context, job *posture.Job, phase posture.JobPhase, progress int, task string, includeCount bool) {
	if data, err := d.store.Get(ctx, posture.StatusKey(job.JobID(), job.ScopeID())); err == nil {
		if prior, derr := posture.DecodeStatusRecord(data); derr == nil && prior.Phase != phase {
			if verr := prior.Phase.ValidateTransition(phase); verr != nil {
				d.logger.Error(ctx, "refusing status write", "job_id", job.JobID(), "error", verr)
				return
			}
		}
	}

	record := posture.NewStatusRecord(job.JobID(), job.ScopeID(), phase, progress, task)
	if includeCount {
		record = record.WithResourceCount(job.ResourceCount())
	}
	data, err := record.Encode()
	if err != nil {
		d.logger.Error(ctx, "encoding status record", "job_id", job.JobID(), "error", err)
		return
	}
	if err := d.store.Put(ctx, record.Key(), data); err != nil {
		d.logger.Error(ctx, "writing status record", "job_id", job.JobID(), "phase", phase, "error", err)
	}
}

func (d *Dispatcher) fail(ctx context.Context, job *posture.Job, err error) error {
	d.logger.Error(ctx, "dispatch failed", "job_id", job.JobID(), "scope_id", job.ScopeID(), "error", err)
	d.writeStatus(ctx, job, posture.PhaseError, posture.ProgressResolving,
		fmt.Sprintf("Scan failed to start: %v", err), false)
	return err
}
