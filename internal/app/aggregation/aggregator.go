// Package aggregation merges a job's findings into its final report.
package aggregation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/logger"
)

// Aggregator folds every finding of a ready job into one report, renders the
// artifacts, and purges the job's transient records. Aggregation is
// idempotent: a completed job is a no-op, and a failed run leaves the
// transient records intact for a retry.
type Aggregator struct {
	store    posture.FindingStore
	renderer posture.ReportRenderer
	logger   *logger.Logger
	tracer   trace.Tracer
}

// NewAggregator wires the aggregator's dependencies.
func NewAggregator(
	store posture.FindingStore,
	renderer posture.ReportRenderer,
	log *logger.Logger,
	tracer trace.Tracer,
) *Aggregator {
	return &Aggregator{store: store, renderer: renderer, logger: log, tracer: tracer}
}

// HandleTask adapts the aggregator to queue delivery.
func (a *Aggregator) HandleTask(ctx context.Context, task posture.Task) error {
	if task.Kind != posture.TaskKindAggregate {
		return fmt.Errorf("aggregator: unexpected task kind %q", task.Kind)
	}
	// ErrNotReady propagates: a queued aggregation that raced a slow worker
	// fails the delivery and gets retried by the queue.
	return a.Aggregate(ctx, task.JobID, task.ScopeKind, task.ScopeID, false)
}

// Aggregate merges, renders, and finalizes one job. With force unset it
// refuses to run before every resource unit has its completion marker;
// force is the single-unit inline path where the caller just finished the
// only scan itself.
func (a *Aggregator) Aggregate(ctx context.Context, jobID uuid.UUID, scopeKind posture.ScopeKind, scopeID string, force bool) error {
	ctx, span := a.tracer.Start(ctx, "aggregator.aggregate",
		trace.WithAttributes(
			attribute.String("job_id", jobID.String()),
			attribute.String("scope_id", scopeID),
			attribute.Bool("force", force),
		),
	)
	defer span.End()

	prior, havePrior := a.loadStatus(ctx, jobID, scopeID)
	if havePrior && prior.Phase == posture.PhaseCompleted {
		a.logger.Info(ctx, "job already completed, skipping aggregation", "job_id", jobID)
		return nil
	}

	records, err := a.store.List(ctx, jobID)
	if err != nil {
		return a.fail(ctx, jobID, scopeID, fmt.Errorf("listing job records: %w", err))
	}

	if !force && havePrior && prior.ResourceCount != nil {
		if markers := countMarkers(records); markers < *prior.ResourceCount {
			return fmt.Errorf("%w: %d of %d resource units complete",
				posture.ErrNotReady, markers, *prior.ResourceCount)
		}
	}

	a.writeStatus(ctx, jobID, scopeID, posture.PhaseAggregating, posture.ProgressAggregating,
		"Aggregating findings...")

	report := a.buildReport(ctx, jobID, scopeKind, scopeID, records)

	a.writeStatus(ctx, jobID, scopeID, posture.PhaseAggregating, posture.ProgressRendering,
		"Generating report...")

	document, export, err := a.renderer.Render(ctx, report)
	if err != nil {
		return a.fail(ctx, jobID, scopeID, fmt.Errorf("rendering report: %w", err))
	}

	if err := a.store.Put(ctx, posture.ReportKey(jobID, scopeID), document); err != nil {
		return a.fail(ctx, jobID, scopeID, fmt.Errorf("storing report document: %w", err))
	}
	if err := a.store.Put(ctx, posture.ExportKey(jobID, scopeID), export); err != nil {
		return a.fail(ctx, jobID, scopeID, fmt.Errorf("storing report export: %w", err))
	}

	a.writeStatus(ctx, jobID, scopeID, posture.PhaseCompleted, posture.ProgressDone, "Report ready.")

	// Artifacts are durable; purge the working set. A failed purge costs
	// storage, not correctness, so it only warns.
	if err := a.store.DeleteTransient(ctx, jobID); err != nil {
		a.logger.Warn(ctx, "purging transient records failed", "job_id", jobID, "error", err)
	}

	a.logger.Info(ctx, "aggregation complete", "job_id", jobID, "scope_id", scopeID,
		"action_required", report.Counts.ActionRequired, "errors", report.Counts.Errors)
	return nil
}

// buildReport folds findings and the policy snapshot pair into a report.
// Undecodable records and unknown check names are logged and skipped; one bad
// record must not sink an otherwise complete job.
func (a *Aggregator) buildReport(ctx context.Context, jobID uuid.UUID, scopeKind posture.ScopeKind, scopeID string, records []posture.Record) *posture.Report {
	builder := posture.NewReportBuilder(jobID, scopeKind, scopeID)

	var baselineData, currentData []byte
	for _, rec := range records {
		switch {
		case rec.Key.IsFinding():
			finding, err := posture.DecodeFinding(rec.Payload)
			if err != nil {
				a.logger.Warn(ctx, "skipping undecodable finding", "key", rec.Key.String(), "error", err)
				continue
			}
			if !builder.Add(finding) {
				a.logger.Warn(ctx, "dropping finding with unknown check name",
					"check", finding.CheckName, "resource_id", finding.ResourceID)
			}
		case rec.Key == posture.BaselineKey(jobID):
			baselineData = rec.Payload
		case rec.Key == posture.CurrentPoliciesKey(jobID):
			currentData = rec.Payload
		}
	}

	if baselineData != nil && currentData != nil {
		baseline, berr := posture.DecodeBaseline(baselineData)
		current, cerr := posture.DecodeSnapshot(currentData)
		if berr != nil || cerr != nil {
			a.logger.Warn(ctx, "skipping corrupt policy snapshots", "job_id", jobID,
				"baseline_error", berr, "current_error", cerr)
		} else {
			builder.SetPolicyComparison(posture.ComparePolicies(baseline, current))
		}
	}

	return builder.Build()
}

func (a *Aggregator) loadStatus(ctx context.Context, jobID uuid.UUID, scopeID string) (posture.StatusRecord, bool) {
	data, err := a.store.Get(ctx, posture.StatusKey(jobID, scopeID))
	if err != nil {
		return posture.StatusRecord{}, false
	}
	record, err := posture.DecodeStatusRecord(data)
	if err != nil {
		a.logger.Warn(ctx, "ignoring corrupt status record", "job_id", jobID, "error", err)
		return posture.StatusRecord{}, false
	}
	return record, true
}

// writeStatus overwrites the job's status record. A write that would move the
// job backwards through its lifecycle is refused; same-phase writes are
// progress refreshes and always pass.
func (a *Aggregator) writeStatus(ctx context.Context, jobID uuid.UUID, scopeID string, phase posture.JobPhase, progress int, task string) {
	if prior, ok := a.loadStatus(ctx, jobID, scopeID); ok && prior.Phase != phase {
		if err := prior.Phase.ValidateTransition(phase); err != nil {
			a.logger.Error(ctx, "refusing status write", "job_id", jobID, "error", err)
			return
		}
	}

	record := posture.NewStatusRecord(jobID, scopeID, phase, progress, task)
	data, err := record.Encode()
	if err != nil {
		a.logger.Error(ctx, "encoding status record", "job_id", jobID, "error", err)
		return
	}
	if err := a.store.Put(ctx, record.Key(), data); err != nil {
		a.logger.Error(ctx, "writing status record", "job_id", jobID, "phase", phase, "error", err)
	}
}

// fail records the error phase and keeps the transient records so a retried
// aggregation can pick the job back up.
func (a *Aggregator) fail(ctx context.Context, jobID uuid.UUID, scopeID string, err error) error {
	a.logger.Error(ctx, "aggregation failed", "job_id", jobID, "scope_id", scopeID, "error", err)
	a.writeStatus(ctx, jobID, scopeID, posture.PhaseError, posture.ProgressAggregating,
		fmt.Sprintf("Aggregation failed: %v", err))
	return err
}

func countMarkers(records []posture.Record) int {
	seen := make(map[string]struct{})
	for _, rec := range records {
		if rec.Key.IsMarker() {
			seen[rec.Key.ResourceID] = struct{}{}
		}
	}
	return len(seen)
}
