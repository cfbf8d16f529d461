package posture

import "fmt"

// JobPhase tracks a scan job's lifecycle. The pending, processing, and
// ready_to_aggregate phases are derived by the status tracker; dispatched,
// aggregating, completed, and error are explicit writes by the dispatcher and
// aggregator.
type JobPhase string

const (
	// PhasePending means no status record exists yet.
	PhasePending JobPhase = "pending"

	// PhaseDispatched means the resource snapshot is taken and one worker task
	// per unit has been enqueued (or the inline path has started).
	PhaseDispatched JobPhase = "dispatched"

	// PhaseProcessing means some but not all resource units have written
	// their completion marker. Derived, never persisted.
	PhaseProcessing JobPhase = "processing"

	// PhaseReadyToAggregate means every resource unit has a completion
	// marker. Derived, never persisted.
	PhaseReadyToAggregate JobPhase = "ready_to_aggregate"

	// PhaseAggregating means the aggregator has started merging findings.
	PhaseAggregating JobPhase = "aggregating"

	// PhaseCompleted means the report artifacts are persisted and transient
	// state is purged.
	PhaseCompleted JobPhase = "completed"

	// PhaseError means dispatch or aggregation failed. Transient state is
	// left intact for a retried aggregation.
	PhaseError JobPhase = "error"
)

func (p JobPhase) String() string { return string(p) }

// Terminal reports whether no further transitions are allowed. Error is not
// terminal: a failed job keeps its working set and may retry aggregation.
func (p JobPhase) Terminal() bool { return p == PhaseCompleted }

// ValidateTransition checks a phase edge against the job lifecycle.
func (p JobPhase) ValidateTransition(target JobPhase) error {
	if !p.canTransition(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p, target)
	}
	return nil
}

func (p JobPhase) canTransition(target JobPhase) bool {
	switch p {
	case PhasePending:
		return target == PhaseDispatched || target == PhaseError
	case PhaseDispatched:
		// The single-unit inline path jumps straight to aggregating.
		return target == PhaseProcessing || target == PhaseAggregating || target == PhaseError
	case PhaseProcessing:
		return target == PhaseReadyToAggregate || target == PhaseAggregating || target == PhaseError
	case PhaseReadyToAggregate:
		return target == PhaseAggregating || target == PhaseError
	case PhaseAggregating:
		return target == PhaseCompleted || target == PhaseError
	case PhaseError:
		return target == PhaseAggregating
	default:
		return false
	}
}
