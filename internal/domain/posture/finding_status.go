package posture

// FindingStatus represents the compliance outcome of a single check against a
// single resource unit.
type FindingStatus string

const (
	// StatusActionRequired indicates a confirmed posture violation that needs
	// remediation.
	StatusActionRequired FindingStatus = "Action Required"

	// StatusInvestigationRecommended indicates a suspicious configuration that
	// warrants a human look but is not a confirmed violation.
	StatusInvestigationRecommended FindingStatus = "Investigation Recommended"

	// StatusInformational indicates a neutral observation.
	StatusInformational FindingStatus = "Informational"

	// StatusCompliant indicates the check passed.
	StatusCompliant FindingStatus = "Compliant"

	// StatusError indicates the check itself failed to run to completion.
	StatusError FindingStatus = "Error"
)

func (s FindingStatus) String() string { return string(s) }

// unknownPriority sorts behind every known status so an unrecognized status
// can never win a merge.
const unknownPriority = 99

// Priority returns the merge rank of the status. Lower wins when the same
// check reports different statuses across resource units. The order is fixed:
// Action Required < Investigation Recommended < Informational < Compliant < Error.
// Error ranks last on purpose: a check that failed to run must not mask a
// violation another unit reported.
func (s FindingStatus) Priority() int {
	switch s {
	case StatusActionRequired:
		return 0
	case StatusInvestigationRecommended:
		return 1
	case StatusInformational:
		return 2
	case StatusCompliant:
		return 3
	case StatusError:
		return 4
	default:
		return unknownPriority
	}
}

// Known reports whether the status is part of the fixed taxonomy.
func (s FindingStatus) Known() bool { return s.Priority() != unknownPriority }

// NonCompliant reports whether the status counts against a category's score.
func (s FindingStatus) NonCompliant() bool {
	return s == StatusActionRequired || s == StatusInvestigationRecommended || s == StatusError
}

// WorstStatus returns the higher-severity of two statuses per the fixed
// priority order. It is commutative and associative, which keeps the
// aggregator's merge independent of finding arrival order.
func WorstStatus(a, b FindingStatus) FindingStatus {
	if b.Priority() < a.Priority() {
		return b
	}
	return a
}
