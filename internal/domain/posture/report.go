package posture

import (
	"time"

	"github.com/google/uuid"
)

// CheckResult is the merged outcome of one check across every resource unit
// in a job: the union of all detail records and the worst status observed.
type CheckResult struct {
	Status  FindingStatus `json:"status"`
	Details []Detail      `json:"details,omitempty"`
}

// CategoryResult holds a category's merged checks and its score.
type CategoryResult struct {
	Checks map[string]*CheckResult `json:"checks"`
	Score  float64                 `json:"score"`
}

// StatusCounts tallies one unit per contributing finding, so a check that
// fired on ten projects weighs ten in the summary even though it renders as
// one merged row.
type StatusCounts struct {
	ActionRequired           int `json:"action_required"`
	InvestigationRecommended int `json:"investigation_recommended"`
	Informational            int `json:"informational"`
	Compliant                int `json:"compliant"`
	Errors                   int `json:"errors"`
}

// Report is the final aggregated result of a scan job, handed to the renderer
// and summarized back to clients.
type Report struct {
	JobID       uuid.UUID                    `json:"job_id"`
	ScopeKind   ScopeKind                    `json:"scope_kind"`
	ScopeID     string                       `json:"scope_id"`
	GeneratedAt time.Time                    `json:"generated_at"`
	Categories  map[Category]*CategoryResult `json:"categories"`
	Policies    *PolicyComparison            `json:"policies,omitempty"`
	Counts      StatusCounts                 `json:"counts"`
}

// ReportBuilder accumulates findings into a report. The merge is commutative
// and associative (detail accumulation plus worst-status reduction), so
// findings can be added in any order and duplicate overwritten findings
// converge to the same result.
type ReportBuilder struct {
	jobID      uuid.UUID
	scopeKind  ScopeKind
	scopeID    string
	categories map[Category]*CategoryResult
	policies   *PolicyComparison
	counts     StatusCounts
}

// NewReportBuilder starts an empty report for a job. Every known category is
// present from the start so an untouched category still appears (and scores
// 100, see Build).
func NewReportBuilder(jobID uuid.UUID, scopeKind ScopeKind, scopeID string) *ReportBuilder {
	cats := make(map[Category]*CategoryResult, len(Categories()))
	for _, c := range Categories() {
		cats[c] = &CategoryResult{Checks: make(map[string]*CheckResult)}
	}
	return &ReportBuilder{
		jobID:      jobID,
		scopeKind:  scopeKind,
		scopeID:    scopeID,
		categories: cats,
	}
}

// Add merges a finding into the report. It returns false when the check name
// is unknown to the taxonomy; the finding is dropped and the caller decides
// how loudly to log it.
func (b *ReportBuilder) Add(f Finding) bool {
	category, ok := CategoryOf(f.CheckName)
	if !ok {
		return false
	}

	cr := b.categories[category]
	check, ok := cr.Checks[f.CheckName]
	if !ok {
		check = &CheckResult{Status: f.Status}
		cr.Checks[f.CheckName] = check
	}

	check.Details = append(check.Details, f.Details...)
	check.Status = WorstStatus(check.Status, f.Status)

	switch f.Status {
	case StatusActionRequired:
		b.counts.ActionRequired++
	case StatusInvestigationRecommended:
		b.counts.InvestigationRecommended++
	case StatusInformational:
		b.counts.Informational++
	case StatusCompliant:
		b.counts.Compliant++
	case StatusError:
		b.counts.Errors++
	}
	return true
}

// SetPolicyComparison attaches the scope-wide organization policy comparison.
// Its pass/fail counts fold into the Security & Identity score.
func (b *ReportBuilder) SetPolicyComparison(pc *PolicyComparison) { b.policies = pc }

// Build computes scores and summary counts. A category score is
// compliant / (compliant + non-compliant) x 100 where non-compliant covers
// Action Required, Investigation Recommended, and Error; Informational checks
// affect neither side. A category with zero evaluated checks scores 100:
// treated as fully compliant by product decision, not excluded from the
// overall picture.
func (b *ReportBuilder) Build() *Report {
	report := &Report{
		JobID:       b.jobID,
		ScopeKind:   b.scopeKind,
		ScopeID:     b.scopeID,
		GeneratedAt: time.Now().UTC(),
		Categories:  b.categories,
		Policies:    b.policies,
		Counts:      b.counts,
	}

	for category, cr := range b.categories {
		var pass, fail int
		for _, check := range cr.Checks {
			switch {
			case check.Status == StatusCompliant:
				pass++
			case check.Status.NonCompliant():
				fail++
			}
		}

		if category == CategorySecurity && b.policies != nil {
			pass += b.policies.Compliant
			fail += b.policies.Total - b.policies.Compliant
		}

		if total := pass + fail; total > 0 {
			cr.Score = float64(pass) / float64(total) * 100
		} else {
			cr.Score = 100
		}
	}

	if b.policies != nil {
		report.Counts.Compliant += b.policies.Compliant
		report.Counts.ActionRequired += b.policies.Total - b.policies.Compliant
	}

	return report
}
