// Package renderer produces the final report artifacts: an HTML document for
// browsers and a CSV export for spreadsheets.
package renderer

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/csv"
	"fmt"
	"html/template"
	"sort"
	"strings"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
)

//go:embed report.html.tmpl
var reportTemplate string

// Renderer implements posture.ReportRenderer with an embedded HTML template
// and a flat CSV layout.
type Renderer struct {
	tmpl *template.Template
}

var _ posture.ReportRenderer = (*Renderer)(nil)

// New parses the embedded template once.
func New() (*Renderer, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatScore":  formatScore,
		"detailString": detailString,
		"statusClass":  statusClass,
		"sortedChecks": sortedChecks,
	}).Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing report template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

type categorySection struct {
	Name   posture.Category
	Result *posture.CategoryResult
}

type templateData struct {
	Report     *posture.Report
	Categories []categorySection
}

// Render produces the HTML document and CSV export for a report.
func (r *Renderer) Render(_ context.Context, report *posture.Report) ([]byte, []byte, error) {
	data := templateData{Report: report}
	for _, category := range posture.Categories() {
		if result, ok := report.Categories[category]; ok {
			data.Categories = append(data.Categories, categorySection{Name: category, Result: result})
		}
	}

	var html bytes.Buffer
	if err := r.tmpl.Execute(&html, data); err != nil {
		return nil, nil, fmt.Errorf("executing report template: %w", err)
	}

	export, err := renderCSV(report)
	if err != nil {
		return nil, nil, err
	}

	return html.Bytes(), export, nil
}

// renderCSV writes one row per check in fixed category order, followed by the
// policy comparison rows when present.
func renderCSV(report *posture.Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"Category", "Check", "Status", "Details"}); err != nil {
		return nil, err
	}

	for _, category := range posture.Categories() {
		result, ok := report.Categories[category]
		if !ok {
			continue
		}
		for _, name := range sortedChecks(result) {
			check := result.Checks[name]
			row := []string{category.String(), name, check.Status.String(), detailString(check.Details)}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
	}

	if report.Policies != nil {
		for _, row := range report.Policies.Rows {
			status := "Compliant"
			if !row.Compliant {
				status = "Action Required"
			}
			record := []string{
				"Organization Policies",
				row.DisplayName,
				status,
				fmt.Sprintf("constraint=%s; expected=%s; actual=%s", row.Constraint, row.ExpectedValue, row.ActualValue),
			}
			if err := w.Write(record); err != nil {
				return nil, err
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("writing csv export: %w", err)
	}
	return buf.Bytes(), nil
}

func sortedChecks(result *posture.CategoryResult) []string {
	names := make([]string, 0, len(result.Checks))
	for name := range result.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// detailString flattens a finding's detail maps into a single readable cell.
func detailString(details []posture.Detail) string {
	var parts []string
	for _, detail := range details {
		keys := make([]string, 0, len(detail))
		for k := range detail {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var pairs []string
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s: %v", k, detail[k]))
		}
		parts = append(parts, strings.Join(pairs, ", "))
	}
	return strings.Join(parts, "; ")
}

func formatScore(score float64) string { return fmt.Sprintf("%.0f%%", score) }

func statusClass(status posture.FindingStatus) string {
	switch status {
	case posture.StatusActionRequired:
		return "status-action"
	case posture.StatusInvestigationRecommended:
		return "status-investigate"
	case posture.StatusInformational:
		return "status-info"
	case posture.StatusCompliant:
		return "status-ok"
	default:
		return "status-error"
	}
}
