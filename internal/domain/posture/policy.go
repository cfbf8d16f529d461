package posture

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// PolicyExpectation is one entry of the recommended organization policy
// baseline the scope checks compare against.
type PolicyExpectation struct {
	Constraint    string `json:"constraint" yaml:"constraint"`
	DisplayName   string `json:"display_name" yaml:"display_name"`
	ExpectedValue string `json:"expected_value" yaml:"expected_value"`
}

// PolicyBaseline is the full recommended baseline, written once per job as
// scope-wide raw data.
type PolicyBaseline []PolicyExpectation

// PolicySnapshot maps constraint name to the value observed on the scanned
// scope.
type PolicySnapshot map[string]string

// PolicyRow is one rendered baseline-vs-observed comparison.
type PolicyRow struct {
	Constraint    string `json:"constraint"`
	DisplayName   string `json:"display_name"`
	ExpectedValue string `json:"expected_value"`
	ActualValue   string `json:"actual_value"`
	Compliant     bool   `json:"compliant"`
}

// PolicyComparison summarizes how the scope's organization policies measure
// up against the baseline.
type PolicyComparison struct {
	Rows      []PolicyRow `json:"rows"`
	Compliant int         `json:"compliant"`
	Total     int         `json:"total"`
}

// ComparePolicies evaluates a snapshot against the baseline. Constraints
// missing from the snapshot compare as "not set", which never matches an
// expectation. Rows come back sorted by constraint for stable rendering.
func ComparePolicies(baseline PolicyBaseline, current PolicySnapshot) *PolicyComparison {
	pc := &PolicyComparison{Total: len(baseline)}
	for _, exp := range baseline {
		actual, ok := current[exp.Constraint]
		if !ok {
			actual = "not set"
		}
		row := PolicyRow{
			Constraint:    exp.Constraint,
			DisplayName:   exp.DisplayName,
			ExpectedValue: exp.ExpectedValue,
			ActualValue:   actual,
			Compliant:     ok && strings.EqualFold(actual, exp.ExpectedValue),
		}
		if row.Compliant {
			pc.Compliant++
		}
		pc.Rows = append(pc.Rows, row)
	}
	sort.Slice(pc.Rows, func(i, j int) bool { return pc.Rows[i].Constraint < pc.Rows[j].Constraint })
	return pc
}

// Encode serializes the baseline for storage.
func (b PolicyBaseline) Encode() ([]byte, error) { return json.Marshal(b) }

// DecodeBaseline deserializes a stored baseline snapshot.
func DecodeBaseline(data []byte) (PolicyBaseline, error) {
	var b PolicyBaseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode policy baseline: %w", err)
	}
	return b, nil
}

// Encode serializes the observed snapshot for storage.
func (s PolicySnapshot) Encode() ([]byte, error) { return json.Marshal(s) }

// DecodeSnapshot deserializes a stored observed snapshot.
func DecodeSnapshot(data []byte) (PolicySnapshot, error) {
	var s PolicySnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode policy snapshot: %w", err)
	}
	return s, nil
}
