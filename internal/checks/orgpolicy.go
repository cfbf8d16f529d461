package checks

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/logger"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/retry"
)

const orgPolicyBase = "https://orgpolicy.googleapis.com"

//go:embed baseline.yaml
var baselineYAML []byte

// LoadBaseline parses the embedded recommended policy baseline.
func LoadBaseline() (posture.PolicyBaseline, error) {
	var baseline posture.PolicyBaseline
	if err := yaml.Unmarshal(baselineYAML, &baseline); err != nil {
		return nil, fmt.Errorf("parsing embedded policy baseline: %w", err)
	}
	return baseline, nil
}

// orgPolicyCheck snapshots the effective organization policies for the scope
// and stores them alongside the recommended baseline. The comparison itself
// happens at aggregation time, against whatever snapshot this check wrote.
type orgPolicyCheck struct {
	client   *CloudClient
	log      *logger.Logger
	retryCfg retry.Config
}

func (c *orgPolicyCheck) Run(ctx context.Context, req ScopeRequest) ([]ScopeResult, error) {
	baseline, err := LoadBaseline()
	if err != nil {
		return c.errorResult(err), nil
	}

	parent := req.Kind.ResourceName(req.ScopeID)
	snapshot := retry.Do(ctx, c.log, c.retryCfg, "list-org-policies",
		func(ctx context.Context) (posture.PolicySnapshot, error) {
			return c.fetchPolicies(ctx, parent)
		})
	if snapshot == nil {
		return c.errorResult(fmt.Errorf("could not fetch effective policies for %s", parent)), nil
	}

	baselineData, err := baseline.Encode()
	if err != nil {
		return nil, err
	}
	currentData, err := snapshot.Encode()
	if err != nil {
		return nil, err
	}

	if err := req.Store.Put(ctx, posture.BaselineKey(req.JobID), baselineData); err != nil {
		return nil, fmt.Errorf("storing policy baseline: %w", err)
	}
	if err := req.Store.Put(ctx, posture.CurrentPoliciesKey(req.JobID), currentData); err != nil {
		return nil, fmt.Errorf("storing current policies: %w", err)
	}

	return nil, nil
}

func (c *orgPolicyCheck) errorResult(err error) []ScopeResult {
	return []ScopeResult{{
		CheckName: "Organization Policy Baseline",
		Status:    posture.StatusError,
		Details:   []posture.Detail{{"Error": err.Error()}},
	}}
}

type orgPolicyRule struct {
	Enforce  *bool `json:"enforce"`
	AllowAll bool  `json:"allowAll"`
	DenyAll  bool  `json:"denyAll"`
	Values   *struct {
		AllowedValues []string `json:"allowedValues"`
		DeniedValues  []string `json:"deniedValues"`
	} `json:"values"`
}

type orgPolicy struct {
	Name string `json:"name"`
	Spec struct {
		Rules []orgPolicyRule `json:"rules"`
	} `json:"spec"`
}

type policyPage struct {
	Policies      []orgPolicy `json:"policies"`
	NextPageToken string      `json:"nextPageToken"`
}

// fetchPolicies reads every policy set on the scope and reduces each to a
// single comparable value string.
func (c *orgPolicyCheck) fetchPolicies(ctx context.Context, parent string) (posture.PolicySnapshot, error) {
	snapshot := posture.PolicySnapshot{}

	pageToken := ""
	for {
		url := fmt.Sprintf("%s/v2/%s/policies", orgPolicyBase, parent)
		if pageToken != "" {
			url += "?pageToken=" + pageToken
		}

		var page policyPage
		if err := c.client.GetJSON(ctx, url, &page); err != nil {
			return nil, fmt.Errorf("listing policies for %s: %w", parent, err)
		}

		for _, policy := range page.Policies {
			parts := strings.Split(policy.Name, "/")
			constraint := "constraints/" + parts[len(parts)-1]
			snapshot[constraint] = reducePolicyValue(policy)
		}

		if page.NextPageToken == "" {
			return snapshot, nil
		}
		pageToken = page.NextPageToken
	}
}

func reducePolicyValue(policy orgPolicy) string {
	for _, rule := range policy.Spec.Rules {
		switch {
		case rule.Enforce != nil && *rule.Enforce:
			return "enforced"
		case rule.Enforce != nil:
			return "not enforced"
		case rule.DenyAll:
			return "denyAll"
		case rule.AllowAll:
			return "allowAll"
		case rule.Values != nil && len(rule.Values.AllowedValues) > 0:
			return "allow: " + strings.Join(rule.Values.AllowedValues, ", ")
		case rule.Values != nil && len(rule.Values.DeniedValues) > 0:
			return "deny: " + strings.Join(rule.Values.DeniedValues, ", ")
		}
	}
	return "not set"
}
