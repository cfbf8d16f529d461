package checks

import (
	"context"
	"fmt"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
)

// orgIAMCheck inspects the organization-level IAM policy for critical role
// grants and public principals. It only applies to organization scopes.
type orgIAMCheck struct {
	client *CloudClient
}

var criticalOrgRoles = map[string]bool{
	"roles/owner":                             true,
	"roles/resourcemanager.organizationAdmin": true,
}

func (c *orgIAMCheck) Run(ctx context.Context, req ScopeRequest) ([]ScopeResult, error) {
	if req.Kind != posture.ScopeOrganization {
		return nil, nil
	}

	var policy iamPolicy
	url := fmt.Sprintf("%s/v1/organizations/%s:getIamPolicy", resourceManagerBase, req.ScopeID)
	if err := c.client.PostJSON(ctx, url, map[string]any{}, &policy); err != nil {
		// Both findings degrade to Error so the failure shows up in the
		// report instead of silently missing.
		detail := []posture.Detail{{"Error": fmt.Sprintf("Could not fetch organization IAM policy for %s: %v", req.ScopeID, err)}}
		return []ScopeResult{
			{CheckName: "Critical Org-Level Roles", Status: posture.StatusError, Details: detail},
			{CheckName: "Public Org-Level Access", Status: posture.StatusError, Details: detail},
		}, nil
	}

	var critical, public []posture.Detail
	for _, binding := range policy.Bindings {
		for _, member := range binding.Members {
			if criticalOrgRoles[binding.Role] {
				critical = append(critical, posture.Detail{"Role": binding.Role, "Principal": member})
			}
			if member == "allUsers" || member == "allAuthenticatedUsers" {
				public = append(public, posture.Detail{"Role": binding.Role, "Principal": member})
			}
		}
	}

	results := make([]ScopeResult, 0, 2)

	if len(critical) > 0 {
		results = append(results, ScopeResult{
			CheckName: "Critical Org-Level Roles",
			Status:    posture.StatusActionRequired,
			Details:   critical,
		})
	} else {
		results = append(results, ScopeResult{
			CheckName: "Critical Org-Level Roles",
			Status:    posture.StatusCompliant,
			Details:   compliant("No principals found with Owner or Org Admin roles."),
		})
	}

	if len(public) > 0 {
		results = append(results, ScopeResult{
			CheckName: "Public Org-Level Access",
			Status:    posture.StatusActionRequired,
			Details:   public,
		})
	} else {
		results = append(results, ScopeResult{
			CheckName: "Public Org-Level Access",
			Status:    posture.StatusCompliant,
			Details:   compliant("No public access found at the organization level."),
		})
	}

	return results, nil
}
