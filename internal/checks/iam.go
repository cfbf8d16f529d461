package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
)

const (
	resourceManagerBase = "https://cloudresourcemanager.googleapis.com"
	iamBase             = "https://iam.googleapis.com"
)

type iamPolicy struct {
	Bindings []struct {
		Role    string   `json:"role"`
		Members []string `json:"members"`
	} `json:"bindings"`
}

// primitiveRolesCheck flags principals holding the broad legacy Owner or
// Editor roles on a project.
type primitiveRolesCheck struct {
	client *CloudClient
}

func (c *primitiveRolesCheck) Name() string { return "Primitive Roles (Owner or Editor)" }

func (c *primitiveRolesCheck) Run(ctx context.Context, projectID string) (posture.FindingStatus, []posture.Detail, error) {
	var policy iamPolicy
	url := fmt.Sprintf("%s/v1/projects/%s:getIamPolicy", resourceManagerBase, projectID)
	if err := c.client.PostJSON(ctx, url, map[string]any{}, &policy); err != nil {
		return "", nil, fmt.Errorf("fetching IAM policy for %s: %w", projectID, err)
	}

	var details []posture.Detail
	for _, binding := range policy.Bindings {
		if binding.Role != "roles/owner" && binding.Role != "roles/editor" {
			continue
		}
		for _, member := range binding.Members {
			details = append(details, posture.Detail{
				"Project":   projectID,
				"Principal": member,
				"Role":      binding.Role,
			})
		}
	}

	if len(details) > 0 {
		return posture.StatusActionRequired, details, nil
	}
	return posture.StatusCompliant, compliant(fmt.Sprintf("No primitive roles found in %s.", projectID)), nil
}

// saKeyRotationCheck flags user-managed service account keys older than 90
// days.
type saKeyRotationCheck struct {
	client *CloudClient
}

func (c *saKeyRotationCheck) Name() string { return "Service Account Key Rotation" }

const maxKeyAge = 90 * 24 * time.Hour

func (c *saKeyRotationCheck) Run(ctx context.Context, projectID string) (posture.FindingStatus, []posture.Detail, error) {
	var accounts struct {
		Accounts []struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"accounts"`
	}
	url := fmt.Sprintf("%s/v1/projects/%s/serviceAccounts", iamBase, projectID)
	if err := c.client.GetJSON(ctx, url, &accounts); err != nil {
		return "", nil, fmt.Errorf("listing service accounts for %s: %w", projectID, err)
	}

	var details []posture.Detail
	for _, sa := range accounts.Accounts {
		var keys struct {
			Keys []struct {
				ValidAfterTime time.Time `json:"validAfterTime"`
			} `json:"keys"`
		}
		keysURL := fmt.Sprintf("%s/v1/%s/keys?keyTypes=USER_MANAGED", iamBase, sa.Name)
		if err := c.client.GetJSON(ctx, keysURL, &keys); err != nil {
			return "", nil, fmt.Errorf("listing keys for %s: %w", sa.Email, err)
		}
		for _, key := range keys.Keys {
			if time.Since(key.ValidAfterTime) > maxKeyAge {
				details = append(details, posture.Detail{
					"Project":         projectID,
					"Service Account": sa.Email,
					"Issue":           "Key is older than 90 days.",
				})
			}
		}
	}

	if len(details) > 0 {
		return posture.StatusActionRequired, details, nil
	}
	return posture.StatusCompliant,
		compliant(fmt.Sprintf("No user-managed keys older than 90 days found in %s.", projectID)), nil
}
