package checks

import (
	"context"
	"fmt"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
)

const containerBase = "https://container.googleapis.com"

// gkeHygieneCheck flags clusters off release channels and node pools with
// auto-upgrade disabled.
type gkeHygieneCheck struct {
	client *CloudClient
}

func (c *gkeHygieneCheck) Name() string { return "GKE Hygiene" }

func (c *gkeHygieneCheck) Run(ctx context.Context, projectID string) (posture.FindingStatus, []posture.Detail, error) {
	var clusters struct {
		Clusters []struct {
			Name           string `json:"name"`
			Location       string `json:"location"`
			ReleaseChannel *struct {
				Channel string `json:"channel"`
			} `json:"releaseChannel"`
			NodePools []struct {
				Name       string `json:"name"`
				Management struct {
					AutoUpgrade bool `json:"autoUpgrade"`
				} `json:"management"`
			} `json:"nodePools"`
		} `json:"clusters"`
	}
	url := fmt.Sprintf("%s/v1/projects/%s/locations/-/clusters", containerBase, projectID)
	if err := c.client.GetJSON(ctx, url, &clusters); err != nil {
		return "", nil, fmt.Errorf("listing GKE clusters for %s: %w", projectID, err)
	}

	var details []posture.Detail
	for _, cluster := range clusters.Clusters {
		if cluster.ReleaseChannel == nil || cluster.ReleaseChannel.Channel == "" {
			details = append(details, posture.Detail{
				"Project": projectID,
				"Cluster": cluster.Name,
				"Issue":   "Not on a release channel.",
			})
		}
		for _, pool := range cluster.NodePools {
			if !pool.Management.AutoUpgrade {
				details = append(details, posture.Detail{
					"Project":   projectID,
					"Cluster":   cluster.Name,
					"Node Pool": pool.Name,
					"Issue":     "Auto-upgrades disabled.",
				})
			}
		}
	}

	if len(details) > 0 {
		return posture.StatusActionRequired, details, nil
	}
	return posture.StatusCompliant,
		compliant(fmt.Sprintf("No GKE hygiene issues found in %s.", projectID)), nil
}
