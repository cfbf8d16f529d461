package checks

import (
	"context"
	"fmt"
	"net/url"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
)

const storageBase = "https://storage.googleapis.com"

type bucketList struct {
	Items []struct {
		Name       string `json:"name"`
		Versioning struct {
			Enabled bool `json:"enabled"`
		} `json:"versioning"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

func listBuckets(ctx context.Context, client *CloudClient, projectID string) (bucketList, error) {
	var all bucketList

	pageToken := ""
	for {
		query := url.Values{"project": {projectID}}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}

		var page bucketList
		if err := client.GetJSON(ctx, storageBase+"/storage/v1/b?"+query.Encode(), &page); err != nil {
			return bucketList{}, fmt.Errorf("listing buckets for %s: %w", projectID, err)
		}
		all.Items = append(all.Items, page.Items...)

		if page.NextPageToken == "" {
			return all, nil
		}
		pageToken = page.NextPageToken
	}
}

// publicBucketsCheck flags buckets whose IAM policy grants access to allUsers
// or allAuthenticatedUsers.
type publicBucketsCheck struct {
	client *CloudClient
}

func (c *publicBucketsCheck) Name() string { return "Public GCS Buckets" }

func (c *publicBucketsCheck) Run(ctx context.Context, projectID string) (posture.FindingStatus, []posture.Detail, error) {
	buckets, err := listBuckets(ctx, c.client, projectID)
	if err != nil {
		return "", nil, err
	}

	var details []posture.Detail
	for _, bucket := range buckets.Items {
		var policy iamPolicy
		policyURL := fmt.Sprintf("%s/storage/v1/b/%s/iam?optionsRequestedPolicyVersion=3", storageBase, bucket.Name)
		if err := c.client.GetJSON(ctx, policyURL, &policy); err != nil {
			return "", nil, fmt.Errorf("fetching IAM policy for bucket %s: %w", bucket.Name, err)
		}

		for _, binding := range policy.Bindings {
			if containsAny(binding.Members, "allUsers", "allAuthenticatedUsers") {
				details = append(details, posture.Detail{
					"Project": projectID,
					"Bucket":  bucket.Name,
					"Issue":   fmt.Sprintf("Publicly accessible via role %s.", binding.Role),
				})
				break
			}
		}
	}

	if len(details) > 0 {
		return posture.StatusActionRequired, details, nil
	}
	return posture.StatusCompliant,
		compliant(fmt.Sprintf("No publicly accessible buckets found in project %s.", projectID)), nil
}

// storageVersioningCheck flags buckets without object versioning enabled.
type storageVersioningCheck struct {
	client *CloudClient
}

func (c *storageVersioningCheck) Name() string { return "Cloud Storage Versioning" }

func (c *storageVersioningCheck) Run(ctx context.Context, projectID string) (posture.FindingStatus, []posture.Detail, error) {
	buckets, err := listBuckets(ctx, c.client, projectID)
	if err != nil {
		return "", nil, err
	}

	var details []posture.Detail
	for _, bucket := range buckets.Items {
		if !bucket.Versioning.Enabled {
			details = append(details, posture.Detail{
				"Project": projectID,
				"Bucket":  bucket.Name,
				"Issue":   "Object versioning is not enabled.",
			})
		}
	}

	if len(details) > 0 {
		return posture.StatusActionRequired, details, nil
	}
	return posture.StatusCompliant,
		compliant(fmt.Sprintf("Object versioning is enabled on all buckets in %s.", projectID)), nil
}

func containsAny(members []string, targets ...string) bool {
	for _, member := range members {
		for _, target := range targets {
			if member == target {
				return true
			}
		}
	}
	return false
}
