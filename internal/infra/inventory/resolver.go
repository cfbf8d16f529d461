// Package inventory resolves a scan scope into its leaf resource units using
// the Cloud Resource Manager API.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/oauth2/google"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/logger"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Resolver expands organizations and folders into their active projects by
// walking the folder tree breadth-first. Resolution failures propagate to the
// caller: a job that cannot enumerate its scope must fail, not scan a partial
// scope silently.
type Resolver struct {
	client   *http.Client
	endpoint string
	limiter  *common.RateLimiter
	logger   *logger.Logger
}

var _ posture.InventoryResolver = (*Resolver)(nil)

// NewResolver creates a resolver using application default credentials.
func NewResolver(ctx context.Context, endpoint string, limiter *common.RateLimiter, log *logger.Logger) (*Resolver, error) {
	client, err := google.DefaultClient(ctx, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("building resource manager client: %w", err)
	}
	return NewResolverWithClient(client, endpoint, limiter, log), nil
}

// NewResolverWithClient creates a resolver over a caller-supplied HTTP client.
func NewResolverWithClient(client *http.Client, endpoint string, limiter *common.RateLimiter, log *logger.Logger) *Resolver {
	return &Resolver{client: client, endpoint: endpoint, limiter: limiter, logger: log}
}

// Resolve returns the leaf resource units for the scope. A project scope is
// its own single unit; folder and organization scopes expand to every active
// project in the subtree.
func (r *Resolver) Resolve(ctx context.Context, kind posture.ScopeKind, scopeID string) ([]posture.ResourceUnit, error) {
	switch kind {
	case posture.ScopeProject:
		return []posture.ResourceUnit{posture.ResourceUnit(scopeID)}, nil
	case posture.ScopeFolder:
		return r.walk(ctx, "folders/"+scopeID)
	case posture.ScopeOrganization:
		return r.walk(ctx, "organizations/"+scopeID)
	default:
		return nil, fmt.Errorf("inventory: unknown scope kind %q", kind)
	}
}

type projectPage struct {
	Projects []struct {
		ProjectID string `json:"projectId"`
		State     string `json:"state"`
	} `json:"projects"`
	NextPageToken string `json:"nextPageToken"`
}

type folderPage struct {
	Folders []struct {
		Name string `json:"name"`
	} `json:"folders"`
	NextPageToken string `json:"nextPageToken"`
}

// walk traverses the folder tree under root breadth-first, collecting every
// active project.
func (r *Resolver) walk(ctx context.Context, root string) ([]posture.ResourceUnit, error) {
	var units []posture.ResourceUnit

	frontier := []string{root}
	for len(frontier) > 0 {
		parent := frontier[0]
		frontier = frontier[1:]

		projects, err := r.listProjects(ctx, parent)
		if err != nil {
			return nil, fmt.Errorf("listing projects under %s: %w", parent, err)
		}
		units = append(units, projects...)

		folders, err := r.listFolders(ctx, parent)
		if err != nil {
			return nil, fmt.Errorf("listing folders under %s: %w", parent, err)
		}
		frontier = append(frontier, folders...)
	}

	return units, nil
}

func (r *Resolver) listProjects(ctx context.Context, parent string) ([]posture.ResourceUnit, error) {
	var units []posture.ResourceUnit

	pageToken := ""
	for {
		query := url.Values{"parent": {parent}}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}

		var page projectPage
		if err := r.getJSON(ctx, "/v3/projects?"+query.Encode(), &page); err != nil {
			return nil, err
		}

		for _, p := range page.Projects {
			if p.State == "ACTIVE" {
				units = append(units, posture.ResourceUnit(p.ProjectID))
			}
		}

		if page.NextPageToken == "" {
			return units, nil
		}
		pageToken = page.NextPageToken
	}
}

func (r *Resolver) listFolders(ctx context.Context, parent string) ([]string, error) {
	var folders []string

	pageToken := ""
	for {
		query := url.Values{"parent": {parent}}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}

		var page folderPage
		if err := r.getJSON(ctx, "/v3/folders?"+query.Encode(), &page); err != nil {
			return nil, err
		}

		for _, f := range page.Folders {
			folders = append(folders, f.Name)
		}

		if page.NextPageToken == "" {
			return folders, nil
		}
		pageToken = page.NextPageToken
	}
}

// getJSON performs one rate-limited GET with backoff on 429 responses. Any
// other failure is permanent and propagates to the caller.
func (r *Resolver) getJSON(ctx context.Context, path string, out any) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 30 * time.Second
	expBackoff.InitialInterval = time.Second

	operation := func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			r.logger.Warn(ctx, "resource manager rate limit hit, backing off", "path", path)
			return fmt.Errorf("resource manager: %s", resp.Status)
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("resource manager: %s: %s", resp.Status, body))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding resource manager response: %w", err))
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(expBackoff, ctx))
}
