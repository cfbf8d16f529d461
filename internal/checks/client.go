// Package checks implements the compliance checks run against each resource
// unit and scope.
package checks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/oauth2/google"

	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/retry"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// CloudClient is a thin JSON client over the cloud REST APIs the checks call.
// Rate-limit responses are classified as retry.ErrRateLimited so the backoff
// helper can distinguish them from permission and configuration failures.
type CloudClient struct {
	httpClient *http.Client
	endpoint   string
	limiter    *common.RateLimiter
}

// NewCloudClient builds a client using application default credentials.
func NewCloudClient(ctx context.Context, limiter *common.RateLimiter) (*CloudClient, error) {
	httpClient, err := google.DefaultClient(ctx, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("building cloud client: %w", err)
	}
	return &CloudClient{httpClient: httpClient, limiter: limiter}, nil
}

// NewCloudClientWithHTTP builds a client over a caller-supplied HTTP client.
// A non-empty endpoint rewrites every request's scheme and host onto it,
// which lets one test server stand in for all cloud APIs.
func NewCloudClientWithHTTP(httpClient *http.Client, endpoint string, limiter *common.RateLimiter) *CloudClient {
	return &CloudClient{httpClient: httpClient, endpoint: endpoint, limiter: limiter}
}

// GetJSON performs a GET against rawURL and decodes the JSON response.
func (c *CloudClient) GetJSON(ctx context.Context, rawURL string, out any) error {
	return c.do(ctx, http.MethodGet, rawURL, nil, out)
}

// PostJSON performs a POST with a JSON body and decodes the JSON response.
func (c *CloudClient) PostJSON(ctx context.Context, rawURL string, body, out any) error {
	return c.do(ctx, http.MethodPost, rawURL, body, out)
}

func (c *CloudClient) do(ctx context.Context, method, rawURL string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	target, err := c.rewrite(rawURL)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s %s: %w", method, target, retry.ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, target, resp.Status, snippet)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", target, err)
	}
	return nil
}

func (c *CloudClient) rewrite(rawURL string) (string, error) {
	if c.endpoint == "" {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing url %q: %w", rawURL, err)
	}
	base, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint %q: %w", c.endpoint, err)
	}
	u.Scheme = base.Scheme
	u.Host = base.Host
	return u.String(), nil
}
