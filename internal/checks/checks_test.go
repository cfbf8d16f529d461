package checks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
	"github.com/GoogleCloudPlatform/cloudgauge/internal/infra/storage/posture/memory"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/logger"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/retry"
)

func testClient(t *testing.T, handler http.Handler) *CloudClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCloudClientWithHTTP(srv.Client(), srv.URL, common.NewRateLimiter(1000, 100))
}

func respond(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testDeps(t *testing.T, handler http.Handler) Deps {
	t.Helper()
	return Deps{
		Client: testClient(t, handler),
		Log:    logger.New(io.Discard, logger.LevelDebug, "checks-test", nil),
		Retry:  retry.Config{MaxAttempts: 2, InitialDelay: time.Microsecond, Factor: 2, JitterUnit: time.Microsecond},
	}
}

func TestRegistryNamesAreInTaxonomy(t *testing.T) {
	t.Parallel()
	for _, check := range Registry(testDeps(t, http.NewServeMux())) {
		_, ok := posture.CategoryOf(check.Name())
		assert.True(t, ok, "check %q has no category", check.Name())
	}
}

func TestPrimitiveRolesFlagsOwnerBindings(t *testing.T) {
	t.Parallel()
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		respond(w, map[string]any{"bindings": []map[string]any{
			{"role": "roles/owner", "members": []string{"user:alice@example.com"}},
			{"role": "roles/viewer", "members": []string{"user:bob@example.com"}},
		}})
	}))

	check := &primitiveRolesCheck{client: client}
	status, details, err := check.Run(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, posture.StatusActionRequired, status)
	require.Len(t, details, 1)
	assert.Equal(t, "user:alice@example.com", details[0]["Principal"])
}

func TestPrimitiveRolesCompliant(t *testing.T) {
	t.Parallel()
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]any{"bindings": []map[string]any{
			{"role": "roles/viewer", "members": []string{"user:bob@example.com"}},
		}})
	}))

	check := &primitiveRolesCheck{client: client}
	status, details, err := check.Run(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, posture.StatusCompliant, status)
	require.Len(t, details, 1)
	assert.Contains(t, details[0]["Status"], "No primitive roles")
}

func TestSAKeyRotationFlagsOldKeys(t *testing.T) {
	t.Parallel()
	old := time.Now().Add(-120 * 24 * time.Hour).Format(time.RFC3339)
	fresh := time.Now().Add(-10 * 24 * time.Hour).Format(time.RFC3339)

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/projects/proj-1/serviceAccounts":
			respond(w, map[string]any{"accounts": []map[string]string{
				{"name": "projects/proj-1/serviceAccounts/sa@proj-1.iam", "email": "sa@proj-1.iam"},
			}})
		case "/v1/projects/proj-1/serviceAccounts/sa@proj-1.iam/keys":
			respond(w, map[string]any{"keys": []map[string]string{
				{"validAfterTime": old},
				{"validAfterTime": fresh},
			}})
		default:
			http.NotFound(w, r)
		}
	}))

	check := &saKeyRotationCheck{client: client}
	status, details, err := check.Run(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, posture.StatusActionRequired, status)
	require.Len(t, details, 1)
	assert.Equal(t, "sa@proj-1.iam", details[0]["Service Account"])
}

func TestPublicBucketsFlagsAllUsers(t *testing.T) {
	t.Parallel()
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/storage/v1/b":
			respond(w, map[string]any{"items": []map[string]any{
				{"name": "open-bucket"},
				{"name": "private-bucket"},
			}})
		case "/storage/v1/b/open-bucket/iam":
			respond(w, map[string]any{"bindings": []map[string]any{
				{"role": "roles/storage.objectViewer", "members": []string{"allUsers"}},
			}})
		case "/storage/v1/b/private-bucket/iam":
			respond(w, map[string]any{"bindings": []map[string]any{
				{"role": "roles/storage.admin", "members": []string{"user:alice@example.com"}},
			}})
		default:
			http.NotFound(w, r)
		}
	}))

	check := &publicBucketsCheck{client: client}
	status, details, err := check.Run(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, posture.StatusActionRequired, status)
	require.Len(t, details, 1)
	assert.Equal(t, "open-bucket", details[0]["Bucket"])
}

func TestStorageVersioningFlagsDisabled(t *testing.T) {
	t.Parallel()
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]any{"items": []map[string]any{
			{"name": "versioned", "versioning": map[string]bool{"enabled": true}},
			{"name": "unversioned"},
		}})
	}))

	check := &storageVersioningCheck{client: client}
	status, details, err := check.Run(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, posture.StatusActionRequired, status)
	require.Len(t, details, 1)
	assert.Equal(t, "unversioned", details[0]["Bucket"])
}

func TestOpenFirewallSkipsDisabledRules(t *testing.T) {
	t.Parallel()
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]any{"items": []map[string]any{
			{"name": "allow-all", "network": "projects/p/global/networks/default", "sourceRanges": []string{"0.0.0.0/0"}},
			{"name": "allow-all-off", "network": "projects/p/global/networks/default", "disabled": true, "sourceRanges": []string{"0.0.0.0/0"}},
			{"name": "internal-only", "network": "projects/p/global/networks/default", "sourceRanges": []string{"10.0.0.0/8"}},
		}})
	}))

	check := &openFirewallCheck{client: client}
	status, details, err := check.Run(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, posture.StatusActionRequired, status)
	require.Len(t, details, 1)
	assert.Equal(t, "allow-all", details[0]["Rule Name"])
	assert.Equal(t, "default", details[0]["VPC"])
}

func TestStandaloneVMsExcludesManagedNodes(t *testing.T) {
	t.Parallel()
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]any{"items": map[string]any{
			"zones/us-central1-a": map[string]any{"instances": []map[string]any{
				{"name": "lonely-vm"},
				{"name": "gke-cluster-node-1"},
				{"name": "dataproc-w-0", "labels": map[string]string{"goog-dataproc-cluster-name": "dp"}},
				{"name": "mig-vm", "metadata": map[string]any{"items": []map[string]string{{"key": "created-by"}}}},
			}},
		}})
	}))

	check := &standaloneVMsCheck{client: client}
	status, details, err := check.Run(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, posture.StatusInvestigationRecommended, status)
	require.Len(t, details, 1)
	assert.Equal(t, "lonely-vm", details[0]["Standalone VMs"])
}

func TestGKEHygieneFlagsMissingChannel(t *testing.T) {
	t.Parallel()
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]any{"clusters": []map[string]any{
			{
				"name":     "legacy",
				"location": "us-central1",
				"nodePools": []map[string]any{
					{"name": "default-pool", "management": map[string]bool{"autoUpgrade": false}},
				},
			},
			{
				"name":           "managed",
				"location":       "us-central1",
				"releaseChannel": map[string]string{"channel": "REGULAR"},
				"nodePools": []map[string]any{
					{"name": "default-pool", "management": map[string]bool{"autoUpgrade": true}},
				},
			},
		}})
	}))

	check := &gkeHygieneCheck{client: client}
	status, details, err := check.Run(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, posture.StatusActionRequired, status)
	assert.Len(t, details, 2, "missing channel plus disabled auto-upgrade")
}

func TestCheckErrorPropagates(t *testing.T) {
	t.Parallel()
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"status":"PERMISSION_DENIED"}}`, http.StatusForbidden)
	}))

	check := &openFirewallCheck{client: client}
	_, _, err := check.Run(context.Background(), "proj-1")
	require.Error(t, err)
	assert.False(t, retry.RateLimited(err))
}

func TestClientClassifiesRateLimits(t *testing.T) {
	t.Parallel()
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	var out map[string]any
	err := client.GetJSON(context.Background(), "https://compute.googleapis.com/compute/v1/projects/p/global/firewalls", &out)
	require.Error(t, err)
	assert.True(t, retry.RateLimited(err))
}

func TestOrgIAMSkipsNonOrganizationScopes(t *testing.T) {
	t.Parallel()
	check := &orgIAMCheck{client: testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("must not call the API for project scopes")
	}))}

	results, err := check.Run(context.Background(), ScopeRequest{
		JobID: uuid.New(), Kind: posture.ScopeProject, ScopeID: "proj-1", Store: memory.New(),
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestOrgIAMReportsBothChecks(t *testing.T) {
	t.Parallel()
	check := &orgIAMCheck{client: testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]any{"bindings": []map[string]any{
			{"role": "roles/owner", "members": []string{"user:root@example.com"}},
			{"role": "roles/browser", "members": []string{"allUsers"}},
		}})
	}))}

	results, err := check.Run(context.Background(), ScopeRequest{
		JobID: uuid.New(), Kind: posture.ScopeOrganization, ScopeID: "42", Store: memory.New(),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	byName := map[string]ScopeResult{}
	for _, res := range results {
		byName[res.CheckName] = res
	}
	assert.Equal(t, posture.StatusActionRequired, byName["Critical Org-Level Roles"].Status)
	assert.Equal(t, posture.StatusActionRequired, byName["Public Org-Level Access"].Status)
}

func TestOrgPolicyCheckWritesSnapshots(t *testing.T) {
	t.Parallel()
	deps := testDeps(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/organizations/42/policies", r.URL.Path)
		respond(w, map[string]any{"policies": []map[string]any{
			{
				"name": "organizations/42/policies/iam.disableServiceAccountKeyCreation",
				"spec": map[string]any{"rules": []map[string]any{{"enforce": true}}},
			},
			{
				"name": "organizations/42/policies/compute.vmExternalIpAccess",
				"spec": map[string]any{"rules": []map[string]any{{"denyAll": true}}},
			},
		}})
	}))

	store := memory.New()
	jobID := uuid.New()
	check := &orgPolicyCheck{client: deps.Client, log: deps.Log, retryCfg: deps.Retry}

	results, err := check.Run(context.Background(), ScopeRequest{
		JobID: jobID, Kind: posture.ScopeOrganization, ScopeID: "42", Store: store,
	})
	require.NoError(t, err)
	assert.Empty(t, results, "a successful snapshot produces no finding")

	currentData, err := store.Get(context.Background(), posture.CurrentPoliciesKey(jobID))
	require.NoError(t, err)
	snapshot, err := posture.DecodeSnapshot(currentData)
	require.NoError(t, err)
	assert.Equal(t, "enforced", snapshot["constraints/iam.disableServiceAccountKeyCreation"])
	assert.Equal(t, "denyAll", snapshot["constraints/compute.vmExternalIpAccess"])

	baselineData, err := store.Get(context.Background(), posture.BaselineKey(jobID))
	require.NoError(t, err)
	baseline, err := posture.DecodeBaseline(baselineData)
	require.NoError(t, err)
	assert.NotEmpty(t, baseline)
}

func TestOrgPolicyCheckErrorFinding(t *testing.T) {
	t.Parallel()
	deps := testDeps(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	check := &orgPolicyCheck{client: deps.Client, log: deps.Log, retryCfg: deps.Retry}
	results, err := check.Run(context.Background(), ScopeRequest{
		JobID: uuid.New(), Kind: posture.ScopeOrganization, ScopeID: "42", Store: memory.New(),
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Organization Policy Baseline", results[0].CheckName)
	assert.Equal(t, posture.StatusError, results[0].Status)
}

func TestLoadBaseline(t *testing.T) {
	t.Parallel()
	baseline, err := LoadBaseline()
	require.NoError(t, err)
	require.NotEmpty(t, baseline)
	for _, exp := range baseline {
		assert.NotEmpty(t, exp.Constraint)
		assert.NotEmpty(t, exp.DisplayName)
		assert.NotEmpty(t, exp.ExpectedValue)
	}
}
