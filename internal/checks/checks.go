package checks

import (
	"context"

	"github.com/google/uuid"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/logger"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/retry"
)

// Check runs one compliance check against a single project. A returned error
// means the check could not complete (permissions, disabled API); the caller
// records it as an Error finding rather than failing the whole resource.
type Check interface {
	Name() string
	Run(ctx context.Context, projectID string) (posture.FindingStatus, []posture.Detail, error)
}

// ScopeRequest carries the job context a scope-wide check runs under. Scope
// checks may write raw snapshot records (organization policies) through the
// store in addition to returning findings.
type ScopeRequest struct {
	JobID   uuid.UUID
	Kind    posture.ScopeKind
	ScopeID string
	Store   posture.FindingStore
}

// ScopeResult is one finding produced by a scope-wide check. A single check
// may yield several named findings (the organization IAM check yields two).
type ScopeResult struct {
	CheckName string
	Status    posture.FindingStatus
	Details   []posture.Detail
}

// ScopeCheck runs once per job against the scan scope itself.
type ScopeCheck interface {
	Run(ctx context.Context, req ScopeRequest) ([]ScopeResult, error)
}

// Deps carries the shared dependencies every check is built with.
type Deps struct {
	Client *CloudClient
	Log    *logger.Logger
	Retry  retry.Config
}

// Registry returns the resource checks in their fixed execution order.
func Registry(deps Deps) []Check {
	return []Check{
		&primitiveRolesCheck{client: deps.Client},
		&saKeyRotationCheck{client: deps.Client},
		&publicBucketsCheck{client: deps.Client},
		&storageVersioningCheck{client: deps.Client},
		&openFirewallCheck{client: deps.Client},
		&standaloneVMsCheck{client: deps.Client},
		&unassociatedIPsCheck{client: deps.Client},
		&idleDisksCheck{client: deps.Client},
		&gkeHygieneCheck{client: deps.Client},
	}
}

// ScopeRegistry returns the scope-wide checks run once per job.
func ScopeRegistry(deps Deps) []ScopeCheck {
	return []ScopeCheck{
		&orgIAMCheck{client: deps.Client},
		&orgPolicyCheck{client: deps.Client, log: deps.Log, retryCfg: deps.Retry},
	}
}

// compliant is the single-detail body every check writes when it finds
// nothing wrong, mirroring the report's expectation of a status message.
func compliant(message string) []posture.Detail {
	return []posture.Detail{{"Status": message}}
}
