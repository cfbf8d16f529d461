package posture

// Category groups checks for scoring and report layout.
type Category string

const (
	CategorySecurity    Category = "Security & Identity"
	CategoryCost        Category = "Cost Optimization"
	CategoryReliability Category = "Reliability & Resilience"
	CategoryOperations  Category = "Operational Excellence & Observability"
)

func (c Category) String() string { return string(c) }

// Categories returns the fixed report ordering.
func Categories() []Category {
	return []Category{CategorySecurity, CategoryCost, CategoryReliability, CategoryOperations}
}

// categoryByCheck is the static taxonomy mapping every known check name to its
// category. Findings whose check name is absent here are dropped (and logged)
// during aggregation rather than failing the whole report.
var categoryByCheck = map[string]Category{
	// Security & Identity
	"Critical Org-Level Roles":          CategorySecurity,
	"Public Org-Level Access":           CategorySecurity,
	"Organization Policy Baseline":      CategorySecurity,
	"Project IAM Hygiene":               CategorySecurity,
	"Primitive Roles (Owner or Editor)": CategorySecurity,
	"Service Account Key Rotation":      CategorySecurity,
	"Public GCS Buckets":                CategorySecurity,
	"Open Firewall Rules (any)":         CategorySecurity,

	// Cost Optimization
	"Idle Cloud SQL Instances":    CategoryCost,
	"Low Utilization VMs":         CategoryCost,
	"VM Rightsizing":              CategoryCost,
	"Unassociated IPs":            CategoryCost,
	"Idle Persistent Disks":       CategoryCost,
	"Cost-Saving Recommendations": CategoryCost,

	// Reliability & Resilience
	"Cloud Storage Versioning": CategoryReliability,
	"GKE Hygiene":              CategoryReliability,
	"Essential Contacts":       CategoryReliability,

	// Operational Excellence & Observability
	"OS Config Agent Coverage":     CategoryOperations,
	"Monitoring Alert Coverage":    CategoryOperations,
	"Standalone VMs (Not in MIGs)": CategoryOperations,
	"Quota Utilization (>80%)":     CategoryOperations,
	"Unattended Projects":          CategoryOperations,
}

// CategoryOf resolves a check name against the static taxonomy.
func CategoryOf(checkName string) (Category, bool) {
	c, ok := categoryByCheck[checkName]
	return c, ok
}
