package plan

// Feature identifies a gated product area. The set is closed: clients treat
// anything outside it as denied.
type Feature string

const (
	FeatureDashboard     Feature = "dashboard"
	FeatureAppointments  Feature = "appointments"
	FeatureServices      Feature = "services"
	FeatureProfessionals Feature = "professionals"
	FeatureClients       Feature = "clients"
	FeatureReviews       Feature = "reviews"
	FeatureTasks         Feature = "tasks"
	FeaturePointsProgram Feature = "pointsProgram"
	FeatureLoyalty       Feature = "loyalty"
	FeatureInventory     Feature = "inventory"
	FeatureMessages      Feature = "messages"
	FeatureCoupons       Feature = "coupons"
	FeatureFinancial     Feature = "financial"
	FeatureReports       Feature = "reports"
	FeatureSettings      Feature = "settings"
)

// KnownFeatures returns the closed feature set in a stable order.
func KnownFeatures() []Feature {
	return []Feature{
		FeatureDashboard,
		FeatureAppointments,
		FeatureServices,
		FeatureProfessionals,
		FeatureClients,
		FeatureReviews,
		FeatureTasks,
		FeaturePointsProgram,
		FeatureLoyalty,
		FeatureInventory,
		FeatureMessages,
		FeatureCoupons,
		FeatureFinancial,
		FeatureReports,
		FeatureSettings,
	}
}

// Permissions maps feature keys to access flags. A resolved permission map
// always carries every known key; missing keys mean "denied", never "unknown".
type Permissions map[Feature]bool

// Normalize returns a copy with every known feature key present. Keys absent
// from the input come out false.
func (p Permissions) Normalize() Permissions {
	out := make(Permissions, len(KnownFeatures()))
	for k, v := range p {
		out[k] = v
	}
	for _, f := range KnownFeatures() {
		if _, ok := out[f]; !ok {
			out[f] = false
		}
	}
	return out
}

// Info describes a subscription plan.
type Info struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	MaxProfessionals int         `json:"max_professionals"`
	Permissions      Permissions `json:"permissions"`
}

// Usage is the metered professional headcount against the plan ceiling.
// Count may legitimately exceed Limit: pre-existing overage is tolerated,
// only new additions are blocked.
type Usage struct {
	ProfessionalsCount int `json:"professionals_count"`
	ProfessionalsLimit int `json:"professionals_limit"`
}

// Data is the unit served by the plan-info endpoint. It is fetched and
// replaced atomically; consumers never see a partial update.
type Data struct {
	Plan  Info  `json:"plan"`
	Usage Usage `json:"usage"`
}
