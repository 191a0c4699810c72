// Package plans maps subscription tiers to the plan definitions served to
// portal clients. The catalog is code, not data: other services rely on these
// exact permissions and limits to enforce behavior.
package plans

import "github.com/joaopvieira/agendly/libs/plan"

const (
	TierFree      = "free"
	TierEssential = "essential"
	TierPro       = "pro"
	TierPremium   = "premium"
)

// ForTier returns the plan definition for a tier. Unknown tiers fall back to
// free, which is also what a business without a subscription row gets.
func ForTier(tier string) plan.Info {
	switch tier {
	case TierEssential:
		return build("plan_essential", "Essential", 3, plan.Permissions{
			plan.FeatureDashboard:     true,
			plan.FeatureAppointments:  true,
			plan.FeatureServices:      true,
			plan.FeatureProfessionals: true,
			plan.FeatureClients:       true,
			plan.FeatureReviews:       true,
			plan.FeatureTasks:         true,
			plan.FeatureMessages:      true,
			plan.FeatureSettings:      true,
		})
	case TierPro:
		return build("plan_pro", "Pro", 10, plan.Permissions{
			plan.FeatureDashboard:     true,
			plan.FeatureAppointments:  true,
			plan.FeatureServices:      true,
			plan.FeatureProfessionals: true,
			plan.FeatureClients:       true,
			plan.FeatureReviews:       true,
			plan.FeatureTasks:         true,
			plan.FeatureMessages:      true,
			plan.FeaturePointsProgram: true,
			plan.FeatureLoyalty:       true,
			plan.FeatureCoupons:       true,
			plan.FeatureFinancial:     true,
			plan.FeatureSettings:      true,
		})
	case TierPremium:
		perms := plan.Permissions{}
		for _, f := range plan.KnownFeatures() {
			perms[f] = true
		}
		return build("plan_premium", "Premium", 50, perms)
	default:
		return build("plan_free", "Free", 1, plan.Permissions{
			plan.FeatureDashboard:    true,
			plan.FeatureAppointments: true,
			plan.FeatureServices:     true,
			plan.FeatureClients:      true,
			plan.FeatureSettings:     true,
		})
	}
}

func build(id, name string, maxProfessionals int, perms plan.Permissions) plan.Info {
	return plan.Info{
		ID:               id,
		Name:             name,
		MaxProfessionals: maxProfessionals,
		Permissions:      perms.Normalize(),
	}
}
