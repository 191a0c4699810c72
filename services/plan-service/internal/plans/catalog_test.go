package plans

import (
	"testing"

	"github.com/joaopvieira/agendly/libs/plan"
)

func TestUnknownTierFallsBackToFree(t *testing.T) {
	free := ForTier(TierFree)
	if got := ForTier("enterprise-deluxe"); got.ID != free.ID {
		t.Fatalf("unknown tier resolved to %q", got.ID)
	}
	if got := ForTier(""); got.ID != free.ID {
		t.Fatalf("empty tier resolved to %q", got.ID)
	}
}

func TestEveryTierCarriesFullPermissionMap(t *testing.T) {
	for _, tier := range []string{TierFree, TierEssential, TierPro, TierPremium} {
		info := ForTier(tier)
		if len(info.Permissions) != len(plan.KnownFeatures()) {
			t.Fatalf("tier %q: expected %d permission keys, got %d", tier, len(plan.KnownFeatures()), len(info.Permissions))
		}
		if info.MaxProfessionals <= 0 {
			t.Fatalf("tier %q: invalid professional limit %d", tier, info.MaxProfessionals)
		}
	}
}

func TestTiersAreOrdered(t *testing.T) {
	free := ForTier(TierFree)
	essential := ForTier(TierEssential)
	pro := ForTier(TierPro)
	premium := ForTier(TierPremium)

	if !(free.MaxProfessionals < essential.MaxProfessionals &&
		essential.MaxProfessionals < pro.MaxProfessionals &&
		pro.MaxProfessionals < premium.MaxProfessionals) {
		t.Fatal("professional limits must grow with tier")
	}

	for _, f := range plan.KnownFeatures() {
		if free.Permissions[f] && !premium.Permissions[f] {
			t.Fatalf("premium lost feature %q that free has", f)
		}
		if !premium.Permissions[f] {
			t.Fatalf("premium must grant every feature, missing %q", f)
		}
	}
}

func TestFreeTierExcludesPaidFeatures(t *testing.T) {
	free := ForTier(TierFree)
	for _, f := range []plan.Feature{plan.FeatureReports, plan.FeatureInventory, plan.FeatureLoyalty} {
		if free.Permissions[f] {
			t.Fatalf("free tier unexpectedly grants %q", f)
		}
	}
	if !free.Permissions[plan.FeatureAppointments] {
		t.Fatal("free tier must keep core scheduling")
	}
}
