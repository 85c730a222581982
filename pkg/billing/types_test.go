package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierOrdering(t *testing.T) {
	tiers := Tiers()
	for i := 1; i < len(tiers); i++ {
		assert.True(t, AtLeast(tiers[i], tiers[i-1]), "%s should rank above %s", tiers[i], tiers[i-1])
		assert.False(t, AtLeast(tiers[i-1], tiers[i]), "%s should rank below %s", tiers[i-1], tiers[i])
	}

	assert.True(t, AtLeast(TierPro, TierPro))
	assert.False(t, AtLeast(PlanTier("platinum"), TierFreeTrial))
	assert.False(t, AtLeast(TierEnterprise, PlanTier("platinum")))
}

func TestLowest(t *testing.T) {
	lowest, ok := Lowest([]PlanTier{TierNetwork, TierPharmily, TierEnterprise})
	require.True(t, ok)
	assert.Equal(t, TierPharmily, lowest)

	_, ok = Lowest(nil)
	assert.False(t, ok)

	lowest, ok = Lowest([]PlanTier{"bogus", TierPro})
	require.True(t, ok)
	assert.Equal(t, TierPro, lowest)
}

func TestParsePlanTier(t *testing.T) {
	tier, err := ParsePlanTier(" Pharmily ")
	require.NoError(t, err)
	assert.Equal(t, TierPharmily, tier)

	_, err = ParsePlanTier("gold")
	assert.Error(t, err)
}

func TestSubscriptionStatusLoadable(t *testing.T) {
	assert.True(t, SubscriptionStatusTrial.Loadable())
	assert.True(t, SubscriptionStatusActive.Loadable())
	assert.True(t, SubscriptionStatusPastDue.Loadable())
	assert.True(t, SubscriptionStatusExpired.Loadable())
	assert.False(t, SubscriptionStatusCanceled.Loadable())
}

func TestSubscriptionTrialExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.True(t, (&Subscription{TrialEndsAt: &past}).TrialExpired(now))
	assert.False(t, (&Subscription{TrialEndsAt: &future}).TrialExpired(now))
	assert.False(t, (&Subscription{}).TrialExpired(now))

	var nilSub *Subscription
	assert.False(t, nilSub.TrialExpired(now))
}

func TestDefaultPlans(t *testing.T) {
	plans := DefaultPlans()
	require.Len(t, plans, len(Tiers()))

	basic := plans[TierBasic]
	assert.True(t, basic.HasFeature(FeaturePatientLimit))
	assert.False(t, basic.HasFeature(FeatureADRReporting))
	assert.Contains(t, basic.FeatureList(), FeaturePatientLimit)

	// Each tier is a superset of the one below it.
	tiers := Tiers()
	for i := 1; i < len(tiers); i++ {
		lower, higher := plans[tiers[i-1]], plans[tiers[i]]
		for _, f := range lower.FeatureList() {
			assert.True(t, higher.HasFeature(f), "%s missing %s", higher.Tier, f)
		}
	}

	assert.Nil(t, plans[TierEnterprise].Limits.Patients)
	require.NotNil(t, plans[TierBasic].Limits.Patients)
	assert.Equal(t, int64(500), *plans[TierBasic].Limits.Patients)
}

func TestFeatureListSkipsDisabled(t *testing.T) {
	plan := &Plan{Features: map[string]bool{"b": true, "a": true, "c": false}}
	assert.Equal(t, []string{"a", "b"}, plan.FeatureList())

	var nilPlan *Plan
	assert.Nil(t, nilPlan.FeatureList())
	assert.False(t, nilPlan.HasFeature("a"))
}
