package billing

// Feature identifiers granted by plans
const (
	FeaturePatientLimit       = "patientLimit"
	FeatureClinicalNotes      = "clinicalNotes"
	FeatureMedicationMgmt     = "medicationManagement"
	FeatureBasicReports       = "basicReports"
	FeatureInterventions      = "clinicalInterventions"
	FeatureMTR                = "medicationTherapyReview"
	FeatureAdvancedReports    = "advancedReports"
	FeatureTeamManagement     = "teamManagement"
	FeatureADRReporting       = "adrReporting"
	FeatureAIDiagnostics      = "aiDiagnostics"
	FeatureMultiLocation      = "multiLocation"
	FeatureAPIAccess          = "apiAccess"
	FeatureAuditExport        = "auditExport"
	FeatureCustomIntegrations = "customIntegrations"
	FeaturePrioritySupport    = "prioritySupport"
)

func limit(n int64) *int64 {
	return &n
}

// DefaultPlans returns the built-in plan catalog, keyed by tier. Each tier
// includes every feature of the tiers below it.
func DefaultPlans() map[PlanTier]*Plan {
	trial := []string{FeaturePatientLimit, FeatureClinicalNotes, FeatureMedicationMgmt, FeatureBasicReports}
	basic := append(append([]string{}, trial...), FeatureInterventions)
	pro := append(append([]string{}, basic...), FeatureMTR, FeatureAdvancedReports, FeatureTeamManagement)
	pharmily := append(append([]string{}, pro...), FeatureADRReporting, FeatureAIDiagnostics)
	network := append(append([]string{}, pharmily...), FeatureMultiLocation, FeatureAPIAccess, FeatureAuditExport)
	enterprise := append(append([]string{}, network...), FeatureCustomIntegrations, FeaturePrioritySupport)

	return map[PlanTier]*Plan{
		TierFreeTrial: {
			ID: "plan_free_trial", Name: "Free Trial", Tier: TierFreeTrial, Active: true,
			Features: flags(trial),
			Limits:   PlanLimits{Patients: limit(50), Users: limit(1), Locations: limit(1), StorageMB: limit(512), APICallsPerMonth: limit(0)},
		},
		TierBasic: {
			ID: "plan_basic", Name: "Basic", Tier: TierBasic, Active: true,
			Features: flags(basic),
			Limits:   PlanLimits{Patients: limit(500), Users: limit(2), Locations: limit(1), StorageMB: limit(2048), APICallsPerMonth: limit(0)},
		},
		TierPro: {
			ID: "plan_pro", Name: "Pro", Tier: TierPro, Active: true,
			Features: flags(pro),
			Limits:   PlanLimits{Patients: limit(2500), Users: limit(5), Locations: limit(1), StorageMB: limit(10240), APICallsPerMonth: limit(10000)},
		},
		TierPharmily: {
			ID: "plan_pharmily", Name: "Pharmily", Tier: TierPharmily, Active: true,
			Features: flags(pharmily),
			Limits:   PlanLimits{Patients: limit(10000), Users: limit(10), Locations: limit(2), StorageMB: limit(51200), APICallsPerMonth: limit(50000)},
		},
		TierNetwork: {
			ID: "plan_network", Name: "Network", Tier: TierNetwork, Active: true,
			Features: flags(network),
			Limits:   PlanLimits{Patients: nil, Users: limit(50), Locations: limit(10), StorageMB: limit(204800), APICallsPerMonth: limit(250000)},
		},
		TierEnterprise: {
			ID: "plan_enterprise", Name: "Enterprise", Tier: TierEnterprise, Active: true,
			Features: flags(enterprise),
		},
	}
}

// PlanForTier returns the default plan for a tier, or nil if the tier is unknown
func PlanForTier(tier PlanTier) *Plan {
	return DefaultPlans()[tier]
}

func flags(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}
