package catalog

import "github.com/pharmacare/permengine/pkg/billing"

type entry struct {
	perm Permission
	req  Requirement
}

func tier(t billing.PlanTier) *billing.PlanTier { return &t }

var (
	clinicalStaff = []WorkplaceRole{WorkplaceRoleOwner, WorkplaceRolePharmacist}
	dispensary    = []WorkplaceRole{WorkplaceRoleOwner, WorkplaceRolePharmacist, WorkplaceRoleTechnician}
	frontDesk     = []WorkplaceRole{WorkplaceRoleOwner, WorkplaceRolePharmacist, WorkplaceRoleTechnician, WorkplaceRoleStaff, WorkplaceRoleAssistant}
	ownerOnly     = []WorkplaceRole{WorkplaceRoleOwner}

	fromBasic    = []billing.PlanTier{billing.TierBasic, billing.TierPro, billing.TierPharmily, billing.TierNetwork, billing.TierEnterprise}
	fromPro      = []billing.PlanTier{billing.TierPro, billing.TierPharmily, billing.TierNetwork, billing.TierEnterprise}
	fromPharmily = []billing.PlanTier{billing.TierPharmily, billing.TierNetwork, billing.TierEnterprise}
	fromNetwork  = []billing.PlanTier{billing.TierNetwork, billing.TierEnterprise}
)

// defaultEntries is the built-in pharmacy action set. Keep it sorted by action.
var defaultEntries = []entry{
	{
		Permission{Action: "adr.create", DisplayName: "Report adverse drug reaction", Category: "adr", Risk: RiskHigh, RequiredTier: tier(billing.TierPharmily)},
		Requirement{WorkplaceRoles: clinicalStaff, PlanTiers: fromPharmily, RequiresActiveSubscription: true},
	},
	{
		Permission{Action: "adr.read", DisplayName: "View adverse drug reactions", Category: "adr", Risk: RiskMedium, RequiredTier: tier(billing.TierPharmily)},
		Requirement{WorkplaceRoles: dispensary, PlanTiers: fromPharmily, RequiresActiveSubscription: true},
	},
	{
		Permission{Action: "admin.dashboard", DisplayName: "Platform administration", Category: "admin", Risk: RiskCritical},
		Requirement{SystemRoles: []SystemRole{SystemRoleSuperAdmin}},
	},
	{
		Permission{Action: "api.access", DisplayName: "Use the public API", Category: "api", Risk: RiskHigh, RequiredTier: tier(billing.TierNetwork)},
		Requirement{WorkplaceRoles: ownerOnly, Features: []string{billing.FeatureAPIAccess}, PlanTiers: fromNetwork, RequiresActiveSubscription: true},
	},
	{
		Permission{Action: "audit.export", DisplayName: "Export audit trail", Category: "audit", Risk: RiskHigh, RequiredTier: tier(billing.TierNetwork)},
		Requirement{WorkplaceRoles: ownerOnly, Features: []string{billing.FeatureAuditExport}, PlanTiers: fromNetwork, RequiresActiveSubscription: true},
	},
	{
		Permission{Action: "audit.view", DisplayName: "View audit trail", Category: "audit", Risk: RiskMedium},
		Requirement{SystemRoles: []SystemRole{SystemRoleOwner}, RequiresActiveSubscription: true, AllowTrialAccess: true},
	},
	{
		Permission{Action: "billing.view", DisplayName: "View invoices", Category: "billing", Risk: RiskMedium},
		Requirement{WorkplaceRoles: ownerOnly},
	},
	{
		Permission{Action: "clinical_note.create", DisplayName: "Write clinical notes", Category: "clinical_note", Risk: RiskMedium},
		Requirement{WorkplaceRoles: clinicalStaff, Features: []string{billing.FeatureClinicalNotes}, RequiresActiveSubscription: true, AllowTrialAccess: true},
	},
	{
		Permission{Action: "clinical_note.delete", DisplayName: "Delete clinical notes", Category: "clinical_note", Risk: RiskHigh},
		Requirement{WorkplaceRoles: ownerOnly, Features: []string{billing.FeatureClinicalNotes}, RequiresActiveSubscription: true},
	},
	{
		Permission{Action: "clinical_note.read", DisplayName: "Read clinical notes", Category: "clinical_note", Risk: RiskLow},
		Requirement{WorkplaceRoles: dispensary, Features: []string{billing.FeatureClinicalNotes}, RequiresActiveSubscription: true, AllowTrialAccess: true},
	},
	{
		Permission{Action: "clinical_note.update", DisplayName: "Edit clinical notes", Category: "clinical_note", Risk: RiskMedium},
		Requirement{WorkplaceRoles: clinicalStaff, Features: []string{billing.FeatureClinicalNotes}, RequiresActiveSubscription: true, AllowTrialAccess: true},
	},
	{
		Permission{Action: "dashboard.view", DisplayName: "View dashboard", Category: "workspace", Risk: RiskLow},
		Requirement{AllowTrialAccess: true},
	},
	{
		Permission{Action: "diagnostic.analyze", DisplayName: "Run AI diagnostic analysis", Category: "diagnostic", Risk: RiskHigh, RequiredTier: tier(billing.TierPharmily)},
		Requirement{WorkplaceRoles: clinicalStaff, Features: []string{billing.FeatureAIDiagnostics}, PlanTiers: fromPharmily, RequiresActiveSubscription: true},
	},
	{
		Permission{Action: "diagnostic.read", DisplayName: "View diagnostic results", Category: "diagnostic", Risk: RiskMedium, RequiredTier: tier(billing.TierPharmily)},
		Requirement{WorkplaceRoles: clinicalStaff, Features: []string{billing.FeatureAIDiagnostics}, RequiresActiveSubscription: true},
	},
	{
		Permission{Action: "intervention.create", DisplayName: "Record clinical intervention", Category: "intervention", Risk: RiskMedium, RequiredTier: tier(billing.TierBasic)},
		Requirement{WorkplaceRoles: clinicalStaff, Features: []string{billing.FeatureInterventions}, PlanTiers: fromBasic, RequiresActiveSubscription: true, AllowTrialAccess: true},
	},
	{
		Permission{Action: "intervention.read", DisplayName: "View clinical interventions", Category: "intervention", Risk: RiskLow, RequiredTier: tier(billing.TierBasic)},
		Requirement{WorkplaceRoles: dispensary, Features: []string{billing.FeatureInterventions}, RequiresActiveSubscription: true, AllowTrialAccess: true},
	},
	{
		Permission{Action: "intervention.update", DisplayName: "Edit clinical interventions", Category: "intervention", Risk: RiskMedium, RequiredTier: tier(billing.TierBasic)},
		Requirement{WorkplaceRoles: clinicalStaff, Features: []string{billing.FeatureInterventions}, PlanTiers: fromBasic, RequiresActiveSubscription: true, AllowTrialAccess: true},
	},
	{
		Permission{Action: "location.manage", DisplayName: "Manage pharmacy locations", Category: "location", Risk: RiskHigh, RequiredTier: tier(billing.TierNetwork)},
		Requirement{WorkplaceRoles: ownerOnly, Features: []string{billing.FeatureMultiLocation}, PlanTiers: fromNetwork, RequiresActiveSubscription: true},
	},
	{
		Permission{Action: "medication.create", DisplayName: "Add medication records", Category: "medication", Risk: RiskMedium},
		Requirement{WorkplaceRoles: dispensary, Features: []string{billing.FeatureMedicationMgmt}, RequiresActiveSubscription: true, AllowTrialAccess: true},
	},
	{
		Permission{Action: "medication.read", DisplayName: "View medication records", Category: "medication", Risk: RiskLow},
		Requirement{WorkplaceRoles: frontDesk, Features: []string{billing.FeatureMedicationMgmt}, RequiresActiveSubscription: true, AllowTrialAccess: true},
	},
	{
		Permission{Action: "medication.update", DisplayName: "Edit medication records", Category: "medication", Risk: RiskMedium},
		Requirement{WorkplaceRoles: dispensary, Features: []string{billing.FeatureMedicationMgmt}, RequiresActiveSubscription: true, AllowTrialAccess: true},
	},
	{
		Permission{Action: "mtr.create", DisplayName: "Start medication therapy review", Category: "mtr", Risk: RiskMedium, RequiredTier: tier(billing.TierPro)},
		Requirement{WorkplaceRoles: clinicalStaff, Features: []string{billing.FeatureMTR}, PlanTiers: fromPro, RequiresActiveSubscription: true},
	},
	{
		Permission{Action: "mtr.read", DisplayName: "View medication therapy reviews", Category: "mtr", Risk: RiskLow, RequiredTier: tier(billing.TierPro)},
		Requirement{WorkplaceRoles: dispensary, Features: []string{billing.FeatureMTR}, PlanTiers: fromPro, RequiresActiveSubscription: true},
	},
	{
		Permission{Action: "mtr.update", DisplayName: "Edit medication therapy reviews", Category: "mtr", Risk: RiskMedium, RequiredTier: tier(billing.TierPro)},
		Requirement{WorkplaceRoles: clinicalStaff, Features: []string{billing.FeatureMTR}, PlanTiers: fromPro, RequiresActiveSubscription: true},
	},
	{
		Permission{Action: "patient.create", DisplayName: "Register patient", Category: "patient", Risk: RiskMedium},
		Requirement{WorkplaceRoles: dispensary, Features: []string{billing.FeaturePatientLimit}, RequiresActiveSubscription: true, AllowTrialAccess: true},
	},
	{
		Permission{Action: "patient.delete", DisplayName: "Delete patient", Category: "patient", Risk: RiskHigh},
		Requirement{WorkplaceRoles: clinicalStaff, RequiresActiveSubscription: true, AllowTrialAccess: true},
	},
	{
		Permission{Action: "patient.export", DisplayName: "Export patient records", Category: "patient", Risk: RiskCritical, RequiredTier: tier(billing.TierPro)},
		Requirement{WorkplaceRoles: ownerOnly, Features: []string{billing.FeatureAdvancedReports}, PlanTiers: fromPro, RequiresActiveSubscription: true},
	},
	{
		Permission{Action: "patient.read", DisplayName: "View patients", Category: "patient", Risk: RiskLow},
		Requirement{WorkplaceRoles: frontDesk, RequiresActiveSubscription: true, AllowTrialAccess: true},
	},
	{
		Permission{Action: "patient.update", DisplayName: "Edit patient", Category: "patient", Risk: RiskMedium},
		Requirement{WorkplaceRoles: dispensary, RequiresActiveSubscription: true, AllowTrialAccess: true},
	},
	{
		Permission{Action: "report.advanced", DisplayName: "View advanced reports", Category: "report", Risk: RiskMedium, RequiredTier: tier(billing.TierPro)},
		Requirement{WorkplaceRoles: clinicalStaff, Features: []string{billing.FeatureAdvancedReports}, PlanTiers: fromPro, RequiresActiveSubscription: true},
	},
	{
		Permission{Action: "report.export", DisplayName: "Export reports", Category: "report", Risk: RiskHigh, RequiredTier: tier(billing.TierPro)},
		Requirement{WorkplaceRoles: ownerOnly, Features: []string{billing.FeatureAdvancedReports}, PlanTiers: fromPro, RequiresActiveSubscription: true},
	},
	{
		Permission{Action: "report.view", DisplayName: "View basic reports", Category: "report", Risk: RiskLow},
		Requirement{WorkplaceRoles: clinicalStaff, Features: []string{billing.FeatureBasicReports}, RequiresActiveSubscription: true, AllowTrialAccess: true},
	},
	{
		Permission{Action: "role.assign", DisplayName: "Assign roles", Category: "role", Risk: RiskHigh},
		Requirement{SystemRoles: []SystemRole{SystemRoleOwner}},
	},
	{
		Permission{Action: "role.manage", DisplayName: "Manage role definitions", Category: "role", Risk: RiskCritical},
		Requirement{SystemRoles: []SystemRole{SystemRoleSuperAdmin}},
	},
	{
		Permission{Action: "subscription.manage", DisplayName: "Change subscription", Category: "billing", Risk: RiskHigh},
		Requirement{WorkplaceRoles: ownerOnly, AllowTrialAccess: true},
	},
	{
		Permission{Action: "subscription.view", DisplayName: "View subscription", Category: "billing", Risk: RiskLow},
		Requirement{WorkplaceRoles: ownerOnly, AllowTrialAccess: true},
	},
	{
		Permission{Action: "system.feature_flags", DisplayName: "Manage feature flags", Category: "admin", Risk: RiskCritical},
		Requirement{SystemRoles: []SystemRole{SystemRoleSuperAdmin}},
	},
	{
		Permission{Action: "team.invite", DisplayName: "Invite team members", Category: "team", Risk: RiskMedium, RequiredTier: tier(billing.TierPro)},
		Requirement{WorkplaceRoles: ownerOnly, Features: []string{billing.FeatureTeamManagement}, PlanTiers: fromPro, RequiresActiveSubscription: true},
	},
	{
		Permission{Action: "team.manage", DisplayName: "Manage team members", Category: "team", Risk: RiskHigh, RequiredTier: tier(billing.TierPro)},
		Requirement{WorkplaceRoles: ownerOnly, Features: []string{billing.FeatureTeamManagement}, PlanTiers: fromPro, RequiresActiveSubscription: true},
	},
	{
		Permission{Action: "user.manage", DisplayName: "Manage users", Category: "user", Risk: RiskCritical},
		Requirement{SystemRoles: []SystemRole{SystemRoleOwner}},
	},
	{
		Permission{Action: "workspace.settings", DisplayName: "Change workspace settings", Category: "workspace", Risk: RiskHigh},
		Requirement{WorkplaceRoles: ownerOnly},
	},
}

// DefaultPermissions returns the built-in pharmacy permission set
func DefaultPermissions() []Permission {
	perms := make([]Permission, 0, len(defaultEntries))
	for _, e := range defaultEntries {
		perms = append(perms, e.perm)
	}
	return perms
}

// DefaultRequirements returns the built-in requirement table keyed by action
func DefaultRequirements() map[string]Requirement {
	reqs := make(map[string]Requirement, len(defaultEntries))
	for _, e := range defaultEntries {
		reqs[e.perm.Action] = e.req
	}
	return reqs
}

// DefaultCatalog builds the catalog from DefaultPermissions
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultPermissions())
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultMatrix builds the matrix from DefaultRequirements
func DefaultMatrix() *Matrix {
	m, err := NewMatrix(DefaultRequirements())
	if err != nil {
		panic(err)
	}
	return m
}
