// Package billing holds the subscription and plan reference data the permission
// engine gates on.
//
// # Plan Tiers
//
// Tiers are totally ordered:
//
//	free_trial < basic < pro < pharmily < network < enterprise
//
// A requirement naming a set of tiers is satisfied by any plan at or above the
// lowest tier in the set:
//
//	billing.AtLeast(billing.TierPro, billing.TierBasic) // true
//
// # Plans
//
// A Plan carries boolean feature flags and nullable limits. Flags that are true
// become feature identifiers in the workspace context:
//
//	plan := billing.DefaultPlans()[billing.TierBasic]
//	plan.FeatureList() // ["clinicalNotes", "patientLimit", ...]
//
// Payment processing lives outside this module; only the state it produces
// (subscription status, trial end, plan reference) is modelled here.
package billing
