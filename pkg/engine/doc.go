// Package engine assembles the permission engine: catalog and matrix, role
// and assignment stores, the user directory, the workspace context loader
// and the resolver. It owns the caches and runs the periodic cache sweep and
// assignment expiry jobs.
//
// Invalidation is synchronous. A role change drops every cached decision; an
// assignment or user change drops that user's decisions; a workspace change
// reported through InvalidateWorkspace drops the context and decisions of
// every member.
package engine
