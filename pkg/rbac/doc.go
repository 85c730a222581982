// Package rbac holds the dynamic side of permission resolution: the role
// hierarchy and the user role assignments.
//
// # Roles
//
// A Role is a named bundle of catalog actions. Roles form a forest through
// an optional parent; a role inherits every permission of its ancestors.
// Inactive roles grant nothing themselves, but the inheritance walk passes
// through them, so an active child of an inactive parent still receives
// what the grandparent declares.
//
//	store := rbac.NewHierarchyStore(repo, rbac.HierarchyConfig{Catalog: cat})
//	if err := store.Load(ctx); err != nil {
//		return err
//	}
//	perms, err := store.EffectivePermissions(roleID)
//
// Writes are rejected when they would introduce a cycle. Cycles already
// present in stored data are tolerated at load time and reported as
// ErrCyclicHierarchy by any read that walks through them.
//
// # Assignments
//
// An Assignment binds a role to a user, either globally or inside one
// workspace. Global assignments apply in every workspace. Temporary
// assignments carry an expiry that is evaluated on every read; ExpireStale
// marks them revoked in storage.
//
//	a, err := assignments.Assign(ctx, userID, roleID, rbac.AssignOptions{
//		WorkspaceID: &workspaceID,
//		Replace:     true,
//		Actor:       adminID,
//	})
//
// With Replace set, the user's other active assignments in the same scope
// are revoked in the same repository transaction as the insert.
//
// # Change notification
//
// Both stores call their listeners synchronously after a write has been
// persisted and applied to memory. Callers use this to drop cached
// decisions before the mutating call returns.
package rbac
