// Package resolver turns a user, an action and a workspace context into an
// allow or deny decision that names its source.
//
// Precedence, highest first:
//
//  1. the user's deny list, absolute even for super_admin
//  2. unknown actions, always denied
//  3. direct grants on the user
//  4. grants from active roles, inherited ones included
//  5. the legacy system and workplace role lists of the requirement matrix
//  6. deny
//
// A grant must then pass the requirement's feature, plan tier and
// subscription gates. Tenants in trial skip the feature and subscription
// gates for actions that allow trial access.
//
// Decisions are cached per user, workspace and action. The owner of the
// stores calls InvalidateUser or InvalidateAll as part of every mutation.
package resolver
