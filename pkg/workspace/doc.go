// Package workspace loads the tenant state a permission check depends on:
// the user's workspace, its subscription and the effective plan. Contexts
// are cached per user with a TTL and swept periodically. A failed upstream
// fetch yields an empty context, which callers treat as no workspace access.
package workspace
