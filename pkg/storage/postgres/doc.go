// Package postgres persists roles, assignments and users and serves as the
// workspace upstream, on PostgreSQL with optional read replicas. The schema
// also runs on SQLite, which the package tests use.
package postgres
