package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// The schema sticks to types and syntax that PostgreSQL and SQLite share so
// the repositories can be tested against an in-memory database.

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					display_name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					category VARCHAR(64) NOT NULL DEFAULT '',
					permissions TEXT NOT NULL DEFAULT '[]',
					parent_role_id VARCHAR(64),
					active BOOLEAN NOT NULL DEFAULT TRUE,
					built_in BOOLEAN NOT NULL DEFAULT FALSE,
					created_by VARCHAR(255) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_roles_parent ON roles(parent_role_id);
			`,
		},
		{
			Version:     2,
			Description: "Create role assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_assignments (
					id VARCHAR(64) PRIMARY KEY,
					user_id VARCHAR(255) NOT NULL,
					role_id VARCHAR(64) NOT NULL REFERENCES roles(id),
					workspace_id VARCHAR(255),
					temporary BOOLEAN NOT NULL DEFAULT FALSE,
					expires_at TIMESTAMP,
					reason TEXT NOT NULL DEFAULT '',
					assigned_by VARCHAR(255) NOT NULL,
					assigned_at TIMESTAMP NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					revoked_by VARCHAR(255) NOT NULL DEFAULT '',
					revoked_at TIMESTAMP,
					revocation_reason TEXT NOT NULL DEFAULT ''
				);
				CREATE INDEX IF NOT EXISTS idx_role_assignments_user ON role_assignments(user_id);
				CREATE INDEX IF NOT EXISTS idx_role_assignments_expiry ON role_assignments(expires_at);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_role_assignments_active
					ON role_assignments(user_id, role_id, COALESCE(workspace_id, ''))
					WHERE active;
			`,
		},
		{
			Version:     3,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id VARCHAR(255) PRIMARY KEY,
					system_role VARCHAR(64) NOT NULL,
					workplace_role VARCHAR(64) NOT NULL DEFAULT '',
					assigned_roles TEXT NOT NULL DEFAULT '[]',
					direct_permissions TEXT NOT NULL DEFAULT '[]',
					denied_permissions TEXT NOT NULL DEFAULT '[]',
					active BOOLEAN NOT NULL DEFAULT TRUE,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			Version:     4,
			Description: "Create plans table",
			SQL: `
				CREATE TABLE IF NOT EXISTS plans (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					tier VARCHAR(32) NOT NULL,
					features TEXT NOT NULL DEFAULT '{}',
					limits TEXT NOT NULL DEFAULT '{}',
					active BOOLEAN NOT NULL DEFAULT TRUE
				);
				CREATE INDEX IF NOT EXISTS idx_plans_tier ON plans(tier);
			`,
		},
		{
			Version:     5,
			Description: "Create workspaces and membership tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS workspaces (
					id VARCHAR(255) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					owner_id VARCHAR(255) NOT NULL,
					plan_id VARCHAR(64) NOT NULL DEFAULT '',
					trial_ends_at TIMESTAMP,
					status VARCHAR(32) NOT NULL DEFAULT 'active',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_workspaces_owner ON workspaces(owner_id);
				CREATE TABLE IF NOT EXISTS workspace_members (
					workspace_id VARCHAR(255) NOT NULL REFERENCES workspaces(id),
					user_id VARCHAR(255) NOT NULL,
					joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (workspace_id, user_id)
				);
				CREATE INDEX IF NOT EXISTS idx_workspace_members_user ON workspace_members(user_id);
			`,
		},
		{
			Version:     6,
			Description: "Create subscriptions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscriptions (
					id VARCHAR(64) PRIMARY KEY,
					workspace_id VARCHAR(255) NOT NULL REFERENCES workspaces(id),
					plan_id VARCHAR(64) NOT NULL DEFAULT '',
					tier VARCHAR(32) NOT NULL DEFAULT '',
					status VARCHAR(32) NOT NULL,
					trial_ends_at TIMESTAMP,
					current_period_end TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_subscriptions_workspace ON subscriptions(workspace_id, updated_at);
			`,
		},
	}
}

// RunMigrations applies pending migrations, one transaction each
func RunMigrations(ctx context.Context, db *sql.DB, log *logrus.Logger) error {
	if log == nil {
		log = logrus.New()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS permengine_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM permengine_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, m := range GetMigrations() {
		if applied[m.Version] {
			continue
		}
		log.WithFields(logrus.Fields{"version": m.Version, "description": m.Description}).Info("running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO permengine_migrations (version, description) VALUES ($1, $2)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
