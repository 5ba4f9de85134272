package authz

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate creates the grant and membership tables. Statements are written to
// run on both PostgreSQL and SQLite so tests can use an in-memory database.
func Migrate(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS role_users (
			role_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (role_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS role_data_grants (
			role_id TEXT NOT NULL,
			application_id TEXT NOT NULL DEFAULT '',
			resource_key TEXT NOT NULL,
			data_scope TEXT NOT NULL,
			data_scope_custom TEXT,
			policy_resource_key TEXT NOT NULL DEFAULT '',
			policy TEXT,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			PRIMARY KEY (role_id, resource_key)
		)`,
		`CREATE TABLE IF NOT EXISTS user_data_grants (
			user_id TEXT NOT NULL,
			application_id TEXT NOT NULL DEFAULT '',
			resource_key TEXT NOT NULL,
			data_scope TEXT NOT NULL,
			data_scope_custom TEXT,
			policy_resource_key TEXT NOT NULL DEFAULT '',
			policy TEXT,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			expire_at TIMESTAMP,
			PRIMARY KEY (user_id, resource_key)
		)`,
		`CREATE TABLE IF NOT EXISTS role_resources (
			role_id TEXT NOT NULL,
			application_id TEXT NOT NULL DEFAULT '',
			resource_key TEXT NOT NULL,
			resource_code TEXT NOT NULL,
			PRIMARY KEY (role_id, application_id, resource_key)
		)`,
		`CREATE TABLE IF NOT EXISTS user_resources (
			user_id TEXT NOT NULL,
			application_id TEXT NOT NULL DEFAULT '',
			resource_key TEXT NOT NULL,
			resource_code TEXT NOT NULL,
			expire_at TIMESTAMP,
			PRIMARY KEY (user_id, application_id, resource_key)
		)`,
		`CREATE TABLE IF NOT EXISTS tenant_resources (
			tenant_code TEXT NOT NULL,
			application_id TEXT NOT NULL DEFAULT '',
			resource_key TEXT NOT NULL,
			resource_code TEXT NOT NULL,
			PRIMARY KEY (tenant_code, application_id, resource_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_role_users_user ON role_users (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_user_data_grants_expire ON user_data_grants (expire_at)`,
		`CREATE INDEX IF NOT EXISTS idx_user_resources_expire ON user_resources (expire_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
