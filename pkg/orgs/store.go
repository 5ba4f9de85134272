package orgs

import (
	"context"
	"database/sql"
	"fmt"
)

// Store reads the organization hierarchy.
type Store struct {
	db *sql.DB
}

// NewStore creates an organization store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the organizations table.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS organizations (
			id TEXT PRIMARY KEY,
			parent_id TEXT NOT NULL DEFAULT '',
			tenant_code TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			sort_order INTEGER NOT NULL DEFAULT 0,
			enabled BOOLEAN NOT NULL DEFAULT TRUE
		)`)
	if err != nil {
		return fmt.Errorf("organizations migration failed: %w", err)
	}
	return nil
}

// List returns every organization, optionally narrowed to one tenant.
func (s *Store) List(ctx context.Context, tenantCode string) ([]Organization, error) {
	query := `
		SELECT id, parent_id, tenant_code, name, sort_order, enabled
		FROM organizations`
	var args []interface{}
	if tenantCode != "" {
		query += " WHERE tenant_code = $1"
		args = append(args, tenantCode)
	}
	query += " ORDER BY sort_order, name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var list []Organization
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.ParentID, &org.TenantCode,
			&org.Name, &org.SortOrder, &org.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		list = append(list, org)
	}
	return list, rows.Err()
}

// Get returns one organization by id.
func (s *Store) Get(ctx context.Context, id string) (*Organization, error) {
	var org Organization
	err := s.db.QueryRowContext(ctx, `
		SELECT id, parent_id, tenant_code, name, sort_order, enabled
		FROM organizations WHERE id = $1`, id).
		Scan(&org.ID, &org.ParentID, &org.TenantCode,
			&org.Name, &org.SortOrder, &org.Enabled)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("organization not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}
