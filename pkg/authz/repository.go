package authz

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Repository provides read access to grants, role memberships, and tenant
// resource assignments. The engine never writes through it; grants are
// mutated by the surrounding role/user management services.
type Repository interface {
	// GetRoleIDsForUser returns the role identifiers currently held by a user.
	GetRoleIDsForUser(ctx context.Context, userID string) ([]string, error)

	// GetRoleDataGrants returns every data grant attached to the given roles.
	GetRoleDataGrants(ctx context.Context, roleIDs []string) ([]Grant, error)

	// GetUserDataGrants returns a user's own data grants, excluding expired ones.
	GetUserDataGrants(ctx context.Context, userID string) ([]Grant, error)

	// GetUsersForRole returns the distinct users holding a role.
	GetUsersForRole(ctx context.Context, roleID string) ([]string, error)

	// GetTenantResourceCodes returns every resource code granted to a tenant.
	GetTenantResourceCodes(ctx context.Context, tenantCode string) ([]ResourceCode, error)

	// GetRoleResourceCodes returns resource codes attached to the given roles,
	// narrowed to one application when applicationID is non-empty.
	GetRoleResourceCodes(ctx context.Context, roleIDs []string, applicationID string) ([]ResourceCode, error)

	// GetUserResourceCodes returns a user's own non-expired resource codes.
	GetUserResourceCodes(ctx context.Context, userID string, applicationID string) ([]ResourceCode, error)

	// GetUsersWithGrantsExpiredBetween returns the distinct users that had a
	// data grant or resource code expire inside (from, to].
	GetUsersWithGrantsExpiredBetween(ctx context.Context, from, to time.Time) ([]string, error)
}

// SQLRepository implements Repository on database/sql. Placeholders use the
// $N form, which both PostgreSQL and SQLite accept.
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository creates a repository backed by the given database handle.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// GetRoleIDsForUser returns the role identifiers currently held by a user.
func (r *SQLRepository) GetRoleIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT role_id FROM role_users WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user roles: %w", err)
	}
	defer rows.Close()

	var roleIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role id: %w", err)
		}
		roleIDs = append(roleIDs, id)
	}
	return roleIDs, rows.Err()
}

// GetRoleDataGrants returns every data grant attached to the given roles.
func (r *SQLRepository) GetRoleDataGrants(ctx context.Context, roleIDs []string) ([]Grant, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	placeholders, args := inArgs(roleIDs, 1)
	query := fmt.Sprintf(`
		SELECT role_id, application_id, resource_key, data_scope, data_scope_custom,
		       policy_resource_key, policy, enabled
		FROM role_data_grants
		WHERE role_id IN (%s)`, placeholders)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query role data grants: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		g, err := scanGrant(rows, false)
		if err != nil {
			return nil, err
		}
		grants = append(grants, *g)
	}
	return grants, rows.Err()
}

// GetUserDataGrants returns a user's own data grants, excluding expired ones.
func (r *SQLRepository) GetUserDataGrants(ctx context.Context, userID string) ([]Grant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, application_id, resource_key, data_scope, data_scope_custom,
		       policy_resource_key, policy, enabled, expire_at
		FROM user_data_grants
		WHERE user_id = $1
		  AND (expire_at IS NULL OR expire_at > $2)`,
		userID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query user data grants: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		g, err := scanGrant(rows, true)
		if err != nil {
			return nil, err
		}
		grants = append(grants, *g)
	}
	return grants, rows.Err()
}

// GetUsersForRole returns the distinct users holding a role.
func (r *SQLRepository) GetUsersForRole(ctx context.Context, roleID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM role_users WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query role users: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}

// GetTenantResourceCodes returns every resource code granted to a tenant.
func (r *SQLRepository) GetTenantResourceCodes(ctx context.Context, tenantCode string) ([]ResourceCode, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT application_id, resource_key, resource_code
		FROM tenant_resources
		WHERE tenant_code = $1`, tenantCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant resources: %w", err)
	}
	defer rows.Close()
	return scanResourceCodes(rows)
}

// GetRoleResourceCodes returns resource codes attached to the given roles.
func (r *SQLRepository) GetRoleResourceCodes(ctx context.Context, roleIDs []string, applicationID string) ([]ResourceCode, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	placeholders, args := inArgs(roleIDs, 1)
	query := fmt.Sprintf(`
		SELECT application_id, resource_key, resource_code
		FROM role_resources
		WHERE role_id IN (%s)`, placeholders)
	if applicationID != "" {
		query += fmt.Sprintf(" AND application_id = $%d", len(args)+1)
		args = append(args, applicationID)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query role resources: %w", err)
	}
	defer rows.Close()
	return scanResourceCodes(rows)
}

// GetUserResourceCodes returns a user's own non-expired resource codes.
func (r *SQLRepository) GetUserResourceCodes(ctx context.Context, userID string, applicationID string) ([]ResourceCode, error) {
	query := `
		SELECT application_id, resource_key, resource_code
		FROM user_resources
		WHERE user_id = $1
		  AND (expire_at IS NULL OR expire_at > $2)`
	args := []interface{}{userID, time.Now()}
	if applicationID != "" {
		query += " AND application_id = $3"
		args = append(args, applicationID)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query user resources: %w", err)
	}
	defer rows.Close()
	return scanResourceCodes(rows)
}

// GetUsersWithGrantsExpiredBetween returns the distinct users that had a
// grant or resource code expire inside (from, to].
func (r *SQLRepository) GetUsersWithGrantsExpiredBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM user_data_grants
		WHERE expire_at > $1 AND expire_at <= $2
		UNION
		SELECT user_id FROM user_resources
		WHERE expire_at > $3 AND expire_at <= $4`,
		from, to, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired grants: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}

// scanGrant reads one grant row. Role grants have no expire_at column.
func scanGrant(rows *sql.Rows, withExpiry bool) (*Grant, error) {
	var g Grant
	var custom sql.NullString
	var policy sql.NullString

	dest := []interface{}{
		&g.SubjectID, &g.ApplicationID, &g.ResourceKey, &g.DataScope,
		&custom, &g.PolicyResourceKey, &policy, &g.Enabled,
	}
	var expireAt sql.NullTime
	if withExpiry {
		dest = append(dest, &expireAt)
	}

	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan grant: %w", err)
	}

	if custom.Valid {
		g.DataScopeCustom = splitIDList(custom.String)
	}
	if policy.Valid {
		g.Policy = policy.String
	}
	if expireAt.Valid {
		t := expireAt.Time
		g.ExpireAt = &t
	}
	return &g, nil
}

func scanResourceCodes(rows *sql.Rows) ([]ResourceCode, error) {
	var codes []ResourceCode
	for rows.Next() {
		var rc ResourceCode
		if err := rows.Scan(&rc.ApplicationID, &rc.Key, &rc.Code); err != nil {
			return nil, fmt.Errorf("failed to scan resource code: %w", err)
		}
		codes = append(codes, rc)
	}
	return codes, rows.Err()
}

// inArgs builds a "$1, $2, ..." placeholder list starting at the given index.
func inArgs(values []string, start int) (string, []interface{}) {
	placeholders := make([]string, len(values))
	args := make([]interface{}, len(values))
	for i, v := range values {
		placeholders[i] = fmt.Sprintf("$%d", start+i)
		args[i] = v
	}
	return strings.Join(placeholders, ", "), args
}

// splitIDList splits a comma-separated id list as stored in the database.
func splitIDList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}
