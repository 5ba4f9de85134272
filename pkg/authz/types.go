package authz

import (
	"strings"
	"time"
)

// DataScope determines the row-level subset of a resource a subject may
// access. Downstream query builders translate the scope into concrete
// predicates; this package only resolves which scope applies.
type DataScope string

const (
	DataScopeAll            DataScope = "all"
	DataScopeSelf           DataScope = "self"
	DataScopeDepartment     DataScope = "department"
	DataScopeDepartmentTree DataScope = "department_children"
	DataScopeCustom         DataScope = "custom"
)

// Valid reports whether the scope is one of the known values.
func (s DataScope) Valid() bool {
	switch s {
	case DataScopeAll, DataScopeSelf, DataScopeDepartment, DataScopeDepartmentTree, DataScopeCustom:
		return true
	}
	return false
}

// Grant is a single data-scope assignment bound to a role or a user for one
// resource key. Role grants and user grants share this shape; ExpireAt is
// only ever set on user grants.
type Grant struct {
	SubjectID         string     `json:"subject_id"`
	ApplicationID     string     `json:"application_id"`
	ResourceKey       string     `json:"resource_key"`
	DataScope         DataScope  `json:"data_scope"`
	DataScopeCustom   []string   `json:"data_scope_custom,omitempty"`
	PolicyResourceKey string     `json:"policy_resource_key"`
	Policy            string     `json:"policy,omitempty"`
	Enabled           bool       `json:"enabled"`
	ExpireAt          *time.Time `json:"expire_at,omitempty"`
}

// Expired reports whether the grant has an expiry in the past relative to now.
func (g Grant) Expired(now time.Time) bool {
	return g.ExpireAt != nil && !g.ExpireAt.After(now)
}

// EffectivePermission is the resolved data-scope decision for one resource
// key. IsRolePermission records that the base grant originated from a role;
// it stays set even when user-level values overrode the scope fields.
type EffectivePermission struct {
	ApplicationID     string    `json:"application_id"`
	ResourceKey       string    `json:"resource_key"`
	DataScope         DataScope `json:"data_scope"`
	DataScopeCustom   []string  `json:"data_scope_custom,omitempty"`
	PolicyResourceKey string    `json:"policy_resource_key"`
	Policy            string    `json:"policy,omitempty"`
	Enabled           bool      `json:"enabled"`
	IsRolePermission  bool      `json:"is_role_permission"`
}

// PolicyGroups parses the permission's stored policy. A malformed policy
// yields an empty tree, never a wider scope.
func (p EffectivePermission) PolicyGroups() []FilterGroup {
	return ParsePolicy(p.Policy)
}

// ResourceCode is an action-permission grant: it controls whether an
// operation is permitted at all, as opposed to which rows it may touch.
// Code holds one or more fine-grained codes separated by commas.
type ResourceCode struct {
	ApplicationID string `json:"application_id"`
	Key           string `json:"key"`
	Code          string `json:"code"`
}

// Codes splits the Code field into individual permission codes.
func (rc ResourceCode) Codes() []string {
	if rc.Code == "" {
		return nil
	}
	parts := strings.Split(rc.Code, ",")
	codes := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			codes = append(codes, p)
		}
	}
	return codes
}

// Subject identifies the caller on whose behalf a resolution runs. Tenant
// admins bypass grant resolution entirely and receive the full set of
// resource codes granted to their tenant.
type Subject struct {
	UserID      string `json:"user_id"`
	TenantCode  string `json:"tenant_code,omitempty"`
	TenantAdmin bool   `json:"tenant_admin,omitempty"`
}
