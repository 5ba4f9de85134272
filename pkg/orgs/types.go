// Package orgs models the organization hierarchy used to expand
// department-level data scopes into concrete organization id lists.
// Hierarchies are stored as parent-id adjacency; trees are built
// iteratively so deep hierarchies cannot exhaust the stack.
package orgs

// Organization is one node of the tenant's organization hierarchy. A node
// with an empty ParentID is a root.
type Organization struct {
	ID         string `json:"id"`
	ParentID   string `json:"parent_id,omitempty"`
	TenantCode string `json:"tenant_code,omitempty"`
	Name       string `json:"name"`
	SortOrder  int    `json:"sort_order"`
	Enabled    bool   `json:"enabled"`
}

// TreeNode is an organization with its resolved children.
type TreeNode struct {
	Organization
	Children []*TreeNode `json:"children,omitempty"`
}
