package authz

import "fmt"

// Every cached artifact for a user lives under authz:user:<id>: so one
// pattern clears everything for that user. Data-scope resolutions and
// downstream filter-query caches get their own families because role and
// user data-scope reassignment only needs to touch those two.

// UserKeyPattern matches every cache key belonging to a user.
func UserKeyPattern(userID string) string {
	return fmt.Sprintf("authz:user:%s:*", userID)
}

// DataScopeKey is the cache key for a user's resolved data-scope set.
func DataScopeKey(userID string) string {
	return fmt.Sprintf("authz:user:%s:data-scopes", userID)
}

// DataScopeKeyPattern matches the resolved data-scope family for a user.
func DataScopeKeyPattern(userID string) string {
	return fmt.Sprintf("authz:user:%s:data-scopes*", userID)
}

// ResourceCodeKey is the cache key for a user's resolved resource codes,
// optionally narrowed to one application.
func ResourceCodeKey(userID, applicationID string) string {
	if applicationID == "" {
		applicationID = "all"
	}
	return fmt.Sprintf("authz:user:%s:resource-codes:%s", userID, applicationID)
}

// FilterQueryKey names a downstream filter-group query cache entry. Callers
// that translate policies into store queries cache under this key so that
// data-scope invalidation also clears their derived results.
func FilterQueryKey(userID, resourceKey string) string {
	return fmt.Sprintf("authz:user:%s:filter-query:%s", userID, resourceKey)
}

// FilterQueryKeyPattern matches every derived filter-query entry for a user.
func FilterQueryKeyPattern(userID string) string {
	return fmt.Sprintf("authz:user:%s:filter-query:*", userID)
}
