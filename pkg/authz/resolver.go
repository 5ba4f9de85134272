package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/palisade/pkg/cache"
	"github.com/platinummonkey/palisade/pkg/observability"
	"github.com/platinummonkey/palisade/pkg/orgs"
)

// DefaultCacheTTL bounds staleness for resolved decisions that miss an
// explicit invalidation.
const DefaultCacheTTL = 10 * time.Minute

// OrganizationDirectory supplies the organization adjacency needed to expand
// department scopes into concrete organization id lists.
type OrganizationDirectory interface {
	List(ctx context.Context, tenantCode string) ([]orgs.Organization, error)
}

// Resolver computes effective data scopes and resource codes for a subject,
// caching results under the per-user key families. Cache read failures fall
// through to the repository; cache write failures are logged and the fresh
// result is still returned.
type Resolver struct {
	repo    Repository
	cache   cache.Cache
	orgs    OrganizationDirectory
	ttl     time.Duration
	metrics *observability.Metrics
	log     *observability.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCacheTTL overrides the default TTL for cached resolutions.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithMetrics attaches Prometheus metrics to the resolver.
func WithMetrics(m *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// WithOrganizations attaches the organization directory used by
// ExpandScopeOrgIDs. Without it, department scopes expand to nothing.
func WithOrganizations(dir OrganizationDirectory) ResolverOption {
	return func(r *Resolver) { r.orgs = dir }
}

// NewResolver creates a resolver over the given repository and cache.
func NewResolver(repo Repository, c cache.Cache, log *observability.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		repo:  repo,
		cache: c,
		ttl:   DefaultCacheTTL,
		log:   log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveDataScope returns the effective data-scope decisions for a user,
// one per resource key. Role grants form the base; the user's own grants
// override scope fields in place without clearing the role provenance flag.
func (r *Resolver) ResolveDataScope(ctx context.Context, userID string) ([]EffectivePermission, error) {
	start := time.Now()

	key := DataScopeKey(userID)
	var cached []EffectivePermission
	if r.getCached(ctx, key, "data_scope", &cached) {
		r.observe("data_scope", "ok", start)
		return cached, nil
	}

	perms, err := r.resolveDataScope(ctx, userID)
	if err != nil {
		r.observe("data_scope", "error", start)
		return nil, err
	}

	r.putCached(ctx, key, perms)
	r.observe("data_scope", "ok", start)
	return perms, nil
}

func (r *Resolver) resolveDataScope(ctx context.Context, userID string) ([]EffectivePermission, error) {
	roleIDs, err := r.repo.GetRoleIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve roles for user %s: %w", userID, err)
	}

	roleGrants, err := r.repo.GetRoleDataGrants(ctx, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load role grants for user %s: %w", userID, err)
	}

	userGrants, err := r.repo.GetUserDataGrants(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user grants for user %s: %w", userID, err)
	}

	return MergeGrants(roleGrants, userGrants, time.Now()), nil
}

// MergeGrants combines role grants and user grants into effective
// permissions. Role grants are deduplicated by resource key, first
// occurrence winning. A user grant for a key the roles already cover
// overrides the scope, custom org list, and policy in place; the role's
// PolicyResourceKey and IsRolePermission are kept so callers can still
// tell where the permission came from and which filter schema applies.
// Expired user grants are ignored.
func MergeGrants(roleGrants, userGrants []Grant, now time.Time) []EffectivePermission {
	perms := make([]EffectivePermission, 0, len(roleGrants)+len(userGrants))
	index := make(map[string]int, len(roleGrants))

	for _, g := range roleGrants {
		if _, ok := index[g.ResourceKey]; ok {
			continue
		}
		index[g.ResourceKey] = len(perms)
		perms = append(perms, EffectivePermission{
			ApplicationID:     g.ApplicationID,
			ResourceKey:       g.ResourceKey,
			DataScope:         g.DataScope,
			DataScopeCustom:   g.DataScopeCustom,
			PolicyResourceKey: g.PolicyResourceKey,
			Policy:            g.Policy,
			Enabled:           g.Enabled,
			IsRolePermission:  true,
		})
	}

	for _, g := range userGrants {
		if g.Expired(now) {
			continue
		}
		if i, ok := index[g.ResourceKey]; ok {
			perms[i].DataScope = g.DataScope
			perms[i].DataScopeCustom = g.DataScopeCustom
			perms[i].Policy = g.Policy
			continue
		}
		index[g.ResourceKey] = len(perms)
		perms = append(perms, EffectivePermission{
			ApplicationID:     g.ApplicationID,
			ResourceKey:       g.ResourceKey,
			DataScope:         g.DataScope,
			DataScopeCustom:   g.DataScopeCustom,
			PolicyResourceKey: g.PolicyResourceKey,
			Policy:            g.Policy,
			Enabled:           g.Enabled,
			IsRolePermission:  false,
		})
	}

	return perms
}

// ResolveResourceCodes returns the resource codes available to the subject,
// optionally narrowed to one application. Tenant administrators bypass grant
// resolution and receive everything granted to their tenant.
func (r *Resolver) ResolveResourceCodes(ctx context.Context, subject Subject, applicationID string) ([]ResourceCode, error) {
	start := time.Now()

	key := ResourceCodeKey(subject.UserID, applicationID)
	var cached []ResourceCode
	if r.getCached(ctx, key, "resource_codes", &cached) {
		r.observe("resource_codes", "ok", start)
		return cached, nil
	}

	codes, err := r.resolveResourceCodes(ctx, subject, applicationID)
	if err != nil {
		r.observe("resource_codes", "error", start)
		return nil, err
	}

	r.putCached(ctx, key, codes)
	r.observe("resource_codes", "ok", start)
	return codes, nil
}

func (r *Resolver) resolveResourceCodes(ctx context.Context, subject Subject, applicationID string) ([]ResourceCode, error) {
	if subject.TenantAdmin {
		codes, err := r.repo.GetTenantResourceCodes(ctx, subject.TenantCode)
		if err != nil {
			return nil, fmt.Errorf("failed to load tenant resources for %s: %w", subject.TenantCode, err)
		}
		return UnionResourceCodes(codes, nil), nil
	}

	roleIDs, err := r.repo.GetRoleIDsForUser(ctx, subject.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve roles for user %s: %w", subject.UserID, err)
	}

	roleCodes, err := r.repo.GetRoleResourceCodes(ctx, roleIDs, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role resources for user %s: %w", subject.UserID, err)
	}

	userCodes, err := r.repo.GetUserResourceCodes(ctx, subject.UserID, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user resources for user %s: %w", subject.UserID, err)
	}

	return UnionResourceCodes(roleCodes, userCodes), nil
}

// UnionResourceCodes merges two resource-code lists, removing value-equal
// duplicates while preserving first-seen order.
func UnionResourceCodes(a, b []ResourceCode) []ResourceCode {
	seen := make(map[ResourceCode]struct{}, len(a)+len(b))
	out := make([]ResourceCode, 0, len(a)+len(b))
	for _, rc := range a {
		if _, ok := seen[rc]; ok {
			continue
		}
		seen[rc] = struct{}{}
		out = append(out, rc)
	}
	for _, rc := range b {
		if _, ok := seen[rc]; ok {
			continue
		}
		seen[rc] = struct{}{}
		out = append(out, rc)
	}
	return out
}

// ResolveResourceCodeList flattens the subject's resource codes into a
// deduplicated list of individual permission code strings.
func (r *Resolver) ResolveResourceCodeList(ctx context.Context, subject Subject, applicationID string) ([]string, error) {
	codes, err := r.ResolveResourceCodes(ctx, subject, applicationID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var flat []string
	for _, rc := range codes {
		for _, c := range rc.Codes() {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			flat = append(flat, c)
		}
	}
	return flat, nil
}

// ExpandScopeOrgIDs translates one effective permission into the concrete
// organization ids its scope covers for a subject stationed at orgID.
// All and Self scopes carry no organization restriction and expand to nil.
func (r *Resolver) ExpandScopeOrgIDs(ctx context.Context, subject Subject, perm EffectivePermission, orgID string) ([]string, error) {
	switch perm.DataScope {
	case DataScopeAll, DataScopeSelf:
		return nil, nil
	case DataScopeCustom:
		return perm.DataScopeCustom, nil
	case DataScopeDepartment:
		if orgID == "" {
			return nil, nil
		}
		return []string{orgID}, nil
	case DataScopeDepartmentTree:
		if orgID == "" || r.orgs == nil {
			return nil, nil
		}
		list, err := r.orgs.List(ctx, subject.TenantCode)
		if err != nil {
			return nil, fmt.Errorf("failed to list organizations: %w", err)
		}
		return orgs.SubtreeIDs(list, orgID), nil
	default:
		return nil, fmt.Errorf("unknown data scope %q", perm.DataScope)
	}
}

// getCached loads and decodes a cached resolution. Any failure, including a
// decode of a stale shape, is treated as a miss.
func (r *Resolver) getCached(ctx context.Context, key, keyType string, v interface{}) bool {
	if r.cache == nil {
		return false
	}
	raw, err := r.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			r.logger(ctx).WithError(err).WithField("key", key).
				Warn("cache read failed, resolving from repository")
		}
		if r.metrics != nil {
			r.metrics.CacheMissesTotal.WithLabelValues(keyType).Inc()
		}
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		r.logger(ctx).WithError(err).WithField("key", key).
			Warn("discarding undecodable cache entry")
		if r.metrics != nil {
			r.metrics.CacheMissesTotal.WithLabelValues(keyType).Inc()
		}
		return false
	}
	if r.metrics != nil {
		r.metrics.CacheHitsTotal.WithLabelValues(keyType).Inc()
	}
	return true
}

// putCached stores a freshly resolved value. A cancelled context is not
// cached so an aborted request cannot pin a half-trusted result.
func (r *Resolver) putCached(ctx context.Context, key string, v interface{}) {
	if r.cache == nil || ctx.Err() != nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		r.logger(ctx).WithError(err).WithField("key", key).Error("failed to encode cache entry")
		return
	}
	if err := r.cache.Set(ctx, key, raw, r.ttl); err != nil {
		r.logger(ctx).WithError(err).WithField("key", key).Warn("cache write failed")
	}
}

func (r *Resolver) observe(kind, status string, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.ResolutionsTotal.WithLabelValues(kind, status).Inc()
	r.metrics.ResolutionDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (r *Resolver) logger(ctx context.Context) *observability.Logger {
	if r.log != nil {
		return r.log
	}
	return observability.FromContext(ctx)
}
