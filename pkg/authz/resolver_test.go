package authz

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/platinummonkey/palisade/pkg/cache"
	"github.com/platinummonkey/palisade/pkg/observability"
	"github.com/platinummonkey/palisade/pkg/orgs"
)

// stubRepo implements Repository with overridable functions and call counts.
type stubRepo struct {
	roleIDs       func(userID string) ([]string, error)
	roleGrants    func(roleIDs []string) ([]Grant, error)
	userGrants    func(userID string) ([]Grant, error)
	usersForRole  func(roleID string) ([]string, error)
	tenantCodes   func(tenantCode string) ([]ResourceCode, error)
	roleCodes     func(roleIDs []string, applicationID string) ([]ResourceCode, error)
	userCodes     func(userID, applicationID string) ([]ResourceCode, error)
	expiredUsers  func(from, to time.Time) ([]string, error)
	roleIDCalls   int
	roleGrantCall int
}

func (s *stubRepo) GetRoleIDsForUser(_ context.Context, userID string) ([]string, error) {
	s.roleIDCalls++
	if s.roleIDs == nil {
		return nil, nil
	}
	return s.roleIDs(userID)
}

func (s *stubRepo) GetRoleDataGrants(_ context.Context, roleIDs []string) ([]Grant, error) {
	s.roleGrantCall++
	if s.roleGrants == nil {
		return nil, nil
	}
	return s.roleGrants(roleIDs)
}

func (s *stubRepo) GetUserDataGrants(_ context.Context, userID string) ([]Grant, error) {
	if s.userGrants == nil {
		return nil, nil
	}
	return s.userGrants(userID)
}

func (s *stubRepo) GetUsersForRole(_ context.Context, roleID string) ([]string, error) {
	if s.usersForRole == nil {
		return nil, nil
	}
	return s.usersForRole(roleID)
}

func (s *stubRepo) GetTenantResourceCodes(_ context.Context, tenantCode string) ([]ResourceCode, error) {
	if s.tenantCodes == nil {
		return nil, nil
	}
	return s.tenantCodes(tenantCode)
}

func (s *stubRepo) GetRoleResourceCodes(_ context.Context, roleIDs []string, applicationID string) ([]ResourceCode, error) {
	if s.roleCodes == nil {
		return nil, nil
	}
	return s.roleCodes(roleIDs, applicationID)
}

func (s *stubRepo) GetUserResourceCodes(_ context.Context, userID, applicationID string) ([]ResourceCode, error) {
	if s.userCodes == nil {
		return nil, nil
	}
	return s.userCodes(userID, applicationID)
}

func (s *stubRepo) GetUsersWithGrantsExpiredBetween(_ context.Context, from, to time.Time) ([]string, error) {
	if s.expiredUsers == nil {
		return nil, nil
	}
	return s.expiredUsers(from, to)
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func testCache(t *testing.T) *cache.MemoryCache {
	t.Helper()
	c, err := cache.NewMemoryCache(128)
	if err != nil {
		t.Fatalf("Failed to create memory cache: %v", err)
	}
	return c
}

func TestMergeGrants_RoleFirstOccurrenceWins(t *testing.T) {
	roleGrants := []Grant{
		{SubjectID: "r1", ResourceKey: "order", DataScope: DataScopeAll, Enabled: true},
		{SubjectID: "r2", ResourceKey: "order", DataScope: DataScopeSelf, Enabled: true},
	}

	perms := MergeGrants(roleGrants, nil, time.Now())
	if len(perms) != 1 {
		t.Fatalf("Expected 1 permission, got %d", len(perms))
	}
	if perms[0].DataScope != DataScopeAll {
		t.Errorf("Expected first role grant to win, got scope %s", perms[0].DataScope)
	}
	if !perms[0].IsRolePermission {
		t.Error("Expected role provenance flag to be set")
	}
}

func TestMergeGrants_UserOverridesRoleInPlace(t *testing.T) {
	roleGrants := []Grant{
		{SubjectID: "r1", ResourceKey: "order", DataScope: DataScopeAll, PolicyResourceKey: "role-schema", Policy: `[]`, Enabled: true},
	}
	userGrants := []Grant{
		{
			SubjectID:         "u1",
			ResourceKey:       "order",
			DataScope:         DataScopeCustom,
			DataScopeCustom:   []string{"org-1", "org-2"},
			PolicyResourceKey: "user-schema",
			Policy:            `[{"connector":"and"}]`,
		},
	}

	perms := MergeGrants(roleGrants, userGrants, time.Now())
	if len(perms) != 1 {
		t.Fatalf("Expected 1 permission, got %d", len(perms))
	}

	p := perms[0]
	if p.DataScope != DataScopeCustom {
		t.Errorf("Expected user scope to override, got %s", p.DataScope)
	}
	if len(p.DataScopeCustom) != 2 {
		t.Errorf("Expected custom org list to override, got %v", p.DataScopeCustom)
	}
	if p.Policy != `[{"connector":"and"}]` {
		t.Errorf("Expected user policy to override, got %s", p.Policy)
	}
	if p.PolicyResourceKey != "role-schema" {
		t.Errorf("Expected the role's policy resource key to survive, got %s", p.PolicyResourceKey)
	}
	if !p.IsRolePermission {
		t.Error("Expected role provenance flag to survive the user override")
	}
}

func TestMergeGrants_ExpiredUserGrantIgnored(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	userGrants := []Grant{
		{SubjectID: "u1", ResourceKey: "order", DataScope: DataScopeAll, ExpireAt: &past},
	}

	perms := MergeGrants(nil, userGrants, time.Now())
	if len(perms) != 0 {
		t.Fatalf("Expected expired grant to be ignored, got %d permissions", len(perms))
	}
}

func TestMergeGrants_UserOnlyGrantAppended(t *testing.T) {
	roleGrants := []Grant{
		{SubjectID: "r1", ResourceKey: "order", DataScope: DataScopeAll, Enabled: true},
	}
	userGrants := []Grant{
		{SubjectID: "u1", ResourceKey: "invoice", DataScope: DataScopeSelf, Enabled: true},
	}

	perms := MergeGrants(roleGrants, userGrants, time.Now())
	if len(perms) != 2 {
		t.Fatalf("Expected 2 permissions, got %d", len(perms))
	}
	if perms[1].ResourceKey != "invoice" {
		t.Errorf("Expected user-only grant appended, got %s", perms[1].ResourceKey)
	}
	if perms[1].IsRolePermission {
		t.Error("Expected user-only grant to not carry role provenance")
	}
}

func TestResolver_NoGrantsYieldsEmptyList(t *testing.T) {
	resolver := NewResolver(&stubRepo{}, testCache(t), testLogger())

	perms, err := resolver.ResolveDataScope(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("ResolveDataScope failed: %v", err)
	}
	if len(perms) != 0 {
		t.Errorf("Expected an empty list for a user with no grants, got %+v", perms)
	}
}

func TestResolver_DataScopeCaching(t *testing.T) {
	repo := &stubRepo{
		roleIDs: func(string) ([]string, error) { return []string{"r1"}, nil },
		roleGrants: func([]string) ([]Grant, error) {
			return []Grant{{SubjectID: "r1", ResourceKey: "order", DataScope: DataScopeAll, Enabled: true}}, nil
		},
	}
	resolver := NewResolver(repo, testCache(t), testLogger())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		perms, err := resolver.ResolveDataScope(ctx, "u1")
		if err != nil {
			t.Fatalf("ResolveDataScope failed: %v", err)
		}
		if len(perms) != 1 || perms[0].ResourceKey != "order" {
			t.Fatalf("Unexpected permissions: %+v", perms)
		}
	}

	if repo.roleIDCalls != 1 {
		t.Errorf("Expected 1 repository hit with a warm cache, got %d", repo.roleIDCalls)
	}
}

// errCache fails every operation, standing in for a Redis outage.
type errCache struct{}

func (errCache) Get(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("connection refused")
}
func (errCache) Set(context.Context, string, []byte, time.Duration) error {
	return fmt.Errorf("connection refused")
}
func (errCache) Delete(context.Context, ...string) error { return fmt.Errorf("connection refused") }
func (errCache) DeletePattern(context.Context, string) (int, error) {
	return 0, fmt.Errorf("connection refused")
}
func (errCache) Close() error { return nil }

func TestResolver_CacheFailureFallsThrough(t *testing.T) {
	repo := &stubRepo{
		roleIDs: func(string) ([]string, error) { return []string{"r1"}, nil },
		roleGrants: func([]string) ([]Grant, error) {
			return []Grant{{SubjectID: "r1", ResourceKey: "order", DataScope: DataScopeAll, Enabled: true}}, nil
		},
	}
	resolver := NewResolver(repo, errCache{}, testLogger())

	perms, err := resolver.ResolveDataScope(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Expected resolution to survive a cache outage, got %v", err)
	}
	if len(perms) != 1 {
		t.Fatalf("Expected 1 permission, got %d", len(perms))
	}
}

func TestResolver_CancelledContextNotCached(t *testing.T) {
	repo := &stubRepo{
		roleIDs: func(string) ([]string, error) { return []string{"r1"}, nil },
		roleGrants: func([]string) ([]Grant, error) {
			return []Grant{{SubjectID: "r1", ResourceKey: "order", DataScope: DataScopeAll, Enabled: true}}, nil
		},
	}
	store := testCache(t)
	resolver := NewResolver(repo, store, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := resolver.ResolveDataScope(ctx, "u1"); err != nil {
		t.Fatalf("ResolveDataScope failed: %v", err)
	}

	if _, err := store.Get(context.Background(), DataScopeKey("u1")); err != cache.ErrMiss {
		t.Errorf("Expected no cache entry after cancelled request, got err=%v", err)
	}
}

func TestResolver_TenantAdminBypassesGrants(t *testing.T) {
	repo := &stubRepo{
		tenantCodes: func(tenantCode string) ([]ResourceCode, error) {
			if tenantCode != "acme" {
				t.Errorf("Expected tenant acme, got %s", tenantCode)
			}
			return []ResourceCode{{ApplicationID: "app", Key: "order", Code: "read,export"}}, nil
		},
	}
	resolver := NewResolver(repo, testCache(t), testLogger())

	codes, err := resolver.ResolveResourceCodes(context.Background(),
		Subject{UserID: "u1", TenantCode: "acme", TenantAdmin: true}, "")
	if err != nil {
		t.Fatalf("ResolveResourceCodes failed: %v", err)
	}
	if len(codes) != 1 || codes[0].Code != "read,export" {
		t.Fatalf("Unexpected codes: %+v", codes)
	}
	if repo.roleIDCalls != 0 {
		t.Error("Expected tenant admin to skip role resolution")
	}
}

func TestUnionResourceCodes_ValueEquality(t *testing.T) {
	a := []ResourceCode{
		{ApplicationID: "app", Key: "order", Code: "read"},
		{ApplicationID: "app", Key: "order", Code: "write"},
	}
	b := []ResourceCode{
		{ApplicationID: "app", Key: "order", Code: "read"},
		{ApplicationID: "app2", Key: "order", Code: "read"},
	}

	union := UnionResourceCodes(a, b)
	if len(union) != 3 {
		t.Fatalf("Expected 3 distinct codes, got %d: %+v", len(union), union)
	}
	if union[0].Code != "read" || union[1].Code != "write" || union[2].ApplicationID != "app2" {
		t.Errorf("Expected first-seen order to be preserved, got %+v", union)
	}
}

func TestResolver_ResourceCodeListFlattens(t *testing.T) {
	repo := &stubRepo{
		roleIDs: func(string) ([]string, error) { return []string{"r1"}, nil },
		roleCodes: func([]string, string) ([]ResourceCode, error) {
			return []ResourceCode{{ApplicationID: "app", Key: "order", Code: "read, export"}}, nil
		},
		userCodes: func(string, string) ([]ResourceCode, error) {
			return []ResourceCode{{ApplicationID: "app", Key: "invoice", Code: "read"}}, nil
		},
	}
	resolver := NewResolver(repo, testCache(t), testLogger())

	flat, err := resolver.ResolveResourceCodeList(context.Background(), Subject{UserID: "u1"}, "app")
	if err != nil {
		t.Fatalf("ResolveResourceCodeList failed: %v", err)
	}
	want := []string{"read", "export"}
	if len(flat) != len(want) {
		t.Fatalf("Expected %v, got %v", want, flat)
	}
	for i := range want {
		if flat[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, flat)
		}
	}
}

// stubOrgs serves a fixed organization list.
type stubOrgs struct {
	list []orgs.Organization
}

func (s stubOrgs) List(context.Context, string) ([]orgs.Organization, error) {
	return s.list, nil
}

func TestResolver_ExpandScopeOrgIDs(t *testing.T) {
	dir := stubOrgs{list: []orgs.Organization{
		{ID: "root", Name: "Root"},
		{ID: "sales", ParentID: "root", Name: "Sales"},
		{ID: "sales-east", ParentID: "sales", Name: "Sales East"},
		{ID: "eng", ParentID: "root", Name: "Engineering"},
	}}
	resolver := NewResolver(&stubRepo{}, testCache(t), testLogger(), WithOrganizations(dir))
	subject := Subject{UserID: "u1", TenantCode: "acme"}
	ctx := context.Background()

	tests := []struct {
		name  string
		perm  EffectivePermission
		orgID string
		want  []string
	}{
		{"all scope has no restriction", EffectivePermission{DataScope: DataScopeAll}, "sales", nil},
		{"self scope has no org restriction", EffectivePermission{DataScope: DataScopeSelf}, "sales", nil},
		{"custom scope uses grant list", EffectivePermission{DataScope: DataScopeCustom, DataScopeCustom: []string{"a", "b"}}, "sales", []string{"a", "b"}},
		{"department scope is own org", EffectivePermission{DataScope: DataScopeDepartment}, "sales", []string{"sales"}},
		{"department tree includes descendants", EffectivePermission{DataScope: DataScopeDepartmentTree}, "sales", []string{"sales", "sales-east"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.ExpandScopeOrgIDs(ctx, subject, tt.perm, tt.orgID)
			if err != nil {
				t.Fatalf("ExpandScopeOrgIDs failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("Expected %v, got %v", tt.want, got)
				}
			}
		})
	}

	if _, err := resolver.ExpandScopeOrgIDs(ctx, subject, EffectivePermission{DataScope: "bogus"}, "sales"); err == nil {
		t.Error("Expected an error for an unknown scope")
	}
}
