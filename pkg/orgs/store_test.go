package orgs

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := NewStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	seed := []Organization{
		{ID: "root", TenantCode: "acme", Name: "Root", SortOrder: 1, Enabled: true},
		{ID: "sales", ParentID: "root", TenantCode: "acme", Name: "Sales", SortOrder: 2, Enabled: true},
		{ID: "hq", TenantCode: "globex", Name: "HQ", SortOrder: 1, Enabled: true},
	}
	for _, org := range seed {
		_, err := db.Exec(`
			INSERT INTO organizations (id, parent_id, tenant_code, name, sort_order, enabled)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			org.ID, org.ParentID, org.TenantCode, org.Name, org.SortOrder, org.Enabled)
		if err != nil {
			t.Fatalf("Failed to seed organization: %v", err)
		}
	}
	return store
}

func TestStore_List(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 organizations, got %d", len(all))
	}

	acme, err := store.List(ctx, "acme")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(acme) != 2 {
		t.Fatalf("Expected 2 acme organizations, got %d", len(acme))
	}
	if acme[0].ID != "root" || acme[1].ID != "sales" {
		t.Errorf("Expected sort_order ordering, got %+v", acme)
	}
}

func TestStore_Get(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	org, err := store.Get(ctx, "sales")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if org.ParentID != "root" || org.TenantCode != "acme" {
		t.Errorf("Unexpected organization: %+v", org)
	}

	if _, err := store.Get(ctx, "missing"); err == nil {
		t.Error("Expected an error for a missing organization")
	}
}
