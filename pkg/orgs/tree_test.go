package orgs

import (
	"fmt"
	"testing"
)

func testOrgs() []Organization {
	return []Organization{
		{ID: "eng", ParentID: "root", Name: "Engineering", SortOrder: 2},
		{ID: "root", Name: "Root", SortOrder: 1},
		{ID: "sales", ParentID: "root", Name: "Sales", SortOrder: 1},
		{ID: "sales-east", ParentID: "sales", Name: "Sales East", SortOrder: 1},
		{ID: "sales-west", ParentID: "sales", Name: "Sales West", SortOrder: 1},
	}
}

func TestBuildTree(t *testing.T) {
	roots := BuildTree(testOrgs())
	if len(roots) != 1 {
		t.Fatalf("Expected 1 root, got %d", len(roots))
	}

	root := roots[0]
	if root.ID != "root" {
		t.Fatalf("Expected root, got %s", root.ID)
	}
	if len(root.Children) != 2 {
		t.Fatalf("Expected 2 children, got %d", len(root.Children))
	}
	if root.Children[0].ID != "sales" || root.Children[1].ID != "eng" {
		t.Errorf("Expected sort-order then name ordering, got %s, %s",
			root.Children[0].ID, root.Children[1].ID)
	}

	sales := root.Children[0]
	if len(sales.Children) != 2 {
		t.Fatalf("Expected 2 sales children, got %d", len(sales.Children))
	}
	if sales.Children[0].ID != "sales-east" || sales.Children[1].ID != "sales-west" {
		t.Errorf("Expected name tiebreak ordering, got %s, %s",
			sales.Children[0].ID, sales.Children[1].ID)
	}
}

func TestBuildTree_OrphansBecomeRoots(t *testing.T) {
	roots := BuildTree([]Organization{
		{ID: "a", Name: "A"},
		{ID: "b", ParentID: "missing", Name: "B"},
	})
	if len(roots) != 2 {
		t.Fatalf("Expected orphan to surface as a root, got %d roots", len(roots))
	}
}

func TestBuildTree_DeepHierarchy(t *testing.T) {
	// A chain deep enough that naive recursion would be risky.
	var list []Organization
	list = append(list, Organization{ID: "n0", Name: "n0"})
	for i := 1; i < 50000; i++ {
		id := fmt.Sprintf("n%d", i)
		list = append(list, Organization{
			ID:       id,
			ParentID: fmt.Sprintf("n%d", i-1),
			Name:     id,
		})
	}

	roots := BuildTree(list)
	if len(roots) != 1 {
		t.Fatalf("Expected 1 root, got %d", len(roots))
	}

	depth := 0
	for n := roots[0]; n != nil; {
		depth++
		if len(n.Children) == 0 {
			n = nil
		} else {
			n = n.Children[0]
		}
	}
	if depth != 50000 {
		t.Errorf("Expected depth 50000, got %d", depth)
	}
}

func TestSubtreeIDs(t *testing.T) {
	list := testOrgs()

	got := SubtreeIDs(list, "sales")
	want := map[string]bool{"sales": true, "sales-east": true, "sales-west": true}
	if len(got) != len(want) {
		t.Fatalf("Expected %d ids, got %v", len(want), got)
	}
	for _, id := range got {
		if !want[id] {
			t.Errorf("Unexpected id %s", id)
		}
	}
	if got[0] != "sales" {
		t.Errorf("Expected the root first, got %v", got)
	}

	leaf := SubtreeIDs(list, "sales-east")
	if len(leaf) != 1 || leaf[0] != "sales-east" {
		t.Errorf("Expected just the leaf, got %v", leaf)
	}

	all := SubtreeIDs(list, "root")
	if len(all) != 5 {
		t.Errorf("Expected the whole tree, got %v", all)
	}
}

func TestSubtreeIDs_ParentCycleTerminates(t *testing.T) {
	list := []Organization{
		{ID: "a", ParentID: "b", Name: "A"},
		{ID: "b", ParentID: "a", Name: "B"},
		{ID: "c", ParentID: "a", Name: "C"},
	}

	got := SubtreeIDs(list, "a")
	want := map[string]bool{"a": true, "b": true, "c": true}
	if len(got) != len(want) {
		t.Fatalf("Expected each id once despite the cycle, got %v", got)
	}
	for _, id := range got {
		if !want[id] {
			t.Errorf("Unexpected id %s", id)
		}
	}
}
