package db

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"treebranchleaf/tbl/internal/tree"
)

func dependentIDs(deps []Dependent) []string {
	var ids []string
	for _, d := range deps {
		ids = append(ids, d.NodeID)
	}
	return ids
}

func TestDependents_Chain(t *testing.T) {
	d := setupTestDB(t)
	importSample(t, d)

	deps, err := d.Dependents(context.Background(), "width", nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"area", "price"}, dependentIDs(deps)); diff != "" {
		t.Fatalf("dependents (-want +got):\n%s", diff)
	}

	price := deps[1]
	if price.Rank != 2 || price.Hops != 2 {
		t.Errorf("price rank/hops = %d/%d, want 2/2", price.Rank, price.Hops)
	}
	want := []DependencyHop{
		{Kind: tree.LinkFormula, LinkID: "Fa", NodeID: "area", Label: "Surface"},
		{Kind: tree.LinkFormula, LinkID: "Fp", NodeID: "price", Label: "Prix total"},
	}
	if diff := cmp.Diff(want, price.Path); diff != "" {
		t.Errorf("path (-want +got):\n%s", diff)
	}
}

func TestDependents_MaxHopsCutoff(t *testing.T) {
	d := setupTestDB(t)
	importSample(t, d)

	deps, err := d.Dependents(context.Background(), "width", &DependentsConfig{MaxHops: 1})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"area"}, dependentIDs(deps)); diff != "" {
		t.Errorf("dependents (-want +got):\n%s", diff)
	}
}

func TestDependents_BudgetCutoff(t *testing.T) {
	d := setupTestDB(t)
	importSample(t, d)

	deps, err := d.Dependents(context.Background(), "width", &DependentsConfig{Budget: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 1 {
		t.Errorf("expected 1 dependent, got %d", len(deps))
	}
}

func TestDependents_KindAllowlist(t *testing.T) {
	d := setupTestDB(t)
	importSample(t, d)

	deps, err := d.Dependents(context.Background(), "area", &DependentsConfig{Kinds: []tree.LinkKind{tree.LinkVariable}})
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 1 || deps[0].Path[0].LinkID != "vPrice" {
		t.Errorf("expected price via vPrice, got %+v", deps)
	}

	none, err := d.Dependents(context.Background(), "width", &DependentsConfig{Kinds: []tree.LinkKind{tree.LinkTable}})
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("expected no table dependents, got %+v", none)
	}
}

func TestDependents_StaleLinkSkipped(t *testing.T) {
	d := setupTestDB(t)
	importSample(t, d)
	if err := d.Session().UpdateNodeLinks(context.Background(), "price", tree.Links{LinkedFormulaIDs: []string{"gone"}}); err != nil {
		t.Fatal(err)
	}

	deps, err := d.Dependents(context.Background(), "price", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 0 {
		t.Errorf("expected no dependents, got %+v", deps)
	}
}

func TestDependents_UnknownSource(t *testing.T) {
	d := setupTestDB(t)
	if _, err := d.Dependents(context.Background(), "ghost", nil); err == nil {
		t.Fatal("expected error for unknown node")
	}
}
