package variable

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treebranchleaf/tbl/internal/eval"
	"treebranchleaf/tbl/internal/tree"
)

func toks(parts ...string) []tree.Token {
	out := make([]tree.Token, len(parts))
	for i, p := range parts {
		out[i] = tree.TokenFromString(p)
	}
	return out
}

// roofBundle models width x height = surface, surface x 10 = total.
func roofBundle() tree.Bundle {
	return tree.Bundle{
		Nodes: []tree.Node{
			{ID: "sec", Type: tree.TypeSection},
			{ID: "width", Type: tree.TypeField, ParentID: tree.StrPtr("sec")},
			{ID: "height", Type: tree.TypeField, ParentID: tree.StrPtr("sec")},
			{
				ID: "area", Type: tree.TypeDataField, ParentID: tree.StrPtr("sec"),
				Capabilities: tree.Capabilities{HasFormula: true},
				ActiveIDs:    tree.ActiveIDs{FormulaActiveID: tree.StrPtr("Fa")},
			},
			{
				ID: "price", Type: tree.TypeDataField, ParentID: tree.StrPtr("sec"),
				Capabilities: tree.Capabilities{HasFormula: true},
				ActiveIDs:    tree.ActiveIDs{FormulaActiveID: tree.StrPtr("Fp")},
			},
		},
		Formulas: []tree.Formula{
			{ID: "Fa", NodeID: "area", Tokens: toks("@value.width", "*", "@value.height")},
			{ID: "Fp", NodeID: "price", Tokens: toks("surface", "*", "10")},
		},
		Variables: []tree.Variable{
			{ID: "vArea", NodeID: "area", ExposedKey: "surface", SourceType: tree.SourceTree, SourceRef: "node-formula:Fa"},
			{ID: "vPrice", NodeID: "price", ExposedKey: "total", SourceType: tree.SourceTree, SourceRef: "node-formula:Fp"},
			{ID: "vW", NodeID: "width", ExposedKey: "w", SourceType: tree.SourceFixed},
		},
	}
}

func TestResolve(t *testing.T) {
	cat := tree.NewCatalog(roofBundle())
	b := New(cat)

	vars, bindings := b.Resolve(eval.NewEngine(cat), eval.NewContext(map[string]any{"width": "2", "height": "3"}, nil))

	want := map[string]eval.VariableValue{
		"w":       {Raw: "2", Numeric: 2},
		"surface": {Raw: 6.0, Numeric: 6},
		"total":   {Raw: 60.0, Numeric: 60},
	}
	if diff := cmp.Diff(want, vars); diff != "" {
		t.Errorf("variable map mismatch (-want +got):\n%s", diff)
	}

	var keys []string
	for _, bd := range bindings {
		keys = append(keys, bd.Variable.ExposedKey)
	}
	assert.Equal(t, []string{"w", "surface", "total"}, keys, "dependencies resolve first")
}

func TestResolveKeepsCallerVariables(t *testing.T) {
	cat := tree.NewCatalog(roofBundle())
	ectx := eval.NewContext(nil, map[string]eval.VariableValue{"external": {Raw: "x"}})

	vars, _ := New(cat).Resolve(eval.NewEngine(cat), ectx)
	assert.Equal(t, "x", vars["external"].Raw)
	assert.Len(t, ectx.VariableMap, 1, "input map is not mutated")
}

func TestLookup(t *testing.T) {
	b := New(tree.NewCatalog(roofBundle()))

	nodeID, source, ok := b.Lookup("surface")
	require.True(t, ok)
	assert.Equal(t, "area", nodeID)
	assert.Equal(t, "node-formula:Fa", source)

	_, _, ok = b.Lookup("nope")
	assert.False(t, ok)
}

func TestBackLinks(t *testing.T) {
	links := BackLinks(tree.NewCatalog(roofBundle()))

	require.Contains(t, links, "width")
	assert.Equal(t, []string{"Fa"}, links["width"].LinkedFormulaIDs)
	assert.Equal(t, []string{"Fa"}, links["height"].LinkedFormulaIDs)

	// "surface" is an exposed key, so the link lands on the variable's node.
	assert.Equal(t, []string{"Fp"}, links["area"].LinkedFormulaIDs)
	assert.Equal(t, []string{"vArea"}, links["area"].LinkedVariableIDs)
	assert.Equal(t, []string{"vPrice"}, links["price"].LinkedVariableIDs)
	assert.NotContains(t, links, "surface")
}

func TestBackLinksFromConditionsAndTables(t *testing.T) {
	b := roofBundle()
	b.Conditions = []tree.Condition{{
		ID: "C", NodeID: "price",
		ConditionSet: tree.ConditionSet{Branches: []tree.Branch{{
			When:    tree.When{Left: tree.Operand{Ref: "@value.height"}, Operator: "gt", Right: &tree.Operand{Value: 2.0}},
			Actions: []tree.Action{{NodeIDs: []string{"node-formula:Fa"}}},
		}}},
	}}
	b.Tables = []tree.Table{{
		ID: "T", NodeID: "price",
		Meta: tree.TableMeta{Lookup: &tree.Lookup{Selectors: &tree.Selectors{RowFieldID: "width", ColumnFieldID: "height"}}},
	}}
	links := BackLinks(tree.NewCatalog(b))

	assert.Equal(t, []string{"C"}, links["height"].LinkedConditionIDs)
	assert.Equal(t, []string{"C"}, links["area"].LinkedConditionIDs, "action on a formula links its owner")
	assert.Equal(t, []string{"T"}, links["width"].LinkedTableIDs)
	assert.Equal(t, []string{"T"}, links["height"].LinkedTableIDs)
}

func TestRelinkIsIdempotent(t *testing.T) {
	b := roofBundle()
	b.Nodes[1].LinkedFormulaIDs = []string{"Fa"} // width already linked

	changes := Relink(tree.NewCatalog(b))
	got := map[string]int{}
	for _, c := range changes {
		got[c.NodeID] = c.Added
	}
	assert.Equal(t, map[string]int{"height": 1, "area": 2, "price": 1}, got)

	for _, c := range changes {
		for i := range b.Nodes {
			if b.Nodes[i].ID == c.NodeID {
				b.Nodes[i].Links = c.Links
			}
		}
	}
	assert.Empty(t, Relink(tree.NewCatalog(b)))
}

func TestValidate(t *testing.T) {
	b := roofBundle()
	b.Formulas = append(b.Formulas, tree.Formula{ID: "Fx", NodeID: "price", Tokens: toks("1")})
	b.Variables = append(b.Variables,
		tree.Variable{ID: "vDup", NodeID: "height", ExposedKey: "surface", SourceType: tree.SourceFixed},
		tree.Variable{ID: "vMismatch", NodeID: "height", ExposedKey: "h", SourceType: tree.SourceTree, SourceRef: "node-formula:Fx"},
		tree.Variable{ID: "vMissing", NodeID: "ghost", ExposedKey: "g", SourceType: tree.SourceTree, SourceRef: "condition:nope"},
	)

	got := map[string][]string{}
	for _, v := range New(tree.NewCatalog(b)).Validate() {
		got[v.VariableID] = append(got[v.VariableID], v.Rule)
	}
	want := map[string][]string{
		"vDup":      {RuleDuplicateKey},
		"vMismatch": {RuleOwnerMismatch},
		"vMissing":  {RuleMissingNode, RuleMissingSource},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("violations mismatch (-want +got):\n%s", diff)
	}
}
