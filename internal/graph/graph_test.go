package graph

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treebranchleaf/tbl/internal/tree"
)

// healthyBundle: section sec holds width and area; area's formula Fa doubles
// width and its variable vArea exposes Fa.
func healthyBundle() tree.Bundle {
	return tree.Bundle{
		Nodes: []tree.Node{
			{ID: "sec", Type: tree.TypeSection, Label: "Dimensions"},
			{
				ID: "width", Type: tree.TypeField, ParentID: tree.StrPtr("sec"), Label: "Largeur",
				Links: tree.Links{LinkedFormulaIDs: []string{"Fa"}},
			},
			{
				ID: "area", Type: tree.TypeDataField, ParentID: tree.StrPtr("sec"), Order: 1, Label: "Surface",
				Capabilities: tree.Capabilities{HasFormula: true},
				ActiveIDs:    tree.ActiveIDs{FormulaActiveID: tree.StrPtr("Fa")},
				Links:        tree.Links{LinkedVariableIDs: []string{"vArea"}},
			},
		},
		Formulas: []tree.Formula{
			{ID: "Fa", NodeID: "area", Tokens: []tree.Token{
				tree.TokenFromString("@value.width"), tree.TokenFromString("*"), tree.TokenFromString("2"),
			}},
		},
		Variables: []tree.Variable{
			{ID: "vArea", NodeID: "area", ExposedKey: "area", SourceType: tree.SourceTree, SourceRef: "node-formula:Fa"},
		},
	}
}

// brokenBundle breaks one rule per entity on top of healthyBundle.
func brokenBundle() tree.Bundle {
	b := healthyBundle()
	b.Nodes[0].RepeaterTemplateNodeIDs = []string{"width-1", "ghost"}
	b.Nodes[1].Links = tree.Links{}
	b.Nodes[1].HasFormula = true
	b.Nodes[1].FormulaActiveID = tree.StrPtr("Fa")
	b.Nodes[2].LinkedVariableIDs = []string{"vArea", "vBad"}
	b.Nodes = append(b.Nodes,
		tree.Node{ID: "x-1-2", Type: tree.TypeField, ParentID: tree.StrPtr("sec"), Order: 2},
		tree.Node{ID: "loose", Type: tree.TypeDataField},
	)
	b.Formulas = append(b.Formulas, tree.Formula{ID: "Fb", NodeID: "area", Tokens: []tree.Token{tree.TokenFromString("@value.nowhere")}})
	b.Variables = append(b.Variables, tree.Variable{
		ID: "vBad", NodeID: "width", ExposedKey: "bad", SourceType: tree.SourceTree, SourceRef: "node-formula:Fa",
	})
	return b
}

func TestIntegrity_Healthy(t *testing.T) {
	report := ComputeIntegrity(NewSnapshot(healthyBundle()))
	assert.Empty(t, report.Issues)
	assert.Zero(t, report.Errors())
}

func TestIntegrity_Broken(t *testing.T) {
	report := ComputeIntegrity(NewSnapshot(brokenBundle()))

	assert.Equal(t, map[string]int{
		RuleMultiSuffix:          1,
		RuleSuffixedTemplate:     1,
		RuleMissingTemplateNode:  1,
		RuleForeignActivePointer: 1,
		RuleOrphanDataField:      1,
		RuleDanglingReference:    1,
		RuleLinkingContract:      1,
		RuleMissingBackLink:      1,
	}, report.ByRule)
	assert.Equal(t, map[Severity]int{SeverityError: 5, SeverityWarning: 3}, report.BySeverity)

	require.Len(t, report.Issues, 8)
	first := report.Issues[0]
	assert.Equal(t, RuleDanglingReference, first.Rule)
	assert.Equal(t, "formula Fb", first.Entity)
	assert.Equal(t, "@value.nowhere", first.Ref)

	byRule := make(map[string]Issue)
	for _, is := range report.Issues {
		byRule[is.Rule] = is
	}
	tests := []struct {
		rule   string
		entity string
		sev    Severity
	}{
		{RuleMultiSuffix, "node x-1-2", SeverityError},
		{RuleSuffixedTemplate, "node sec", SeverityError},
		{RuleMissingTemplateNode, "node sec", SeverityWarning},
		{RuleForeignActivePointer, "node width", SeverityError},
		{RuleOrphanDataField, "node loose", SeverityWarning},
		{RuleLinkingContract, "variable vBad", SeverityError},
		{RuleMissingBackLink, "node width", SeverityWarning},
	}
	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			is, ok := byRule[tt.rule]
			require.True(t, ok)
			assert.Equal(t, tt.entity, is.Entity)
			assert.Equal(t, tt.sev, is.Severity)
			assert.NotEmpty(t, is.Message)
		})
	}
}

func TestTopology(t *testing.T) {
	report := ComputeTopology(NewSnapshot(healthyBundle()), 0, 10)

	assert.Equal(t, 3, report.TotalNodes)
	assert.Equal(t, 1, report.TotalEdges, "self reads do not count")
	assert.Equal(t, 2, report.NumComponents)
	assert.Equal(t, 2, report.LargestComponent)
	assert.Equal(t, 1, report.SmallestComponent)
	assert.Equal(t, 1, report.IsolatedCount)
	assert.Equal(t, 1, report.DegreeHistogram[0].Count)
	assert.Equal(t, 2, report.DegreeHistogram[1].Count)

	require.Len(t, report.Hubs, 1)
	assert.Equal(t, HubNode{ID: "width", Label: "Largeur", Degree: 1, InDegree: 1}, report.Hubs[0])
}

func TestTopology_Empty(t *testing.T) {
	report := ComputeTopology(NewSnapshot(tree.Bundle{}), 10, 10)
	assert.Zero(t, report.TotalNodes)
	assert.Len(t, report.DegreeHistogram, 7)
}

func TestStaleness(t *testing.T) {
	b := tree.Bundle{Nodes: []tree.Node{
		{ID: "T", Type: tree.TypeSubBranch, UpdatedAt: 10 * dayMs},
		{ID: "T-1", Type: tree.TypeSubBranch, Metadata: tree.Metadata{CopiedFromNodeID: "T"}},
		{ID: "T-2", Type: tree.TypeSubBranch, Metadata: tree.Metadata{CopiedFromNodeID: "T"}, UpdatedAt: 10 * dayMs},
		{ID: "G-1", Type: tree.TypeSubBranch, Metadata: tree.Metadata{CopiedFromNodeID: "G"}},
	}}
	snap := NewSnapshot(b)

	report := ComputeStaleness(snap, 0)
	assert.Equal(t, 3, report.CopyCount)
	assert.Equal(t, []StaleCopy{{CopyID: "T-1", TemplateID: "T", DriftDays: 10}}, report.StaleCopies)
	assert.Equal(t, []string{"G-1"}, report.OrphanedCopies)

	report = ComputeStaleness(snap, 11)
	assert.Zero(t, report.StaleCopyCount)
	assert.Equal(t, 1, report.OrphanCopyCount)
}

func TestAnalyze(t *testing.T) {
	healthy := Analyze(NewSnapshot(healthyBundle()), nil)
	assert.InDelta(t, 1.0, healthy.HealthScore, 1e-9)

	broken := Analyze(NewSnapshot(brokenBundle()), DefaultConfig())
	assert.Equal(t, HealthBreakdown{Freshness: 1}, broken.HealthBreakdown)
	assert.InDelta(t, 0.15, broken.HealthScore, 1e-9)
}

func TestFilterToRegion(t *testing.T) {
	b := healthyBundle()
	b.Nodes = append(b.Nodes,
		tree.Node{ID: "other", Type: tree.TypeBranchRoot},
		tree.Node{ID: "leaf", Type: tree.TypeField, ParentID: tree.StrPtr("other")},
	)
	snap := NewSnapshot(b)
	assert.Equal(t, "sec", snap.Regions["area"])
	assert.Equal(t, "other", snap.Regions["leaf"])

	region := snap.FilterToRegion("sec")
	assert.Equal(t, []string{"area", "sec", "width"}, region.NodeIDs())
	assert.Len(t, region.Bundle.Formulas, 1)
	assert.Len(t, region.Bundle.Variables, 1)
}

func TestSnapshot_DanglingEdge(t *testing.T) {
	snap := NewSnapshot(brokenBundle())
	var dangling []string
	for _, e := range snap.Edges {
		if e.To == "" {
			dangling = append(dangling, e.Reader)
		}
	}
	assert.Equal(t, []string{"Fb"}, dangling)
	assert.NotContains(t, snap.OutAdj["area"], "")
}

func TestUnionFind(t *testing.T) {
	uf := NewUnionFind([]int{1, 2, 3, 4})
	assert.True(t, uf.Union(1, 2))
	assert.True(t, uf.Union(3, 2))
	assert.False(t, uf.Union(1, 3))
	assert.Equal(t, 3, uf.Size(1))
	assert.Equal(t, 1, uf.Size(4))

	var sizes []int
	for _, c := range uf.Components() {
		sizes = append(sizes, len(c))
	}
	sort.Ints(sizes)
	assert.Equal(t, []int{1, 3}, sizes)
}
