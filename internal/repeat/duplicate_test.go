package repeat_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"treebranchleaf/tbl/internal/db"
	"treebranchleaf/tbl/internal/metrics"
	"treebranchleaf/tbl/internal/repeat"
	"treebranchleaf/tbl/internal/tree"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func toks(parts ...string) []tree.Token {
	out := make([]tree.Token, len(parts))
	for i, p := range parts {
		out[i] = tree.TokenFromString(p)
	}
	return out
}

// roofTemplate: repeater "rep" lists R; R holds C1 and C2. C2's formula F1
// multiplies C1 by the external rate node, its table T1 is keyed on C1 and
// its variable V1 exposes F1 as "surface".
func roofTemplate() tree.Bundle {
	return tree.Bundle{
		Nodes: []tree.Node{
			{ID: "rep", Type: tree.TypeSection, Label: "Pans", RepeaterTemplateNodeIDs: []string{"R"}},
			{ID: "rate", Type: tree.TypeField, Label: "Taux", Order: 1},
			{ID: "R", Type: tree.TypeSubBranch, ParentID: tree.StrPtr("rep"), Label: "Pan"},
			{ID: "C1", Type: tree.TypeField, ParentID: tree.StrPtr("R"), Label: "Largeur"},
			{
				ID: "C2", Type: tree.TypeDataField, ParentID: tree.StrPtr("R"), Order: 1, Label: "Surface",
				Capabilities: tree.Capabilities{HasFormula: true, HasTable: true},
				ActiveIDs:    tree.ActiveIDs{FormulaActiveID: tree.StrPtr("F1"), TableActiveID: tree.StrPtr("T1")},
			},
		},
		Formulas: []tree.Formula{
			{ID: "F1", NodeID: "C2", Tokens: toks("@value.C1", "*", "@value.rate")},
		},
		Tables: []tree.Table{
			{
				ID: "T1", NodeID: "C2", Type: tree.TableMatrix,
				Rows: [][]any{{"", "x"}, {"y", 1.0}},
				Meta: tree.TableMeta{Lookup: &tree.Lookup{Selectors: &tree.Selectors{RowFieldID: "C1"}}},
			},
		},
		Variables: []tree.Variable{
			{ID: "V1", NodeID: "C2", ExposedKey: "surface", DisplayName: "Surface", SourceType: tree.SourceTree, SourceRef: "node-formula:F1"},
		},
	}
}

func setupStore(t *testing.T, b tree.Bundle) *db.DB {
	t.Helper()
	d, err := db.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	_, err = d.Import(context.Background(), b)
	require.NoError(t, err)
	return d
}

func fixedClock() time.Time { return time.UnixMilli(42_000) }

func mustNode(t *testing.T, d *db.DB, id string) *tree.Node {
	t.Helper()
	n, err := d.GetNode(id)
	require.NoError(t, err)
	require.NotNil(t, n, "node %s", id)
	return n
}

func TestDuplicate_RemapsTemplate(t *testing.T) {
	d := setupStore(t, roofTemplate())
	dup := repeat.NewDuplicator(d, repeat.WithClock(fixedClock))

	res, err := dup.Duplicate(context.Background(), "R", "rep")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Suffix)
	assert.Equal(t, "R-1", res.RootID)
	assert.Equal(t, []string{"R-1", "C1-1", "C2-1"}, res.CreatedNodeIDs)
	assert.Equal(t, map[string]string{
		"R": "R-1", "C1": "C1-1", "C2": "C2-1",
		"F1": "F1-1", "T1": "T1-1", "V1": "V1-1",
	}, res.IDMap)
	assert.Equal(t, repeat.Counts{Nodes: 3, Formulas: 1, Tables: 1, Variables: 1}, res.Created)

	root := mustNode(t, d, "R-1")
	assert.Equal(t, "rep", *root.ParentID)
	assert.Equal(t, 1, root.Order)
	assert.Equal(t, "Pan-1", root.Label)
	assert.Equal(t, "R", root.Metadata.CopiedFromNodeID)
	assert.Equal(t, "rep", root.Metadata.DuplicatedFromRepeater)
	require.NotNil(t, root.Metadata.CopySuffix)
	assert.Equal(t, 1, *root.Metadata.CopySuffix)
	assert.Equal(t, int64(42_000), root.CreatedAt)

	c2 := mustNode(t, d, "C2-1")
	assert.Equal(t, "R-1", *c2.ParentID)
	assert.Equal(t, "F1-1", *c2.FormulaActiveID)
	assert.Equal(t, "T1-1", *c2.TableActiveID)

	bundle, err := d.LoadBundle(context.Background())
	require.NoError(t, err)
	cat := tree.NewCatalog(bundle)

	f := cat.Formula("F1-1")
	require.NotNil(t, f)
	assert.Equal(t, "C2-1", f.NodeID)
	assert.Equal(t, toks("@value.C1-1", "*", "@value.rate"), f.Tokens)

	tbl := cat.Table("T1-1")
	require.NotNil(t, tbl)
	assert.Equal(t, "C1-1", tbl.Meta.Lookup.Selectors.RowFieldID)

	v := cat.Variable("V1-1")
	require.NotNil(t, v)
	assert.Equal(t, "surface-1", v.ExposedKey)
	assert.Equal(t, "Surface-1", v.DisplayName)
	assert.Equal(t, "node-formula:F1-1", v.SourceRef)
	assert.Equal(t, "C2-1", v.NodeID)

	// Template untouched.
	orig := cat.Formula("F1")
	require.NotNil(t, orig)
	assert.Equal(t, toks("@value.C1", "*", "@value.rate"), orig.Tokens)
}

func TestDuplicate_BackLinks(t *testing.T) {
	d := setupStore(t, roofTemplate())
	dup := repeat.NewDuplicator(d)

	res, err := dup.Duplicate(context.Background(), "R", "rep")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1-1", "C2-1", "rate"}, res.Relinked)

	c1 := mustNode(t, d, "C1-1")
	assert.Equal(t, []string{"F1-1"}, c1.LinkedFormulaIDs)
	assert.Equal(t, []string{"T1-1"}, c1.LinkedTableIDs)

	c2 := mustNode(t, d, "C2-1")
	assert.Equal(t, []string{"V1-1"}, c2.LinkedVariableIDs)

	rate := mustNode(t, d, "rate")
	assert.Contains(t, rate.LinkedFormulaIDs, "F1-1")

	// Template nodes do not pick up links to the copy.
	c1Template := mustNode(t, d, "C1")
	assert.NotContains(t, c1Template.LinkedFormulaIDs, "F1-1")
}

func TestDuplicate_NoDanglingReferences(t *testing.T) {
	d := setupStore(t, roofTemplate())
	dup := repeat.NewDuplicator(d)
	_, err := dup.Duplicate(context.Background(), "R", "rep")
	require.NoError(t, err)

	bundle, err := d.LoadBundle(context.Background())
	require.NoError(t, err)
	cat := tree.NewCatalog(bundle)
	for _, f := range cat.Formulas() {
		for _, tok := range f.Tokens {
			if tok.Type != tree.TokenVariable {
				continue
			}
			assert.True(t, cat.Node(tok.Name[len("@value."):]) != nil, "formula %s token %s", f.ID, tok.Name)
		}
	}
}

func TestDuplicate_NextSuffix(t *testing.T) {
	d := setupStore(t, roofTemplate())
	dup := repeat.NewDuplicator(d)
	ctx := context.Background()

	first, err := dup.Duplicate(ctx, "R", "rep")
	require.NoError(t, err)
	second, err := dup.Duplicate(ctx, "R", "rep")
	require.NoError(t, err)

	assert.Equal(t, 1, first.Suffix)
	assert.Equal(t, 2, second.Suffix)
	assert.Equal(t, "C1-2", second.IDMap["C1"])
	assert.Equal(t, 2, mustNode(t, d, "R-2").Order)

	v, err := d.Session().ExposedKeyExists(ctx, "surface-2")
	require.NoError(t, err)
	assert.True(t, v)
}

func TestDuplicate_SkipsTakenSuffix(t *testing.T) {
	b := roofTemplate()
	b.Nodes = append(b.Nodes, tree.Node{ID: "C1-1", Type: tree.TypeField, Label: "stray"})
	d := setupStore(t, b)

	res, err := repeat.NewDuplicator(d).Duplicate(context.Background(), "R", "rep")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Suffix)
	assert.Equal(t, "R-2", res.RootID)
}

func TestDuplicate_SkipsTakenExposedKey(t *testing.T) {
	b := roofTemplate()
	b.Variables = append(b.Variables, tree.Variable{ID: "Vx", NodeID: "rate", ExposedKey: "surface-1", SourceType: tree.SourceFixed})
	d := setupStore(t, b)

	res, err := repeat.NewDuplicator(d).Duplicate(context.Background(), "R", "rep")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Suffix)
}

func TestDuplicate_RejectsSuffixedTemplate(t *testing.T) {
	d := setupStore(t, roofTemplate())
	dup := repeat.NewDuplicator(d)
	ctx := context.Background()

	_, err := dup.Duplicate(ctx, "R", "rep")
	require.NoError(t, err)

	_, err = dup.Duplicate(ctx, "R-1", "rep")
	assert.ErrorIs(t, err, repeat.ErrTemplateSuffixed)
}

func TestDuplicate_RejectsSuffixedDescendant(t *testing.T) {
	b := roofTemplate()
	b.Nodes = append(b.Nodes, tree.Node{ID: "C3-4", Type: tree.TypeField, ParentID: tree.StrPtr("R")})
	d := setupStore(t, b)

	_, err := repeat.NewDuplicator(d).Duplicate(context.Background(), "R", "rep")
	assert.ErrorIs(t, err, repeat.ErrTemplateSuffixed)
}

func TestDuplicate_SkipsNestedCopies(t *testing.T) {
	b := roofTemplate()
	suffix := 1
	b.Nodes = append(b.Nodes,
		tree.Node{ID: "G", Type: tree.TypeSection, ParentID: tree.StrPtr("R"), Order: 2},
		tree.Node{
			ID: "G-1", Type: tree.TypeSection, ParentID: tree.StrPtr("R"), Order: 3,
			Metadata: tree.Metadata{CopiedFromNodeID: "G", CopySuffix: &suffix},
		},
	)
	d := setupStore(t, b)

	res, err := repeat.NewDuplicator(d).Duplicate(context.Background(), "R", "rep")
	require.NoError(t, err)
	// G-1 is already taken by the nested instance, so the copy moves to suffix 2.
	assert.Equal(t, []string{"R-2", "C1-2", "C2-2", "G-2"}, res.CreatedNodeIDs)
	assert.Equal(t, "R", *mustNode(t, d, "G-1").ParentID)
	assert.Equal(t, "R-2", *mustNode(t, d, "G-2").ParentID)
}

func TestDuplicate_DanglingReference(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"missing node", "@value.ghost"},
		{"copy of template node", "@value.C1-7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := roofTemplate()
			b.Formulas[0].Tokens = toks("@value.C1", "+", tt.token)
			d := setupStore(t, b)
			before, err := d.LoadBundle(context.Background())
			require.NoError(t, err)

			_, err = repeat.NewDuplicator(d).Duplicate(context.Background(), "R", "rep")
			require.ErrorIs(t, err, repeat.ErrDanglingReference)
			var rerr *repeat.RewriteError
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, "formula F1", rerr.Owner)

			after, err := d.LoadBundle(context.Background())
			require.NoError(t, err)
			assert.Equal(t, len(before.Nodes), len(after.Nodes), "no partial writes")
			assert.Equal(t, len(before.Formulas), len(after.Formulas))
		})
	}
}

func TestDuplicate_MissingNodes(t *testing.T) {
	d := setupStore(t, roofTemplate())
	dup := repeat.NewDuplicator(d)

	_, err := dup.Duplicate(context.Background(), "nope", "rep")
	assert.ErrorIs(t, err, repeat.ErrNotFound)
	_, err = dup.Duplicate(context.Background(), "R", "nope")
	assert.ErrorIs(t, err, repeat.ErrNotFound)
}

func TestDuplicate_Metrics(t *testing.T) {
	d := setupStore(t, roofTemplate())
	m := metrics.New()
	reg := prometheus.NewRegistry()
	m.MustRegister(reg)
	dup := repeat.NewDuplicator(d, repeat.WithMetrics(m))

	_, err := dup.Duplicate(context.Background(), "R", "rep")
	require.NoError(t, err)
	_, err = dup.Duplicate(context.Background(), "R-1", "rep")
	require.Error(t, err)

	assert.Equal(t, 2, testutil.CollectAndCount(reg, "tbl_repeat_duration_seconds"))
	samples, err := metrics.Summary(reg)
	require.NoError(t, err)
	var created float64
	for _, s := range samples {
		if s.Name == "tbl_repeat_entities_total" {
			created += s.Value
		}
	}
	assert.Equal(t, 6.0, created)
}

func TestDuplicate_ConcurrentCopiesGetDistinctSuffixes(t *testing.T) {
	d := setupStore(t, roofTemplate())
	dup := repeat.NewDuplicator(d)

	const n = 5
	suffixes := make([]int, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			res, err := dup.Duplicate(context.Background(), "R", "rep")
			if err != nil {
				return err
			}
			suffixes[i] = res.Suffix
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Ints(suffixes)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, suffixes)
}

func TestDuplicate_SeparateHandlesOnOneFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forms.db")
	first, err := db.OpenDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })
	_, err = first.Import(context.Background(), roofTemplate())
	require.NoError(t, err)

	second, err := db.OpenDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	// Distinct duplicators share no in-process lock, as in two processes.
	handles := []*db.DB{first, second, first, second}
	suffixes := make([]int, len(handles))
	var g errgroup.Group
	for i, h := range handles {
		g.Go(func() error {
			res, err := repeat.NewDuplicator(h).Duplicate(context.Background(), "R", "rep")
			if err != nil {
				return err
			}
			suffixes[i] = res.Suffix
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Ints(suffixes)
	assert.Equal(t, []int{1, 2, 3, 4}, suffixes)
	for _, id := range []string{"R-1", "R-2", "R-3", "R-4"} {
		mustNode(t, second, id)
	}
}

// busyStore fails the first `failures` transactions with ErrBusy.
type busyStore struct {
	repeat.Store
	failures int
	calls    int
}

func (s *busyStore) WithTx(ctx context.Context, fn func(repeat.Tx) error) error {
	s.calls++
	if s.calls <= s.failures {
		return fmt.Errorf("beginning transaction: %w", repeat.ErrBusy)
	}
	return s.Store.WithTx(ctx, fn)
}

func TestDuplicate_RetriesBusyStore(t *testing.T) {
	store := &busyStore{Store: setupStore(t, roofTemplate()), failures: 2}

	res, err := repeat.NewDuplicator(store).Duplicate(context.Background(), "R", "rep")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Suffix)
	assert.Equal(t, 3, store.calls)

	store = &busyStore{Store: setupStore(t, roofTemplate()), failures: 5}
	_, err = repeat.NewDuplicator(store, repeat.WithMaxAttempts(2)).Duplicate(context.Background(), "R", "rep")
	assert.ErrorIs(t, err, repeat.ErrBusy)
	assert.Equal(t, 2, store.calls)
}
