package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treebranchleaf/tbl/internal/tree"
)

func priceTable() *tree.Table {
	return &tree.Table{
		ID: "T", NodeID: "n", Name: "prices", Type: tree.TableColumns,
		Columns: []string{"Type", "Price"},
		Rows:    [][]any{{"A", 1.0}, {"B", 2.0}, {"A", 3.0}},
	}
}

func sizeMatrix() *tree.Table {
	return &tree.Table{
		ID: "M", NodeID: "n", Name: "sizes", Type: tree.TableMatrix,
		Rows: [][]any{
			{"", "Small", "Large"},
			{"Width", 10.0, 20.0},
			{"Price", 100.0, 200.0},
		},
	}
}

func TestFind(t *testing.T) {
	tests := []struct {
		name  string
		table *tree.Table
		q     Query
		want  any
		found bool
	}{
		{
			name:  "first matching row",
			table: priceTable(),
			q:     Query{Source: "A", ComparisonColumn: "type", Display: []string{"Price"}},
			want:  1.0, found: true,
		},
		{
			name:  "filter narrows rows before comparison",
			table: priceTable(),
			q: Query{
				Source: "A", ComparisonColumn: "Type",
				FilterColumn: "Price", FilterOperator: "greaterThan", FilterValue: 2,
				Display: []string{"Price"},
			},
			want: 3.0, found: true,
		},
		{
			name:  "unknown filter column excludes every row",
			table: priceTable(),
			q:     Query{Source: "A", ComparisonColumn: "Type", FilterColumn: "Weight", FilterValue: 1},
			found: false,
		},
		{
			name:  "no display columns returns the row",
			table: priceTable(),
			q:     Query{Source: "B", ComparisonColumn: "Type"},
			want:  []any{"B", 2.0}, found: true,
		},
		{
			name:  "several display columns",
			table: priceTable(),
			q:     Query{Source: 2, ComparisonColumn: "Price", Display: []string{"Type", "Price"}},
			want:  []any{"B", 2.0}, found: true,
		},
		{
			name:  "ordering operator",
			table: priceTable(),
			q:     Query{Source: "1,5", ComparisonColumn: "Price", Operator: "gte", Display: []string{"Price"}},
			want:  2.0, found: true,
		},
		{
			name:  "comparison on a row label reads transposed",
			table: sizeMatrix(),
			q:     Query{Source: "20", ComparisonColumn: "width", Display: []string{"Price"}},
			want:  200.0, found: true,
		},
		{
			name:  "no match",
			table: priceTable(),
			q:     Query{Source: "Z", ComparisonColumn: "Type", Display: []string{"Price"}},
			found: false,
		},
		{
			name:  "unknown comparison column",
			table: priceTable(),
			q:     Query{Source: "A", ComparisonColumn: "Colour"},
			found: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := Find(tt.table, tt.q)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindCell(t *testing.T) {
	got, ok := FindCell(sizeMatrix(), "price", "LARGE")
	require.True(t, ok)
	assert.Equal(t, 200.0, got)

	got, ok = FindCell(sizeMatrix(), "Small", "Width")
	require.True(t, ok, "swapped keys")
	assert.Equal(t, 10.0, got)

	_, ok = FindCell(sizeMatrix(), "Depth", "Small")
	assert.False(t, ok)
}

func tableCatalog(t *tree.Table) *tree.Catalog {
	return tree.NewCatalog(tree.Bundle{
		Nodes:  []tree.Node{{ID: "n", Type: tree.TypeField, Capabilities: tree.Capabilities{HasTable: true}}},
		Tables: []tree.Table{*t},
	})
}

func TestEvaluateTable(t *testing.T) {
	enabled := false

	t.Run("column lookup with filter", func(t *testing.T) {
		tbl := priceTable()
		tbl.Meta.Lookup = &tree.Lookup{
			ColumnSourceOption: &tree.SourceOption{
				SourceField: "kind", ComparisonColumn: "Type",
				FilterColumn: "Price", FilterOperator: "gt", FilterValueRef: "minPrice",
			},
			DisplayColumn: tree.Names{"Price"},
		}
		res := NewEngine(tableCatalog(tbl)).Evaluate("@table.T", NewContext(map[string]any{"kind": "A", "minPrice": "2"}, nil))
		assert.Equal(t, 3.0, res.Value)
		assert.Empty(t, res.Warnings())
		assert.Contains(t, res.Explanation, "Price greaterThan 2")
	})

	t.Run("row field selector feeds the source", func(t *testing.T) {
		tbl := priceTable()
		tbl.Meta.Lookup = &tree.Lookup{
			ColumnSourceOption: &tree.SourceOption{ComparisonColumn: "Type"},
			DisplayColumn:      tree.Names{"Price"},
			Selectors:          &tree.Selectors{RowFieldID: "kind"},
		}
		res := NewEngine(tableCatalog(tbl)).Evaluate("node-table:T", NewContext(map[string]any{"kind": "B"}, nil))
		assert.Equal(t, 2.0, res.Value)
	})

	t.Run("matrix selectors", func(t *testing.T) {
		tbl := sizeMatrix()
		tbl.Meta.Lookup = &tree.Lookup{Selectors: &tree.Selectors{RowFieldID: "what", ColumnFieldID: "size"}}
		res := NewEngine(tableCatalog(tbl)).Evaluate("@table.M", NewContext(map[string]any{"what": "Price", "size": "Small"}, nil))
		assert.Equal(t, 100.0, res.Value)
	})

	t.Run("disabled lookup", func(t *testing.T) {
		tbl := priceTable()
		tbl.Meta.Lookup = &tree.Lookup{
			Enabled:            &enabled,
			ColumnSourceOption: &tree.SourceOption{SourceField: "kind", ComparisonColumn: "Type"},
		}
		res := NewEngine(tableCatalog(tbl)).Evaluate("@table.T", NewContext(map[string]any{"kind": "A"}, nil))
		assert.Nil(t, res.Value)
		assert.Empty(t, res.Warnings())
	})

	t.Run("missing lookup configuration", func(t *testing.T) {
		res := NewEngine(tableCatalog(priceTable())).Evaluate("@table.T", nil)
		assert.Nil(t, res.Value)
		require.Len(t, res.Warnings(), 1)
		assert.Equal(t, SourceTable, res.Warnings()[0].Source)
	})

	t.Run("node read uses the active table", func(t *testing.T) {
		tbl := priceTable()
		tbl.Meta.Lookup = &tree.Lookup{
			ColumnSourceOption: &tree.SourceOption{SourceField: "kind", ComparisonColumn: "Type"},
			DisplayColumn:      tree.Names{"Price"},
		}
		cat := tree.NewCatalog(tree.Bundle{
			Nodes: []tree.Node{{
				ID: "n", Type: tree.TypeField,
				Capabilities: tree.Capabilities{HasTable: true},
				ActiveIDs:    tree.ActiveIDs{TableActiveID: tree.StrPtr("T")},
			}},
			Tables:   []tree.Table{*tbl},
			Formulas: []tree.Formula{formula("F", "m", "n", "*", "10")},
		})
		res := NewEngine(cat).Evaluate("node-formula:F", NewContext(map[string]any{"kind": "B"}, nil))
		assert.Equal(t, 20.0, res.Value)
	})
}
