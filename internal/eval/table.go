package eval

import (
	"fmt"
	"strings"

	"treebranchleaf/tbl/internal/ref"
	"treebranchleaf/tbl/internal/tree"
)

// grid is a table split into a header and data rows. The first cell of each
// data row is its label.
type grid struct {
	header []string
	rows   [][]any
}

func newGrid(t *tree.Table) grid {
	if len(t.Columns) > 0 {
		return grid{header: t.Columns, rows: t.Rows}
	}
	if len(t.Rows) == 0 {
		return grid{}
	}
	header := make([]string, len(t.Rows[0]))
	for i, c := range t.Rows[0] {
		header[i] = FormatValue(c)
	}
	return grid{header: header, rows: t.Rows[1:]}
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// column finds a header by name, case-insensitively.
func (g grid) column(name string) int {
	if strings.TrimSpace(name) == "" {
		return -1
	}
	for i, h := range g.header {
		if sameName(h, name) {
			return i
		}
	}
	return -1
}

// row finds a data row by its label cell, case-insensitively.
func (g grid) row(label string) int {
	if strings.TrimSpace(label) == "" {
		return -1
	}
	for i, r := range g.rows {
		if len(r) > 0 && sameName(FormatValue(r[0]), label) {
			return i
		}
	}
	return -1
}

func (g grid) cell(r, c int) any {
	if r < 0 || r >= len(g.rows) || c < 0 || c >= len(g.rows[r]) {
		return nil
	}
	return g.rows[r][c]
}

func (g grid) width() int {
	w := len(g.header)
	for _, r := range g.rows {
		if len(r) > w {
			w = len(r)
		}
	}
	return w
}

// Query is an explicit lookup against one table.
type Query struct {
	Source           any
	ComparisonColumn string
	Operator         string // defaults to equals
	FilterColumn     string
	FilterOperator   string // defaults to equals
	FilterValue      any
	Display          []string
}

func (q Query) hasFilter() bool { return q.FilterColumn != "" }

// Find returns the display cell(s) of the first row whose comparison cell
// satisfies the operator against q.Source, after narrowing rows with the
// optional filter. ComparisonColumn may name a column header or a row label;
// for a row label the table is read transposed. Several display names yield
// a []any. It returns false when nothing matched.
func Find(t *tree.Table, q Query) (any, bool) {
	g := newGrid(t)
	op := q.Operator
	if op == "" {
		op = OpEquals
	}
	fop := q.FilterOperator
	if fop == "" {
		fop = OpEquals
	}

	if col := g.column(q.ComparisonColumn); col >= 0 {
		fcol := g.column(q.FilterColumn)
		for r := range g.rows {
			if q.hasFilter() {
				if ok, _ := Compare(fop, g.cell(r, fcol), q.FilterValue); fcol < 0 || !ok {
					continue
				}
			}
			if ok, _ := Compare(op, g.cell(r, col), q.Source); ok {
				return g.pickFromRow(r, q.Display), true
			}
		}
		return nil, false
	}

	if row := g.row(q.ComparisonColumn); row >= 0 {
		frow := g.row(q.FilterColumn)
		for c := 1; c < g.width(); c++ {
			if q.hasFilter() {
				if ok, _ := Compare(fop, g.cell(frow, c), q.FilterValue); frow < 0 || !ok {
					continue
				}
			}
			if ok, _ := Compare(op, g.cell(row, c), q.Source); ok {
				return g.pickFromColumn(c, q.Display), true
			}
		}
	}
	return nil, false
}

func (g grid) pickFromRow(r int, display []string) any {
	if len(display) == 0 {
		return append([]any(nil), g.rows[r]...)
	}
	out := make([]any, len(display))
	for i, name := range display {
		out[i] = g.cell(r, g.column(name))
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (g grid) pickFromColumn(c int, display []string) any {
	if len(display) == 0 {
		out := make([]any, len(g.rows))
		for r := range g.rows {
			out[r] = g.cell(r, c)
		}
		return out
	}
	out := make([]any, len(display))
	for i, name := range display {
		out[i] = g.cell(g.row(name), c)
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// FindCell reads a matrix cell by row label and column header. When that
// orientation finds nothing, the keys are tried swapped.
func FindCell(t *tree.Table, rowKey, colKey any) (any, bool) {
	g := newGrid(t)
	rk, ck := FormatValue(rowKey), FormatValue(colKey)
	if r, c := g.row(rk), g.column(ck); r >= 0 && c >= 0 {
		return g.cell(r, c), true
	}
	if r, c := g.row(ck), g.column(rk); r >= 0 && c >= 0 {
		return g.cell(r, c), true
	}
	return nil, false
}

func (ev *evaluation) table(id string) outcome {
	t := ev.catalog.Table(id)
	label := ref.Of(ref.KindTable, id).String()
	l := t.Meta.Lookup

	switch {
	case l == nil:
		ev.trace.warn(label, SourceTable, "table has no lookup configuration")
		return outcome{}
	case !l.IsEnabled():
		ev.trace.add(TraceEntry{Ref: label, Source: SourceTable, Message: "lookup disabled"})
		return outcome{explanation: "lookup disabled"}
	}

	if opt := l.ColumnSourceOption; opt != nil && opt.ComparisonColumn != "" {
		sourceRef := opt.SourceField
		if sourceRef == "" && l.Selectors != nil {
			sourceRef = l.Selectors.RowFieldID
		}
		if sourceRef == "" {
			ev.trace.warn(label, SourceTable, "lookup has no source field")
			return outcome{}
		}
		source := ev.value(sourceRef)
		q := Query{
			Source:           source.Raw,
			ComparisonColumn: opt.ComparisonColumn,
			Operator:         opt.Operator,
			Display:          l.DisplayColumn,
		}
		if opt.FilterColumn != "" && opt.FilterValueRef != "" {
			q.FilterColumn = opt.FilterColumn
			q.FilterOperator = opt.FilterOperator
			q.FilterValue = ev.value(opt.FilterValueRef).Raw
		}
		v, ok := Find(t, q)
		desc := fmt.Sprintf("%s where %s %s %s", t.Name, opt.ComparisonColumn, NormalizeOperator(defaultOp(q.Operator)), FormatValue(q.Source))
		if q.hasFilter() {
			desc += fmt.Sprintf(" and %s %s %s", q.FilterColumn, NormalizeOperator(defaultOp(q.FilterOperator)), FormatValue(q.FilterValue))
		}
		if !ok {
			ev.trace.add(TraceEntry{Ref: label, Source: SourceTable, Message: "no matching row"})
			return outcome{explanation: desc + ": no match"}
		}
		return outcome{value: v, explanation: fmt.Sprintf("%s: %s = %s", desc, strings.Join(l.DisplayColumn, ","), FormatValue(v))}
	}

	if sel := l.Selectors; sel != nil && sel.RowFieldID != "" && sel.ColumnFieldID != "" {
		rowKey := ev.value(sel.RowFieldID).Raw
		colKey := ev.value(sel.ColumnFieldID).Raw
		v, ok := FindCell(t, rowKey, colKey)
		desc := fmt.Sprintf("%s[%s][%s]", t.Name, FormatValue(rowKey), FormatValue(colKey))
		if !ok {
			ev.trace.add(TraceEntry{Ref: label, Source: SourceTable, Message: "no matching cell"})
			return outcome{explanation: desc + ": no match"}
		}
		return outcome{value: v, explanation: fmt.Sprintf("%s = %s", desc, FormatValue(v))}
	}

	ev.trace.warn(label, SourceTable, "lookup configuration incomplete")
	return outcome{}
}

func defaultOp(op string) string {
	if op == "" {
		return OpEquals
	}
	return op
}
