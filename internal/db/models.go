package db

import (
	"encoding/json"
	"fmt"

	"treebranchleaf/tbl/internal/tree"
)

// nodeColumns is the column list scanNode expects, in order.
const nodeColumns = `id, type, parent_id, sort_order, label,
	has_data, has_formula, has_condition, has_table,
	formula_active_id, condition_active_id, table_active_id,
	linked_variable_ids, linked_formula_ids, linked_condition_ids, linked_table_ids,
	repeater_template_node_ids, metadata, created_at, updated_at`

const (
	formulaColumns   = `id, node_id, name, tokens`
	conditionColumns = `id, node_id, name, condition_set`
	tableColumns     = `id, node_id, name, table_type, columns, cells, meta`
	variableColumns  = `id, node_id, exposed_key, display_name, source_type, source_ref, unit, precision, display_format`
)

type scanner interface{ Scan(dest ...any) error }

// jsonColumn decodes a TEXT column holding JSON into dst.
type jsonColumn struct{ dst any }

func (c jsonColumn) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, c.dst)
}

// encodeJSON renders v for a JSON TEXT column. Nil slices are stored as "[]".
func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return "[]", nil
	}
	return string(b), nil
}

// scanNode scans a row into a Node. The row must have the nodeColumns in order.
func scanNode(s scanner) (tree.Node, error) {
	var n tree.Node
	var typ string
	err := s.Scan(
		&n.ID, &typ, &n.ParentID, &n.Order, &n.Label,
		&n.HasData, &n.HasFormula, &n.HasCondition, &n.HasTable,
		&n.FormulaActiveID, &n.ConditionActiveID, &n.TableActiveID,
		jsonColumn{&n.LinkedVariableIDs}, jsonColumn{&n.LinkedFormulaIDs},
		jsonColumn{&n.LinkedConditionIDs}, jsonColumn{&n.LinkedTableIDs},
		jsonColumn{&n.RepeaterTemplateNodeIDs}, jsonColumn{&n.Metadata},
		&n.CreatedAt, &n.UpdatedAt,
	)
	n.Type = tree.NodeType(typ)
	return n, err
}

func scanFormula(s scanner) (tree.Formula, error) {
	var f tree.Formula
	err := s.Scan(&f.ID, &f.NodeID, &f.Name, jsonColumn{&f.Tokens})
	return f, err
}

func scanCondition(s scanner) (tree.Condition, error) {
	var c tree.Condition
	err := s.Scan(&c.ID, &c.NodeID, &c.Name, jsonColumn{&c.ConditionSet})
	return c, err
}

func scanTable(s scanner) (tree.Table, error) {
	var t tree.Table
	var typ string
	err := s.Scan(&t.ID, &t.NodeID, &t.Name, &typ, jsonColumn{&t.Columns}, jsonColumn{&t.Rows}, jsonColumn{&t.Meta})
	t.Type = tree.TableType(typ)
	return t, err
}

func scanVariable(s scanner) (tree.Variable, error) {
	var v tree.Variable
	var source string
	err := s.Scan(&v.ID, &v.NodeID, &v.ExposedKey, &v.DisplayName, &source, &v.SourceRef, &v.Unit, &v.Precision, &v.DisplayFormat)
	v.SourceType = tree.SourceType(source)
	return v, err
}
