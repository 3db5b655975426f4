package db

import (
	"context"
	"fmt"
	"sort"
	"time"

	"treebranchleaf/tbl/internal/repeat"
	"treebranchleaf/tbl/internal/tree"
)

// CreateNode inserts a node. Zero timestamps are set to now.
func (s *Session) CreateNode(ctx context.Context, n tree.Node) error {
	if !n.Type.Valid() {
		return fmt.Errorf("node %s: unknown type %q", n.ID, n.Type)
	}
	if n.CreatedAt == 0 {
		n.CreatedAt = time.Now().UnixMilli()
	}
	if n.UpdatedAt == 0 {
		n.UpdatedAt = n.CreatedAt
	}

	blobs := []any{
		n.LinkedVariableIDs, n.LinkedFormulaIDs, n.LinkedConditionIDs, n.LinkedTableIDs,
		n.RepeaterTemplateNodeIDs, n.Metadata,
	}
	encoded := make([]any, len(blobs))
	for i, b := range blobs {
		enc, err := encodeJSON(b)
		if err != nil {
			return fmt.Errorf("encoding node %s: %w", n.ID, err)
		}
		encoded[i] = enc
	}

	args := []any{
		n.ID, string(n.Type), nullable(n.ParentID), n.Order, n.Label,
		n.HasData, n.HasFormula, n.HasCondition, n.HasTable,
		nullable(n.FormulaActiveID), nullable(n.ConditionActiveID), nullable(n.TableActiveID),
	}
	args = append(args, encoded...)
	args = append(args, n.CreatedAt, n.UpdatedAt)

	_, err := s.q.ExecContext(ctx, `INSERT INTO nodes (`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("inserting node %s: %w", n.ID, classify(err))
	}
	return nil
}

// CreateFormula inserts a formula.
func (s *Session) CreateFormula(ctx context.Context, f tree.Formula) error {
	tokens, err := encodeJSON(f.Tokens)
	if err != nil {
		return fmt.Errorf("encoding formula %s: %w", f.ID, err)
	}
	_, err = s.q.ExecContext(ctx, `INSERT INTO formulas (`+formulaColumns+`) VALUES (?, ?, ?, ?)`,
		f.ID, f.NodeID, f.Name, tokens)
	if err != nil {
		return fmt.Errorf("inserting formula %s: %w", f.ID, classify(err))
	}
	return nil
}

// CreateCondition inserts a condition.
func (s *Session) CreateCondition(ctx context.Context, c tree.Condition) error {
	set, err := encodeJSON(c.ConditionSet)
	if err != nil {
		return fmt.Errorf("encoding condition %s: %w", c.ID, err)
	}
	_, err = s.q.ExecContext(ctx, `INSERT INTO conditions (`+conditionColumns+`) VALUES (?, ?, ?, ?)`,
		c.ID, c.NodeID, c.Name, set)
	if err != nil {
		return fmt.Errorf("inserting condition %s: %w", c.ID, classify(err))
	}
	return nil
}

// CreateTable inserts a lookup table.
func (s *Session) CreateTable(ctx context.Context, t tree.Table) error {
	columns, err := encodeJSON(t.Columns)
	if err != nil {
		return fmt.Errorf("encoding table %s: %w", t.ID, err)
	}
	cells, err := encodeJSON(t.Rows)
	if err != nil {
		return fmt.Errorf("encoding table %s: %w", t.ID, err)
	}
	meta, err := encodeJSON(t.Meta)
	if err != nil {
		return fmt.Errorf("encoding table %s: %w", t.ID, err)
	}
	typ := t.Type
	if typ == "" {
		typ = tree.TableColumns
	}
	_, err = s.q.ExecContext(ctx, `INSERT INTO lookup_tables (`+tableColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.NodeID, t.Name, string(typ), columns, cells, meta)
	if err != nil {
		return fmt.Errorf("inserting table %s: %w", t.ID, classify(err))
	}
	return nil
}

// CreateVariable inserts a variable. An empty source type is stored as fixed.
func (s *Session) CreateVariable(ctx context.Context, v tree.Variable) error {
	source := v.SourceType
	if source == "" {
		source = tree.SourceFixed
	}
	_, err := s.q.ExecContext(ctx, `INSERT INTO variables (`+variableColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.NodeID, v.ExposedKey, v.DisplayName, string(source), v.SourceRef, v.Unit, nullable(v.Precision), v.DisplayFormat)
	if err != nil {
		return fmt.Errorf("inserting variable %s: %w", v.ID, classify(err))
	}
	return nil
}

// UpdateNodeLinks replaces the four link arrays of a node.
func (s *Session) UpdateNodeLinks(ctx context.Context, id string, links tree.Links) error {
	var cols [4]string
	for i, ids := range [][]string{links.LinkedVariableIDs, links.LinkedFormulaIDs, links.LinkedConditionIDs, links.LinkedTableIDs} {
		enc, err := encodeJSON(ids)
		if err != nil {
			return fmt.Errorf("encoding links of %s: %w", id, err)
		}
		cols[i] = enc
	}
	// Links are derived from other records, so updated_at is left alone.
	res, err := s.q.ExecContext(ctx, `UPDATE nodes SET
		linked_variable_ids = ?, linked_formula_ids = ?, linked_condition_ids = ?, linked_table_ids = ?
		WHERE id = ?`, cols[0], cols[1], cols[2], cols[3], id)
	if err != nil {
		return fmt.Errorf("updating links of %s: %w", id, err)
	}
	return requireRow(res, id)
}

// UpdateRepeaterTemplate replaces the template list of a repeater node.
func (s *Session) UpdateRepeaterTemplate(ctx context.Context, id string, templateIDs []string) error {
	enc, err := encodeJSON(templateIDs)
	if err != nil {
		return fmt.Errorf("encoding template list of %s: %w", id, err)
	}
	res, err := s.q.ExecContext(ctx, `UPDATE nodes SET repeater_template_node_ids = ?, updated_at = ? WHERE id = ?`,
		enc, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("updating template list of %s: %w", id, err)
	}
	return requireRow(res, id)
}

// DeleteBundle removes variables, capabilities and nodes of b. Nodes are
// deleted in reverse order, so children listed after their parents go first.
func (s *Session) DeleteBundle(ctx context.Context, b tree.Bundle) error {
	del := func(table, id string) error {
		if _, err := s.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting %s from %s: %w", id, table, err)
		}
		return nil
	}
	for _, v := range b.Variables {
		if err := del("variables", v.ID); err != nil {
			return err
		}
	}
	for _, f := range b.Formulas {
		if err := del("formulas", f.ID); err != nil {
			return err
		}
	}
	for _, c := range b.Conditions {
		if err := del("conditions", c.ID); err != nil {
			return err
		}
	}
	for _, t := range b.Tables {
		if err := del("lookup_tables", t.ID); err != nil {
			return err
		}
	}
	for i := len(b.Nodes) - 1; i >= 0; i-- {
		if err := del("nodes", b.Nodes[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// nullable turns a nil pointer into SQL NULL.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func requireRow(res interface{ RowsAffected() (int64, error) }, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("node %s: %w", id, repeat.ErrNotFound)
	}
	return nil
}

// ImportResult counts the records written by Import.
type ImportResult = repeat.Counts

// Import writes a bundle in one transaction. Nodes are inserted parents
// first; repeater template lists holding suffixed ids are rejected.
func (d *DB) Import(ctx context.Context, b tree.Bundle) (ImportResult, error) {
	var res ImportResult
	for _, n := range b.Nodes {
		if err := repeat.ValidateTemplateIDs(n.RepeaterTemplateNodeIDs); err != nil {
			return res, fmt.Errorf("node %s: %w", n.ID, err)
		}
	}

	err := d.withSession(ctx, func(s *Session) error {
		for _, n := range parentsFirst(b.Nodes) {
			if err := s.CreateNode(ctx, n); err != nil {
				return err
			}
		}
		for _, f := range b.Formulas {
			if err := s.CreateFormula(ctx, f); err != nil {
				return err
			}
		}
		for _, c := range b.Conditions {
			if err := s.CreateCondition(ctx, c); err != nil {
				return err
			}
		}
		for _, t := range b.Tables {
			if err := s.CreateTable(ctx, t); err != nil {
				return err
			}
		}
		for _, v := range b.Variables {
			if err := s.CreateVariable(ctx, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("importing bundle: %w", err)
	}
	return ImportResult{
		Nodes:      len(b.Nodes),
		Formulas:   len(b.Formulas),
		Conditions: len(b.Conditions),
		Tables:     len(b.Tables),
		Variables:  len(b.Variables),
	}, nil
}

// parentsFirst orders nodes by their depth within the bundle. Parents outside
// the bundle count as roots.
func parentsFirst(nodes []tree.Node) []tree.Node {
	byID := make(map[string]*tree.Node, len(nodes))
	for i := range nodes {
		byID[nodes[i].ID] = &nodes[i]
	}
	depth := make(map[string]int, len(nodes))
	for _, n := range nodes {
		d := 0
		// bounded so a parent cycle cannot spin forever
		for p := n.ParentID; p != nil && d <= len(nodes); {
			parent, ok := byID[*p]
			if !ok {
				break
			}
			d++
			p = parent.ParentID
		}
		depth[n.ID] = d
	}

	out := append([]tree.Node(nil), nodes...)
	sort.SliceStable(out, func(i, j int) bool { return depth[out[i].ID] < depth[out[j].ID] })
	return out
}
