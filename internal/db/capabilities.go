package db

import (
	"context"
	"fmt"

	"treebranchleaf/tbl/internal/ref"
	"treebranchleaf/tbl/internal/tree"
)

// FindOwned returns the capabilities and variables owned by the nodes.
func (s *Session) FindOwned(ctx context.Context, nodeIDs []string) (tree.Bundle, error) {
	var b tree.Bundle
	if len(nodeIDs) == 0 {
		return b, nil
	}
	where := ` WHERE node_id IN (` + placeholders(len(nodeIDs)) + `) ORDER BY id`
	args := stringArgs(nodeIDs)

	var err error
	if b.Formulas, err = queryAll(ctx, s.q, scanFormula, `SELECT `+formulaColumns+` FROM formulas`+where, args...); err != nil {
		return b, fmt.Errorf("loading formulas: %w", err)
	}
	if b.Conditions, err = queryAll(ctx, s.q, scanCondition, `SELECT `+conditionColumns+` FROM conditions`+where, args...); err != nil {
		return b, fmt.Errorf("loading conditions: %w", err)
	}
	if b.Tables, err = queryAll(ctx, s.q, scanTable, `SELECT `+tableColumns+` FROM lookup_tables`+where, args...); err != nil {
		return b, fmt.Errorf("loading tables: %w", err)
	}
	if b.Variables, err = queryAll(ctx, s.q, scanVariable, `SELECT `+variableColumns+` FROM variables`+where, args...); err != nil {
		return b, fmt.Errorf("loading variables: %w", err)
	}
	return b, nil
}

// LoadBundle reads every record in the database.
func (s *Session) LoadBundle(ctx context.Context) (tree.Bundle, error) {
	var b tree.Bundle
	var err error
	if b.Nodes, err = s.ListNodes(ctx); err != nil {
		return b, fmt.Errorf("loading nodes: %w", err)
	}
	if b.Formulas, err = queryAll(ctx, s.q, scanFormula, `SELECT `+formulaColumns+` FROM formulas ORDER BY id`); err != nil {
		return b, fmt.Errorf("loading formulas: %w", err)
	}
	if b.Conditions, err = queryAll(ctx, s.q, scanCondition, `SELECT `+conditionColumns+` FROM conditions ORDER BY id`); err != nil {
		return b, fmt.Errorf("loading conditions: %w", err)
	}
	if b.Tables, err = queryAll(ctx, s.q, scanTable, `SELECT `+tableColumns+` FROM lookup_tables ORDER BY id`); err != nil {
		return b, fmt.Errorf("loading tables: %w", err)
	}
	if b.Variables, err = queryAll(ctx, s.q, scanVariable, `SELECT `+variableColumns+` FROM variables ORDER BY id`); err != nil {
		return b, fmt.Errorf("loading variables: %w", err)
	}
	return b, nil
}

// LoadBundle reads every record in the database.
func (d *DB) LoadBundle(ctx context.Context) (tree.Bundle, error) {
	return d.Session().LoadBundle(ctx)
}

// Catalog loads the whole database into an evaluation catalog.
func (d *DB) Catalog(ctx context.Context) (*tree.Catalog, error) {
	b, err := d.LoadBundle(ctx)
	if err != nil {
		return nil, err
	}
	return tree.NewCatalog(b), nil
}

// Exists reports whether a referenced record exists. Node references also
// match variable exposed keys.
func (s *Session) Exists(ctx context.Context, r ref.Ref) (bool, error) {
	var query string
	switch r.Kind {
	case ref.KindFormula:
		query = `SELECT EXISTS(SELECT 1 FROM formulas WHERE id = ?1)`
	case ref.KindCondition:
		query = `SELECT EXISTS(SELECT 1 FROM conditions WHERE id = ?1)`
	case ref.KindTable:
		query = `SELECT EXISTS(SELECT 1 FROM lookup_tables WHERE id = ?1)`
	default:
		query = `SELECT EXISTS(SELECT 1 FROM nodes WHERE id = ?1)
		           OR EXISTS(SELECT 1 FROM variables WHERE exposed_key = ?1)`
	}
	return s.exists(ctx, query, r.ID)
}

// ExposedKeyExists reports whether a variable already uses key.
func (s *Session) ExposedKeyExists(ctx context.Context, key string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM variables WHERE exposed_key = ?1)`, key)
}

// TakenIDs returns the ids already used by a node, capability or variable.
func (s *Session) TakenIDs(ctx context.Context, ids []string) ([]string, error) {
	var taken []string
	for _, id := range ids {
		ok, err := s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM nodes WHERE id = ?1)
			OR EXISTS(SELECT 1 FROM formulas WHERE id = ?1)
			OR EXISTS(SELECT 1 FROM conditions WHERE id = ?1)
			OR EXISTS(SELECT 1 FROM lookup_tables WHERE id = ?1)
			OR EXISTS(SELECT 1 FROM variables WHERE id = ?1)`, id)
		if err != nil {
			return nil, err
		}
		if ok {
			taken = append(taken, id)
		}
	}
	return taken, nil
}

func (s *Session) exists(ctx context.Context, query string, arg string) (bool, error) {
	var ok bool
	if err := s.q.QueryRowContext(ctx, query, arg).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// owner returns the node owning a capability or variable id, or "" when none does.
func (s *Session) owner(ctx context.Context, kind tree.LinkKind, id string) (string, error) {
	var table string
	switch kind {
	case tree.LinkFormula:
		table = "formulas"
	case tree.LinkCondition:
		table = "conditions"
	case tree.LinkTable:
		table = "lookup_tables"
	default:
		table = "variables"
	}
	var nodeID string
	err := s.q.QueryRowContext(ctx, `SELECT node_id FROM `+table+` WHERE id = ?`, id).Scan(&nodeID)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return nodeID, nil
}
