package db

import (
	"context"

	"treebranchleaf/tbl/internal/tree"
)

// queryAll runs query and scans every row with scan.
func queryAll[T any](ctx context.Context, q querier, scan func(scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// FindNode returns a single node by ID, or nil if not found
func (s *Session) FindNode(ctx context.Context, id string) (*tree.Node, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// FindChildren returns the children of a node in sibling order.
func (s *Session) FindChildren(ctx context.Context, parentID string) ([]tree.Node, error) {
	return queryAll(ctx, s.q, scanNode,
		`SELECT `+nodeColumns+` FROM nodes WHERE parent_id = ? ORDER BY sort_order, id`, parentID)
}

// ListNodes returns every node ordered by id.
func (s *Session) ListNodes(ctx context.Context) ([]tree.Node, error) {
	return queryAll(ctx, s.q, scanNode, `SELECT `+nodeColumns+` FROM nodes ORDER BY id`)
}

// SearchByIDPrefix finds nodes whose ID starts with the given prefix.
func (s *Session) SearchByIDPrefix(ctx context.Context, prefix string, limit int) ([]tree.Node, error) {
	return queryAll(ctx, s.q, scanNode,
		`SELECT `+nodeColumns+` FROM nodes WHERE id LIKE ? ESCAPE '\' ORDER BY id LIMIT ?`,
		escapeLike(prefix)+"%", limit)
}

// GetNode returns a single node by ID, or nil if not found
func (d *DB) GetNode(id string) (*tree.Node, error) {
	return d.Session().FindNode(context.Background(), id)
}

// AllNodes returns all nodes ordered by id
func (d *DB) AllNodes() ([]tree.Node, error) {
	return d.Session().ListNodes(context.Background())
}

// SearchByIDPrefix finds nodes whose ID starts with the given prefix.
func (d *DB) SearchByIDPrefix(prefix string, limit int) ([]tree.Node, error) {
	return d.Session().SearchByIDPrefix(context.Background(), prefix, limit)
}
