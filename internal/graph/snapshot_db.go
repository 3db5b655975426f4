package graph

import (
	"context"

	"treebranchleaf/tbl/internal/db"
)

// SnapshotFromDB loads a Snapshot from the database
func SnapshotFromDB(ctx context.Context, d *db.DB) (*Snapshot, error) {
	b, err := d.LoadBundle(ctx)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(b), nil
}
