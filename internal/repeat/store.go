// Package repeat copies repeater template subtrees and rewrites the
// references embedded in the copies.
package repeat

import (
	"context"
	"errors"
	"fmt"

	"treebranchleaf/tbl/internal/ref"
	"treebranchleaf/tbl/internal/tree"
)

var (
	// ErrTemplateSuffixed means a template id already carries a copy suffix,
	// so the template is itself a stale copy.
	ErrTemplateSuffixed = errors.New("template id already carries a copy suffix")
	// ErrDanglingReference means a rewritten reference points nowhere.
	ErrDanglingReference = errors.New("dangling reference")
	// ErrIDCollision means a copy id is already taken.
	ErrIDCollision = errors.New("id collision")
	// ErrBusy means another writer held the store for longer than the store
	// was willing to wait.
	ErrBusy = errors.New("store busy")
	// ErrNotFound means a node named by the caller does not exist.
	ErrNotFound = errors.New("not found")
)

// RewriteError reports a reference that could not be rewritten.
type RewriteError struct {
	Owner string  // entity holding the reference, e.g. "formula F1"
	Ref   ref.Ref // offending reference
	Err   error
}

func (e *RewriteError) Error() string {
	return fmt.Sprintf("%s references %s: %v", e.Owner, e.Ref.String(), e.Err)
}

func (e *RewriteError) Unwrap() error { return e.Err }

// Store runs a function inside a single transaction. When fn returns an
// error nothing it wrote is kept.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the persistence collaborator seen by the duplicator. Find methods
// return nil, nil on a miss.
type Tx interface {
	FindNode(ctx context.Context, id string) (*tree.Node, error)
	FindChildren(ctx context.Context, parentID string) ([]tree.Node, error)
	ListNodes(ctx context.Context) ([]tree.Node, error)
	// FindOwned returns the capabilities and variables owned by the nodes.
	FindOwned(ctx context.Context, nodeIDs []string) (tree.Bundle, error)
	// Exists reports whether a referenced record exists. Node references
	// also match variable exposed keys.
	Exists(ctx context.Context, r ref.Ref) (bool, error)
	// ExposedKeyExists reports whether a variable already uses key.
	ExposedKeyExists(ctx context.Context, key string) (bool, error)
	// TakenIDs returns the ids already used by a node, capability or variable.
	TakenIDs(ctx context.Context, ids []string) ([]string, error)

	CreateNode(ctx context.Context, n tree.Node) error
	CreateFormula(ctx context.Context, f tree.Formula) error
	CreateCondition(ctx context.Context, c tree.Condition) error
	CreateTable(ctx context.Context, t tree.Table) error
	CreateVariable(ctx context.Context, v tree.Variable) error
	UpdateNodeLinks(ctx context.Context, id string, links tree.Links) error
	UpdateRepeaterTemplate(ctx context.Context, id string, templateIDs []string) error
	// DeleteBundle removes variables, capabilities and nodes of b.
	DeleteBundle(ctx context.Context, b tree.Bundle) error
}

// collectSubtree gathers root and its descendants, parents before children.
// Descendants accepted by skip are left out together with their subtrees.
func collectSubtree(ctx context.Context, tx Tx, root *tree.Node, skip func(*tree.Node) bool) ([]tree.Node, error) {
	out := []tree.Node{*root}
	for i := 0; i < len(out); i++ {
		children, err := tx.FindChildren(ctx, out[i].ID)
		if err != nil {
			return nil, fmt.Errorf("listing children of %s: %w", out[i].ID, err)
		}
		for j := range children {
			if skip != nil && skip(&children[j]) {
				continue
			}
			out = append(out, children[j])
		}
	}
	return out, nil
}

func nodeIDs(nodes []tree.Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
