package repeat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"treebranchleaf/tbl/internal/ref"
	"treebranchleaf/tbl/internal/tree"
)

// Removal describes a removed repeater instance.
type Removal struct {
	RootID         string   `json:"rootId"`
	Removed        Counts   `json:"removed"`
	RemovedNodeIDs []string `json:"removedNodeIds"`
	Unlinked       []string `json:"unlinked,omitempty"` // surviving nodes whose links were stripped
}

// RemoveInstance deletes copy N of a template: the copy root, its subtree,
// and the capabilities and variables they own. Removed ids are stripped from
// the links of every surviving node.
func (d *Duplicator) RemoveInstance(ctx context.Context, templateRootID string, n int) (*Removal, error) {
	unlock := d.locks.Lock(templateRootID)
	defer unlock()

	rootID := ref.WithSuffix(ref.Base(templateRootID), n)
	var out *Removal
	err := d.store.WithTx(ctx, func(tx Tx) error {
		root, err := tx.FindNode(ctx, rootID)
		if err != nil {
			return fmt.Errorf("loading %s: %w", rootID, err)
		}
		if root == nil {
			return fmt.Errorf("copy %s: %w", rootID, ErrNotFound)
		}

		nodes, err := collectSubtree(ctx, tx, root, nil)
		if err != nil {
			return err
		}
		doomed, err := tx.FindOwned(ctx, nodeIDs(nodes))
		if err != nil {
			return fmt.Errorf("loading capabilities: %w", err)
		}
		doomed.Nodes = nodes

		if err := tx.DeleteBundle(ctx, doomed); err != nil {
			return fmt.Errorf("deleting %s: %w", rootID, err)
		}

		removed := removedIDs(doomed)
		survivors, err := tx.ListNodes(ctx)
		if err != nil {
			return fmt.Errorf("listing nodes: %w", err)
		}
		var unlinked []string
		for _, s := range survivors {
			links := s.Links
			if !links.Remove(removed) {
				continue
			}
			if err := tx.UpdateNodeLinks(ctx, s.ID, links); err != nil {
				return fmt.Errorf("unlinking %s: %w", s.ID, err)
			}
			unlinked = append(unlinked, s.ID)
		}

		out = &Removal{
			RootID:         rootID,
			Removed:        countBundle(doomed),
			RemovedNodeIDs: nodeIDs(nodes),
			Unlinked:       unlinked,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("removing instance %d of %s: %w", n, templateRootID, err)
	}
	d.logger.Info("repeater instance removed",
		zap.String("root", rootID),
		zap.Int("nodes", out.Removed.Nodes))
	return out, nil
}

func removedIDs(b tree.Bundle) map[string]bool {
	ids := make(map[string]bool)
	for _, n := range b.Nodes {
		ids[n.ID] = true
	}
	for _, f := range b.Formulas {
		ids[f.ID] = true
	}
	for _, c := range b.Conditions {
		ids[c.ID] = true
	}
	for _, t := range b.Tables {
		ids[t.ID] = true
	}
	for _, v := range b.Variables {
		ids[v.ID] = true
	}
	return ids
}
