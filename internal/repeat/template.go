package repeat

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"treebranchleaf/tbl/internal/ref"
)

// ValidateTemplateIDs rejects a repeater template list holding an id that
// carries a copy suffix.
func ValidateTemplateIDs(ids []string) error {
	for _, id := range ids {
		if ref.HasSuffix(id) {
			return fmt.Errorf("template id %s: %w", id, ErrTemplateSuffixed)
		}
	}
	return nil
}

// SetRepeaterTemplate stores the template list of a repeater node after
// checking that every id is unsuffixed and exists. Duplicate ids are dropped.
func (d *Duplicator) SetRepeaterTemplate(ctx context.Context, repeaterID string, ids []string) error {
	if err := ValidateTemplateIDs(ids); err != nil {
		return err
	}
	ids = dedupe(ids)
	return d.store.WithTx(ctx, func(tx Tx) error {
		n, err := tx.FindNode(ctx, repeaterID)
		if err != nil {
			return fmt.Errorf("loading repeater: %w", err)
		}
		if n == nil {
			return fmt.Errorf("repeater %s: %w", repeaterID, ErrNotFound)
		}
		for _, id := range ids {
			t, err := tx.FindNode(ctx, id)
			if err != nil {
				return fmt.Errorf("loading template node: %w", err)
			}
			if t == nil {
				return fmt.Errorf("template node %s: %w", id, ErrNotFound)
			}
		}
		return tx.UpdateRepeaterTemplate(ctx, repeaterID, ids)
	})
}

// TemplateRepair is one rewritten repeater template list.
type TemplateRepair struct {
	RepeaterID string   `json:"repeaterId"`
	Before     []string `json:"before"`
	After      []string `json:"after"`
}

// RepairTemplates rewrites every stored template list to the unsuffixed
// bases of its ids, deduplicated in first-seen order. With dryRun the
// repairs are reported but not written.
func (d *Duplicator) RepairTemplates(ctx context.Context, dryRun bool) ([]TemplateRepair, error) {
	var repairs []TemplateRepair
	err := d.store.WithTx(ctx, func(tx Tx) error {
		nodes, err := tx.ListNodes(ctx)
		if err != nil {
			return fmt.Errorf("listing nodes: %w", err)
		}
		for _, n := range nodes {
			if len(n.RepeaterTemplateNodeIDs) == 0 {
				continue
			}
			after := make([]string, len(n.RepeaterTemplateNodeIDs))
			for i, id := range n.RepeaterTemplateNodeIDs {
				after[i] = ref.Base(id)
			}
			after = dedupe(after)
			if slices.Equal(after, n.RepeaterTemplateNodeIDs) {
				continue
			}
			repairs = append(repairs, TemplateRepair{RepeaterID: n.ID, Before: n.RepeaterTemplateNodeIDs, After: after})
			if dryRun {
				continue
			}
			if err := tx.UpdateRepeaterTemplate(ctx, n.ID, after); err != nil {
				return fmt.Errorf("repairing %s: %w", n.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, r := range repairs {
		d.logger.Info("repeater template repaired",
			zap.String("repeater", r.RepeaterID),
			zap.Strings("before", r.Before),
			zap.Strings("after", r.After),
			zap.Bool("dry_run", dryRun))
	}
	return repairs, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
