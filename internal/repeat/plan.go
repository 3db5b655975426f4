package repeat

import (
	"context"
	"fmt"

	"treebranchleaf/tbl/internal/ref"
	"treebranchleaf/tbl/internal/tree"
)

// plan is the id-remap table of one copy.
type plan struct {
	suffix    int
	nodes     map[string]string
	caps      map[ref.Kind]map[string]string
	variables map[string]string
	keys      map[string]string // exposed key -> copied exposed key
}

func newPlan(template tree.Bundle, n int) *plan {
	p := &plan{
		suffix:    n,
		nodes:     make(map[string]string, len(template.Nodes)),
		caps:      map[ref.Kind]map[string]string{ref.KindFormula: {}, ref.KindCondition: {}, ref.KindTable: {}},
		variables: make(map[string]string, len(template.Variables)),
		keys:      make(map[string]string, len(template.Variables)),
	}
	for _, node := range template.Nodes {
		p.nodes[node.ID] = ref.WithSuffix(node.ID, n)
	}
	for _, f := range template.Formulas {
		p.caps[ref.KindFormula][f.ID] = ref.WithSuffix(f.ID, n)
	}
	for _, c := range template.Conditions {
		p.caps[ref.KindCondition][c.ID] = ref.WithSuffix(c.ID, n)
	}
	for _, t := range template.Tables {
		p.caps[ref.KindTable][t.ID] = ref.WithSuffix(t.ID, n)
	}
	for _, v := range template.Variables {
		p.variables[v.ID] = ref.WithSuffix(v.ID, n)
		if v.ExposedKey != "" {
			p.keys[v.ExposedKey] = ref.Resuffix(v.ExposedKey, n)
		}
	}
	return p
}

// newIDs lists every id the copy would create.
func (p *plan) newIDs() []string {
	var ids []string
	for _, m := range []map[string]string{p.nodes, p.caps[ref.KindFormula], p.caps[ref.KindCondition], p.caps[ref.KindTable], p.variables} {
		for _, id := range m {
			ids = append(ids, id)
		}
	}
	return ids
}

func (p *plan) takenKeys(ctx context.Context, tx Tx) ([]string, error) {
	var taken []string
	for _, key := range p.keys {
		ok, err := tx.ExposedKeyExists(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("checking exposed key %s: %w", key, err)
		}
		if ok {
			taken = append(taken, key)
		}
	}
	return taken, nil
}

// idMap is the old -> new table over every copied entity.
func (p *plan) idMap() map[string]string {
	out := make(map[string]string)
	for _, m := range []map[string]string{p.nodes, p.caps[ref.KindFormula], p.caps[ref.KindCondition], p.caps[ref.KindTable], p.variables} {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// mapRef is the rewrite mapper. A capability tag carrying a node id follows
// the node.
func (p *plan) mapRef(r ref.Ref) (string, bool) {
	if r.Kind.IsCapability() {
		if id, ok := p.caps[r.Kind][r.ID]; ok {
			return id, true
		}
		id, ok := p.nodes[r.ID]
		return id, ok
	}
	if id, ok := p.nodes[r.ID]; ok {
		return id, true
	}
	key, ok := p.keys[r.ID]
	return key, ok
}

// inTemplate reports whether id is, by its base, one of the copied ids.
func (p *plan) inTemplate(r ref.Ref) bool {
	base := ref.Base(r.ID)
	if _, ok := p.nodes[base]; ok {
		return true
	}
	if _, ok := p.keys[base]; ok {
		return true
	}
	if r.Kind.IsCapability() {
		_, ok := p.caps[r.Kind][base]
		return ok
	}
	return false
}

// check verifies that every reference of the template either maps to a copy
// or points at a record that exists outside the subtree.
func (p *plan) check(ctx context.Context, tx Tx, template tree.Bundle) error {
	verify := func(owner string, refs []ref.Ref) error {
		for _, r := range refs {
			if _, ok := p.mapRef(r); ok {
				continue
			}
			if ref.HasSuffix(r.ID) && p.inTemplate(r) {
				return &RewriteError{Owner: owner, Ref: r, Err: fmt.Errorf("points at a copy of a template entity: %w", ErrDanglingReference)}
			}
			exists, err := tx.Exists(ctx, r)
			if err != nil {
				return fmt.Errorf("checking %s: %w", r.String(), err)
			}
			if !exists && r.Kind.IsCapability() {
				exists, err = tx.Exists(ctx, ref.Of(ref.KindNode, r.ID))
				if err != nil {
					return fmt.Errorf("checking %s: %w", r.String(), err)
				}
			}
			if !exists {
				return &RewriteError{Owner: owner, Ref: r, Err: ErrDanglingReference}
			}
		}
		return nil
	}

	for _, f := range template.Formulas {
		refs, err := blobRefs(f.Tokens)
		if err != nil {
			return err
		}
		if err := verify("formula "+f.ID, refs); err != nil {
			return err
		}
	}
	for _, c := range template.Conditions {
		refs, err := blobRefs(c.ConditionSet)
		if err != nil {
			return err
		}
		if err := verify("condition "+c.ID, refs); err != nil {
			return err
		}
	}
	for _, t := range template.Tables {
		refs, err := blobRefs(t.Meta)
		if err != nil {
			return err
		}
		if err := verify("table "+t.ID, refs); err != nil {
			return err
		}
	}
	for _, v := range template.Variables {
		if v.SourceType == tree.SourceFixed || v.SourceRef == "" {
			continue
		}
		if err := verify("variable "+v.ID, ref.ExtractString(v.SourceRef)); err != nil {
			return err
		}
	}
	return nil
}

func blobRefs(v any) ([]ref.Ref, error) {
	j, err := ref.ToJSONValue(v)
	if err != nil {
		return nil, fmt.Errorf("encoding blob: %w", err)
	}
	return ref.Extract(j), nil
}

// rewrite passes a typed blob through the mapper.
func rewrite[T any](v T, m ref.Mapper) (T, error) {
	var out T
	j, err := ref.ToJSONValue(v)
	if err != nil {
		return out, fmt.Errorf("encoding blob: %w", err)
	}
	if err := ref.FromJSONValue(ref.Rewrite(j, m), &out); err != nil {
		return out, fmt.Errorf("decoding rewritten blob: %w", err)
	}
	return out, nil
}

type copyOptions struct {
	rootID       string
	parentID     string
	order        int
	repeaterID   string
	suffixLabels bool
	now          int64
}

// build produces the copied records.
func (p *plan) build(template tree.Bundle, o copyOptions) (tree.Bundle, error) {
	var out tree.Bundle
	n := p.suffix

	for _, src := range template.Nodes {
		c := src
		c.ID = p.nodes[src.ID]
		if src.ID == o.rootID {
			parent := o.parentID
			c.ParentID = &parent
			c.Order = o.order
		} else {
			parent := p.nodes[deref(src.ParentID)]
			c.ParentID = &parent
		}
		if o.suffixLabels {
			c.Label = ref.Resuffix(src.Label, n)
		}
		for _, kind := range []ref.Kind{ref.KindFormula, ref.KindCondition, ref.KindTable} {
			if id := src.ActiveID(kind); id != nil {
				if mapped, ok := p.caps[kind][*id]; ok {
					c.SetActiveID(kind, &mapped)
				}
			}
		}
		c.Links = tree.Links{}
		c.RepeaterTemplateNodeIDs = append([]string(nil), src.RepeaterTemplateNodeIDs...)
		suffix := n
		c.Metadata = tree.Metadata{
			CopiedFromNodeID:       src.ID,
			DuplicatedFromRepeater: o.repeaterID,
			CopySuffix:             &suffix,
		}
		c.CreatedAt, c.UpdatedAt = o.now, o.now
		out.Nodes = append(out.Nodes, c)
	}

	for _, src := range template.Formulas {
		tokens, err := rewrite(src.Tokens, p.mapRef)
		if err != nil {
			return out, fmt.Errorf("formula %s: %w", src.ID, err)
		}
		out.Formulas = append(out.Formulas, tree.Formula{
			ID: p.caps[ref.KindFormula][src.ID], NodeID: p.nodes[src.NodeID], Name: src.Name, Tokens: tokens,
		})
	}
	for _, src := range template.Conditions {
		set, err := rewrite(src.ConditionSet, p.mapRef)
		if err != nil {
			return out, fmt.Errorf("condition %s: %w", src.ID, err)
		}
		out.Conditions = append(out.Conditions, tree.Condition{
			ID: p.caps[ref.KindCondition][src.ID], NodeID: p.nodes[src.NodeID], Name: src.Name, ConditionSet: set,
		})
	}
	for _, src := range template.Tables {
		meta, err := rewrite(src.Meta, p.mapRef)
		if err != nil {
			return out, fmt.Errorf("table %s: %w", src.ID, err)
		}
		c := src
		c.ID = p.caps[ref.KindTable][src.ID]
		c.NodeID = p.nodes[src.NodeID]
		c.Meta = meta
		out.Tables = append(out.Tables, c)
	}
	for _, src := range template.Variables {
		c := src
		c.ID = p.variables[src.ID]
		c.NodeID = p.nodes[src.NodeID]
		c.ExposedKey = p.keys[src.ExposedKey]
		if o.suffixLabels {
			c.DisplayName = ref.Resuffix(src.DisplayName, n)
		}
		if src.SourceType != tree.SourceFixed {
			c.SourceRef = ref.RewriteString(src.SourceRef, p.mapRef)
		}
		out.Variables = append(out.Variables, c)
	}
	return out, nil
}
