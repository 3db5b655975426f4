package variable

import (
	"treebranchleaf/tbl/internal/ref"
	"treebranchleaf/tbl/internal/tree"
)

// References returns the references embedded in a capability's JSON blob:
// formula tokens, a condition set, or table lookup metadata.
func References(c *tree.Catalog, r ref.Ref) []ref.Ref {
	var blob any
	switch r.Kind {
	case ref.KindFormula:
		if f := c.Formula(r.ID); f != nil {
			blob = f.Tokens
		}
	case ref.KindCondition:
		if cond := c.Condition(r.ID); cond != nil {
			blob = cond.ConditionSet
		}
	case ref.KindTable:
		if t := c.Table(r.ID); t != nil {
			blob = t.Meta
		}
	}
	if blob == nil {
		return nil
	}
	v, err := ref.ToJSONValue(blob)
	if err != nil {
		return nil
	}
	return ref.Extract(v)
}

// Target returns the node a reference reads. Capabilities read their owner
// and exposed keys read their variable's node. Node ids unknown to the
// catalog are returned as is; unknown capabilities return "".
func Target(c *tree.Catalog, r ref.Ref) string {
	if r.Kind.IsCapability() {
		return c.Owner(r)
	}
	if c.Node(r.ID) == nil {
		if v := c.VariableByKey(r.ID); v != nil {
			return v.NodeID
		}
	}
	return r.ID
}

// BackLinks computes, for every node read by a capability or a variable, the
// ids that read it. Targets outside the catalog are included; callers decide
// whether they exist.
func BackLinks(c *tree.Catalog) map[string]*tree.Links {
	out := make(map[string]*tree.Links)
	link := func(target string, kind tree.LinkKind, id string) {
		if target == "" {
			return
		}
		l, ok := out[target]
		if !ok {
			l = &tree.Links{}
			out[target] = l
		}
		l.Add(kind, id)
	}

	for _, f := range c.Formulas() {
		for _, r := range References(c, ref.Of(ref.KindFormula, f.ID)) {
			link(Target(c, r), tree.LinkFormula, f.ID)
		}
	}
	for _, cond := range c.Conditions() {
		for _, r := range References(c, ref.Of(ref.KindCondition, cond.ID)) {
			link(Target(c, r), tree.LinkCondition, cond.ID)
		}
	}
	for _, t := range c.Tables() {
		for _, r := range References(c, ref.Of(ref.KindTable, t.ID)) {
			link(Target(c, r), tree.LinkTable, t.ID)
		}
	}
	for _, v := range c.Variables() {
		if v.SourceRef == "" {
			continue
		}
		link(Target(c, ref.Parse(v.SourceRef)), tree.LinkVariable, v.ID)
	}
	return out
}

// Change is a node whose stored links were missing computed back-links.
type Change struct {
	NodeID string     `json:"nodeId"`
	Links  tree.Links `json:"links"`
	Added  int        `json:"added"`
}

// Relink unions the computed back-links into every node of the catalog and
// returns the nodes that changed. Stored links are never removed.
func Relink(c *tree.Catalog) []Change {
	computed := BackLinks(c)
	var changes []Change
	for _, id := range c.NodeIDs() {
		want, ok := computed[id]
		if !ok {
			continue
		}
		links := c.Node(id).Links
		links = tree.Links{
			LinkedVariableIDs:  append([]string(nil), links.LinkedVariableIDs...),
			LinkedFormulaIDs:   append([]string(nil), links.LinkedFormulaIDs...),
			LinkedConditionIDs: append([]string(nil), links.LinkedConditionIDs...),
			LinkedTableIDs:     append([]string(nil), links.LinkedTableIDs...),
		}
		before := count(links)
		if links.Union(*want) {
			changes = append(changes, Change{NodeID: id, Links: links, Added: count(links) - before})
		}
	}
	return changes
}

func count(l tree.Links) int {
	return len(l.LinkedVariableIDs) + len(l.LinkedFormulaIDs) + len(l.LinkedConditionIDs) + len(l.LinkedTableIDs)
}
