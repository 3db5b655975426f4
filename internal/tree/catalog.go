package tree

import (
	"sort"

	"treebranchleaf/tbl/internal/ref"
)

// Catalog is a read-only index over a bundle. Evaluation reads only from a
// catalog, so every input is fetched before evaluation starts.
type Catalog struct {
	nodes      map[string]*Node
	children   map[string][]string
	formulas   map[string]*Formula
	conditions map[string]*Condition
	tables     map[string]*Table
	variables  map[string]*Variable
	byKey      map[string]*Variable
	byNode     map[string]*Variable
}

// NewCatalog indexes b. Later duplicates of an id replace earlier ones.
func NewCatalog(b Bundle) *Catalog {
	c := &Catalog{
		nodes:      make(map[string]*Node, len(b.Nodes)),
		children:   make(map[string][]string),
		formulas:   make(map[string]*Formula, len(b.Formulas)),
		conditions: make(map[string]*Condition, len(b.Conditions)),
		tables:     make(map[string]*Table, len(b.Tables)),
		variables:  make(map[string]*Variable, len(b.Variables)),
		byKey:      make(map[string]*Variable, len(b.Variables)),
		byNode:     make(map[string]*Variable, len(b.Variables)),
	}

	nodes := append([]Node(nil), b.Nodes...)
	SortNodes(nodes)
	for i := range nodes {
		n := &nodes[i]
		c.nodes[n.ID] = n
		if n.ParentID != nil {
			c.children[*n.ParentID] = append(c.children[*n.ParentID], n.ID)
		}
	}
	for i := range b.Formulas {
		f := b.Formulas[i]
		c.formulas[f.ID] = &f
	}
	for i := range b.Conditions {
		cond := b.Conditions[i]
		c.conditions[cond.ID] = &cond
	}
	for i := range b.Tables {
		t := b.Tables[i]
		c.tables[t.ID] = &t
	}
	for i := range b.Variables {
		v := b.Variables[i]
		c.variables[v.ID] = &v
		if v.ExposedKey != "" {
			c.byKey[v.ExposedKey] = &v
		}
		if _, ok := c.byNode[v.NodeID]; !ok {
			c.byNode[v.NodeID] = &v
		}
	}
	return c
}

func (c *Catalog) Node(id string) *Node           { return c.nodes[id] }
func (c *Catalog) Formula(id string) *Formula     { return c.formulas[id] }
func (c *Catalog) Condition(id string) *Condition { return c.conditions[id] }
func (c *Catalog) Table(id string) *Table         { return c.tables[id] }
func (c *Catalog) Variable(id string) *Variable   { return c.variables[id] }

// VariableByKey finds a variable by its exposed key.
func (c *Catalog) VariableByKey(key string) *Variable { return c.byKey[key] }

// VariableForNode returns the variable owned by a node, if any.
func (c *Catalog) VariableForNode(nodeID string) *Variable { return c.byNode[nodeID] }

// Children returns child ids in sibling order.
func (c *Catalog) Children(id string) []string { return c.children[id] }

// Owner returns the node owning a capability, or "" if the capability is unknown.
func (c *Catalog) Owner(r ref.Ref) string {
	switch r.Kind {
	case ref.KindFormula:
		if f := c.formulas[r.ID]; f != nil {
			return f.NodeID
		}
	case ref.KindCondition:
		if cond := c.conditions[r.ID]; cond != nil {
			return cond.NodeID
		}
	case ref.KindTable:
		if t := c.tables[r.ID]; t != nil {
			return t.NodeID
		}
	}
	return ""
}

// Exists reports whether the catalog holds the referenced record. Node
// references also match variable exposed keys.
func (c *Catalog) Exists(r ref.Ref) bool {
	switch r.Kind {
	case ref.KindNode, ref.KindSharedRef:
		return c.nodes[r.ID] != nil || c.byKey[r.ID] != nil
	default:
		return c.Owner(r) != ""
	}
}

// NodeIDs returns all node ids sorted.
func (c *Catalog) NodeIDs() []string { return sortedKeys(c.nodes) }

// Formulas returns all formulas ordered by id.
func (c *Catalog) Formulas() []*Formula { return sortedValues(c.formulas) }

// Conditions returns all conditions ordered by id.
func (c *Catalog) Conditions() []*Condition { return sortedValues(c.conditions) }

// Tables returns all tables ordered by id.
func (c *Catalog) Tables() []*Table { return sortedValues(c.tables) }

// Variables returns all variables ordered by id.
func (c *Catalog) Variables() []*Variable { return sortedValues(c.variables) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedValues[V any](m map[string]*V) []*V {
	out := make([]*V, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, m[k])
	}
	return out
}
