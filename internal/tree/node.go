package tree

import (
	"sort"

	"treebranchleaf/tbl/internal/ref"
)

// NodeType is the structural role of a node in the form tree.
type NodeType string

const (
	TypeBranchRoot  NodeType = "branch-root"
	TypeSubBranch   NodeType = "sub-branch"
	TypeSection     NodeType = "section"
	TypeField       NodeType = "field"
	TypeOption      NodeType = "option"
	TypeOptionField NodeType = "option-field"
	TypeDataField   NodeType = "data-field"
)

func (t NodeType) String() string { return string(t) }

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	switch t {
	case TypeBranchRoot, TypeSubBranch, TypeSection, TypeField, TypeOption, TypeOptionField, TypeDataField:
		return true
	}
	return false
}

// Capabilities are the flags telling which evaluator runs when a node is read.
type Capabilities struct {
	HasData      bool `json:"hasData"`
	HasFormula   bool `json:"hasFormula"`
	HasCondition bool `json:"hasCondition"`
	HasTable     bool `json:"hasTable"`
}

// ActiveIDs point at the one active instance per capability kind.
type ActiveIDs struct {
	FormulaActiveID   *string `json:"formula_activeId"`
	ConditionActiveID *string `json:"condition_activeId"`
	TableActiveID     *string `json:"table_activeId"`
}

// Links are the ids of capabilities and variables that read a node.
type Links struct {
	LinkedVariableIDs  []string `json:"linkedVariableIds"`
	LinkedFormulaIDs   []string `json:"linkedFormulaIds"`
	LinkedConditionIDs []string `json:"linkedConditionIds"`
	LinkedTableIDs     []string `json:"linkedTableIds"`
}

// LinkKind selects one of the linked id arrays.
type LinkKind string

const (
	LinkVariable  LinkKind = "variable"
	LinkFormula   LinkKind = "formula"
	LinkCondition LinkKind = "condition"
	LinkTable     LinkKind = "table"
)

// LinkKindFor maps a capability reference kind to its link array.
func LinkKindFor(k ref.Kind) (LinkKind, bool) {
	switch k {
	case ref.KindFormula:
		return LinkFormula, true
	case ref.KindCondition:
		return LinkCondition, true
	case ref.KindTable:
		return LinkTable, true
	}
	return "", false
}

func (l *Links) slot(kind LinkKind) *[]string {
	switch kind {
	case LinkVariable:
		return &l.LinkedVariableIDs
	case LinkFormula:
		return &l.LinkedFormulaIDs
	case LinkCondition:
		return &l.LinkedConditionIDs
	default:
		return &l.LinkedTableIDs
	}
}

// Get returns the ids linked under kind.
func (l Links) Get(kind LinkKind) []string {
	return *l.slot(kind)
}

// Add unions id into the kind's array. It reports whether the array changed.
func (l *Links) Add(kind LinkKind, id string) bool {
	s := l.slot(kind)
	for _, existing := range *s {
		if existing == id {
			return false
		}
	}
	*s = append(*s, id)
	return true
}

// Union adds every id of o into l.
func (l *Links) Union(o Links) bool {
	changed := false
	for _, kind := range []LinkKind{LinkVariable, LinkFormula, LinkCondition, LinkTable} {
		for _, id := range o.Get(kind) {
			if l.Add(kind, id) {
				changed = true
			}
		}
	}
	return changed
}

// Remove drops every id present in ids. It reports whether anything changed.
func (l *Links) Remove(ids map[string]bool) bool {
	changed := false
	for _, kind := range []LinkKind{LinkVariable, LinkFormula, LinkCondition, LinkTable} {
		s := l.slot(kind)
		kept := (*s)[:0]
		for _, id := range *s {
			if ids[id] {
				changed = true
				continue
			}
			kept = append(kept, id)
		}
		*s = kept
	}
	return changed
}

// Contains reports whether id is linked under kind.
func (l Links) Contains(kind LinkKind, id string) bool {
	for _, existing := range l.Get(kind) {
		if existing == id {
			return true
		}
	}
	return false
}

// Metadata is provenance recorded on copies.
type Metadata struct {
	CopiedFromNodeID       string `json:"copiedFromNodeId,omitempty"`
	DuplicatedFromRepeater string `json:"duplicatedFromRepeater,omitempty"`
	CopySuffix             *int   `json:"copySuffix,omitempty"`
}

// IsCopy reports whether the node was produced by duplication.
func (m Metadata) IsCopy() bool { return m.CopiedFromNodeID != "" }

// Node is one element of the form tree.
type Node struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	ParentID *string  `json:"parentId"`
	Order    int      `json:"order"`
	Label    string   `json:"label"`
	Capabilities
	ActiveIDs
	Links
	RepeaterTemplateNodeIDs []string `json:"repeater_templateNodeIds,omitempty"`
	Metadata                Metadata `json:"metadata"`
	CreatedAt               int64    `json:"createdAt"` // Unix millis
	UpdatedAt               int64    `json:"updatedAt"` // Unix millis
}

// ActiveID returns the active capability id for a capability kind.
func (n *Node) ActiveID(kind ref.Kind) *string {
	switch kind {
	case ref.KindFormula:
		return n.FormulaActiveID
	case ref.KindCondition:
		return n.ConditionActiveID
	case ref.KindTable:
		return n.TableActiveID
	}
	return nil
}

// SetActiveID sets the active capability pointer for a kind.
func (n *Node) SetActiveID(kind ref.Kind, id *string) {
	switch kind {
	case ref.KindFormula:
		n.FormulaActiveID = id
	case ref.KindCondition:
		n.ConditionActiveID = id
	case ref.KindTable:
		n.TableActiveID = id
	}
}

// Has reports the capability flag for a kind.
func (n *Node) Has(kind ref.Kind) bool {
	switch kind {
	case ref.KindFormula:
		return n.HasFormula
	case ref.KindCondition:
		return n.HasCondition
	case ref.KindTable:
		return n.HasTable
	}
	return false
}

// Active returns the capability evaluated when the node is read, checking
// formula, condition then table.
func (n *Node) Active() (ref.Ref, bool) {
	for _, kind := range []ref.Kind{ref.KindFormula, ref.KindCondition, ref.KindTable} {
		if id := n.ActiveID(kind); n.Has(kind) && id != nil && *id != "" {
			return ref.Of(kind, *id), true
		}
	}
	return ref.Ref{}, false
}

// SortNodes orders nodes by parent then sibling order then id.
func SortNodes(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		pi, pj := deref(nodes[i].ParentID), deref(nodes[j].ParentID)
		if pi != pj {
			return pi < pj
		}
		if nodes[i].Order != nodes[j].Order {
			return nodes[i].Order < nodes[j].Order
		}
		return nodes[i].ID < nodes[j].ID
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string { return &s }
