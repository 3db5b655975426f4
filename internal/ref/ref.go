package ref

import "strings"

// Kind identifies what a reference points at.
type Kind string

const (
	KindNode      Kind = "node"
	KindFormula   Kind = "formula"
	KindCondition Kind = "condition"
	KindTable     Kind = "table"
	KindSharedRef Kind = "shared-ref"
)

func (k Kind) String() string { return string(k) }

// IsCapability reports whether the kind names a formula, condition or table.
func (k Kind) IsCapability() bool {
	return k == KindFormula || k == KindCondition || k == KindTable
}

// SharedRefPrefix starts the id of every shared reference node.
const SharedRefPrefix = "shared-ref-"

const valuePrefix = "@value."

// Ref is a parsed tagged reference.
type Ref struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// tags are checked in order; longer tags come before the tags they contain.
var tags = []struct {
	tag  string
	kind Kind
}{
	{"node-formula:", KindFormula},
	{"formula:", KindFormula},
	{"node-condition:", KindCondition},
	{"condition:", KindCondition},
	{"node-table:", KindTable},
	{"table:", KindTable},
	{"@table.", KindTable},
}

// Parse turns a tagged reference string into a Ref.
// Untagged strings are node references.
func Parse(s string) Ref {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, valuePrefix)
	for _, t := range tags {
		if strings.HasPrefix(s, t.tag) {
			return Ref{Kind: t.kind, ID: strings.TrimSpace(s[len(t.tag):])}
		}
	}
	return nodeRef(s)
}

func nodeRef(id string) Ref {
	if strings.HasPrefix(id, SharedRefPrefix) {
		return Ref{Kind: KindSharedRef, ID: id}
	}
	return Ref{Kind: KindNode, ID: id}
}

func tagKind(tag string) Kind {
	switch tag {
	case "node-formula", "formula":
		return KindFormula
	case "node-condition", "condition":
		return KindCondition
	default:
		return KindTable
	}
}

// IsZero reports whether the reference is empty.
func (r Ref) IsZero() bool { return r.ID == "" }

// String renders the canonical tagged form.
func (r Ref) String() string {
	switch r.Kind {
	case KindFormula:
		return "node-formula:" + r.ID
	case KindCondition:
		return "condition:" + r.ID
	case KindTable:
		return "@table." + r.ID
	default:
		return valuePrefix + r.ID
	}
}

// Of builds a reference of the given kind.
func Of(kind Kind, id string) Ref {
	return Ref{Kind: kind, ID: id}
}
