package graph

import (
	"fmt"
	"sort"

	"treebranchleaf/tbl/internal/ref"
	"treebranchleaf/tbl/internal/tree"
	"treebranchleaf/tbl/internal/variable"
)

// Severity of an integrity issue
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Integrity rules
const (
	RuleMultiSuffix          = "multi-suffix"
	RuleSuffixedTemplate     = "suffixed-template"
	RuleMissingTemplateNode  = "missing-template-node"
	RuleDanglingReference    = "dangling-reference"
	RuleLinkingContract      = "linking-contract"
	RuleForeignActivePointer = "foreign-active-pointer"
	RuleOrphanDataField      = "orphan-data-field"
	RuleMissingBackLink      = "missing-back-link"
)

// Issue is one integrity finding
type Issue struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Entity   string   `json:"entity"` // "<kind> <id>"
	Ref      string   `json:"ref,omitempty"`
	Message  string   `json:"message"`
}

// IntegrityReport lists every issue found in a snapshot
type IntegrityReport struct {
	Issues     []Issue          `json:"issues"`
	BySeverity map[Severity]int `json:"by_severity"`
	ByRule     map[string]int   `json:"by_rule"`
}

// Errors returns the number of error-level issues
func (r *IntegrityReport) Errors() int { return r.BySeverity[SeverityError] }

// ComputeIntegrity runs every integrity rule against the snapshot
func ComputeIntegrity(snap *Snapshot) *IntegrityReport {
	cat := snap.Catalog
	report := &IntegrityReport{
		BySeverity: make(map[Severity]int),
		ByRule:     make(map[string]int),
	}
	add := func(rule string, sev Severity, entity, r, format string, args ...any) {
		report.Issues = append(report.Issues, Issue{
			Rule:     rule,
			Severity: sev,
			Entity:   entity,
			Ref:      r,
			Message:  fmt.Sprintf(format, args...),
		})
		report.BySeverity[sev]++
		report.ByRule[rule]++
	}

	checkMultiSuffix(snap, add)

	for _, id := range cat.NodeIDs() {
		n := cat.Node(id)
		entity := "node " + id

		for _, t := range n.RepeaterTemplateNodeIDs {
			if ref.HasSuffix(t) {
				add(RuleSuffixedTemplate, SeverityError, entity, t, "template id %s carries a copy suffix, expected %s", t, ref.Base(t))
			} else if cat.Node(t) == nil {
				add(RuleMissingTemplateNode, SeverityWarning, entity, t, "template node %s does not exist", t)
			}
		}

		for _, kind := range []ref.Kind{ref.KindFormula, ref.KindCondition, ref.KindTable} {
			active := n.ActiveID(kind)
			if active == nil || *active == "" {
				continue
			}
			r := ref.Of(kind, *active)
			switch owner := cat.Owner(r); {
			case owner == "":
				add(RuleForeignActivePointer, SeverityError, entity, r.String(), "active %s %s does not exist", kind, *active)
			case owner != id:
				add(RuleForeignActivePointer, SeverityError, entity, r.String(), "active %s %s belongs to node %s", kind, *active, owner)
			}
		}

		if n.Type == tree.TypeDataField && !hasSectionAncestor(snap, id) {
			add(RuleOrphanDataField, SeverityWarning, entity, "", "data field has no section ancestor")
		}
	}

	for _, e := range snap.Edges {
		if e.To != "" {
			continue
		}
		add(RuleDanglingReference, SeverityError, fmt.Sprintf("%s %s", e.Kind, e.Reader), e.Ref.String(), "%s does not resolve", e.Ref)
	}

	for _, v := range variable.New(cat).Validate() {
		sev := SeverityError
		if v.Rule == variable.RuleEmptyExposedKey {
			sev = SeverityWarning
		}
		add(RuleLinkingContract, sev, "variable "+v.VariableID, "", "%s: %s", v.Rule, v.Message)
	}

	for _, c := range variable.Relink(cat) {
		add(RuleMissingBackLink, SeverityWarning, "node "+c.NodeID, "", "%d back-link(s) missing, run relink", c.Added)
	}

	sort.SliceStable(report.Issues, func(i, j int) bool {
		a, b := report.Issues[i], report.Issues[j]
		if a.Severity != b.Severity {
			return a.Severity == SeverityError
		}
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		return a.Entity < b.Entity
	})
	return report
}

func checkMultiSuffix(snap *Snapshot, add func(rule string, sev Severity, entity, r, format string, args ...any)) {
	check := func(kind, id string) {
		if ref.IsMultiSuffixed(id) {
			add(RuleMultiSuffix, SeverityError, kind+" "+id, "", "id carries more than one copy suffix")
		}
	}
	b := snap.Bundle
	for _, n := range b.Nodes {
		check("node", n.ID)
	}
	for _, f := range b.Formulas {
		check("formula", f.ID)
	}
	for _, c := range b.Conditions {
		check("condition", c.ID)
	}
	for _, t := range b.Tables {
		check("table", t.ID)
	}
	for _, v := range b.Variables {
		check("variable", v.ID)
		if ref.IsMultiSuffixed(v.ExposedKey) {
			add(RuleMultiSuffix, SeverityError, "variable "+v.ID, v.ExposedKey, "exposed key carries more than one copy suffix")
		}
	}
}

func hasSectionAncestor(snap *Snapshot, id string) bool {
	for _, a := range snap.Ancestors(id) {
		if a.Type == tree.TypeSection {
			return true
		}
	}
	return false
}
