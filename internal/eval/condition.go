package eval

import (
	"fmt"
	"strings"

	"treebranchleaf/tbl/internal/ref"
	"treebranchleaf/tbl/internal/tree"
)

func (ev *evaluation) condition(id string) outcome {
	set := ev.catalog.Condition(id).ConditionSet

	for i, b := range set.Branches {
		matched, desc := ev.predicate(b.When)
		if !matched {
			continue
		}
		v, actions := ev.runActions(b.Actions)
		name := b.Label
		if name == "" {
			name = fmt.Sprintf("branch %d", i+1)
		}
		return outcome{value: v, explanation: fmt.Sprintf("%s: if %s then %s", name, desc, actions)}
	}

	if set.Fallback != nil {
		v, actions := ev.runActions(set.Fallback.Actions)
		return outcome{value: v, explanation: "otherwise " + actions}
	}
	return outcome{explanation: "no branch matched"}
}

// predicate evaluates a branch condition and describes it.
func (ev *evaluation) predicate(w tree.When) (bool, string) {
	op := w.Operation()
	left := ev.operand(w.Left)

	var right Resolved
	rightDesc := ""
	if !IsUnary(op) && w.Right != nil {
		right = ev.operand(*w.Right)
		rightDesc = " " + describeOperand(*w.Right, right)
	}

	result, known := Compare(op, left.Raw, right.Raw)
	if !known {
		ev.trace.warn(w.Left.Ref, SourceCondition, "unknown operator "+op)
		return false, fmt.Sprintf("%s %s%s", describeOperand(w.Left, left), op, rightDesc)
	}
	return result, fmt.Sprintf("%s %s%s", describeOperand(w.Left, left), NormalizeOperator(op), rightDesc)
}

func (ev *evaluation) operand(o tree.Operand) Resolved {
	if o.Ref != "" {
		return ev.value(o.Ref)
	}
	n, ok := ParseNumber(o.Value)
	return Resolved{Raw: o.Value, Number: n, Numeric: ok, Source: SourceLiteral}
}

func describeOperand(o tree.Operand, r Resolved) string {
	if o.Ref == "" {
		return fmt.Sprintf("%q", FormatValue(r.Raw))
	}
	return fmt.Sprintf("%s (%s)", o.Ref, FormatValue(r.Raw))
}

// runActions executes every action entry in order. The condition's value is
// the value of the last entry executed.
func (ev *evaluation) runActions(actions []tree.Action) (any, string) {
	var last any
	var parts []string
	for _, a := range actions {
		for _, entry := range a.NodeIDs {
			r := ref.Parse(entry)
			var v any
			if r.Kind.IsCapability() {
				v = ev.capability(r).value
			} else {
				v = ev.value(entry).Raw
			}
			last = v
			parts = append(parts, fmt.Sprintf("%s = %s", entry, FormatValue(v)))
		}
	}
	if len(parts) == 0 {
		return nil, "nothing"
	}
	return last, strings.Join(parts, ", ")
}
