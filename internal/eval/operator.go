package eval

import "strings"

// Canonical operator names.
const (
	OpEquals         = "equals"
	OpNotEquals      = "notEquals"
	OpGreaterThan    = "greaterThan"
	OpGreaterOrEqual = "greaterOrEqual"
	OpLessThan       = "lessThan"
	OpLessOrEqual    = "lessOrEqual"
	OpIsEmpty        = "isEmpty"
	OpIsNotEmpty     = "isNotEmpty"
	OpContains       = "contains"
)

var operatorAliases = map[string]string{
	"equals": OpEquals, "eq": OpEquals, "==": OpEquals, "=": OpEquals,
	"notequals": OpNotEquals, "ne": OpNotEquals, "!=": OpNotEquals, "<>": OpNotEquals,
	"greaterthan": OpGreaterThan, "gt": OpGreaterThan, ">": OpGreaterThan,
	"greaterorequal": OpGreaterOrEqual, "gte": OpGreaterOrEqual, ">=": OpGreaterOrEqual,
	"lessthan": OpLessThan, "lt": OpLessThan, "<": OpLessThan,
	"lessorequal": OpLessOrEqual, "lte": OpLessOrEqual, "<=": OpLessOrEqual,
	"isempty": OpIsEmpty, "isnotempty": OpIsNotEmpty,
	"contains": OpContains,
}

// NormalizeOperator maps an operator or one of its aliases to its canonical
// name. Unknown operators return "".
func NormalizeOperator(op string) string {
	return operatorAliases[strings.ToLower(strings.TrimSpace(op))]
}

// IsUnary reports operators that ignore their right operand.
func IsUnary(op string) bool {
	op = NormalizeOperator(op)
	return op == OpIsEmpty || op == OpIsNotEmpty
}

// Compare applies op. Equality compares string forms (numbers in canonical
// form), ordering coerces both sides to numbers. The second result is false
// for unknown operators.
func Compare(op string, left, right any) (bool, bool) {
	switch NormalizeOperator(op) {
	case OpEquals:
		return valuesEqual(left, right), true
	case OpNotEquals:
		return !valuesEqual(left, right), true
	case OpGreaterThan:
		l, r := numberOrZero(left), numberOrZero(right)
		return l > r, true
	case OpGreaterOrEqual:
		l, r := numberOrZero(left), numberOrZero(right)
		return l >= r, true
	case OpLessThan:
		l, r := numberOrZero(left), numberOrZero(right)
		return l < r, true
	case OpLessOrEqual:
		l, r := numberOrZero(left), numberOrZero(right)
		return l <= r, true
	case OpIsEmpty:
		return isEmpty(left), true
	case OpIsNotEmpty:
		return !isEmpty(left), true
	case OpContains:
		return strings.Contains(FormatValue(left), FormatValue(right)), true
	}
	return false, false
}

// valuesEqual compares string forms, so option labels and numbers share one
// rule: 12.0 equals "12" but "01" does not equal "1".
func valuesEqual(left, right any) bool {
	return strings.TrimSpace(FormatValue(left)) == strings.TrimSpace(FormatValue(right))
}

func numberOrZero(v any) float64 {
	n, _ := ParseNumber(v)
	return n
}
