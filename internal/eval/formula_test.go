package eval

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treebranchleaf/tbl/internal/tree"
)

func tokens(parts ...string) []tree.Token {
	out := make([]tree.Token, len(parts))
	for i, p := range parts {
		out[i] = tree.TokenFromString(p)
	}
	return out
}

func TestEvaluateTokens(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]any
		tokens   []tree.Token
		want     any
		strategy Strategy
		warnings int
	}{
		{"direct value keeps raw", map[string]any{"a": "7.5"}, tokens("a"), "7.5", StrategyDirectValue, 0},
		{"direct value non numeric", map[string]any{"a": "Oui"}, tokens("a"), "Oui", StrategyDirectValue, 0},
		{"zero variable is calculated", map[string]any{"a": "0"}, tokens("a"), 0.0, StrategyFullCalculation, 0},
		{"precedence", nil, tokens("2", "+", "3", "*", "4"), 14.0, StrategyFullCalculation, 0},
		{"parentheses", nil, tokens("(", "2", "+", "3", ")", "*", "4"), 20.0, StrategyFullCalculation, 0},
		{"left associative", nil, tokens("10", "-", "4", "-", "3"), 3.0, StrategyFullCalculation, 0},
		{"unary minus", nil, tokens("-", "3", "+", "5"), 2.0, StrategyFullCalculation, 0},
		{"comma decimal variable", map[string]any{"a": "2,5"}, tokens("a", "*", "2"), 5.0, StrategyFullCalculation, 0},
		{"division by zero yields zero", nil, tokens("10", "/", "0", "+", "1"), 1.0, StrategyFullCalculation, 1},
		{"malformed", nil, tokens("2", "+"), 0.0, StrategyFullCalculation, 1},
		{"unbalanced", nil, tokens("(", "2", "+", "3"), 0.0, StrategyFullCalculation, 1},
		{"unresolved variable counts as zero", nil, tokens("missing", "+", "1"), 1.0, StrategyFullCalculation, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trace := &Trace{}
			r := NewResolver(NewContext(tt.fields, nil), trace, false)
			got, strategy := EvaluateTokens(tt.tokens, r.Resolve, trace, "node-formula:f")
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.strategy, strategy)
			assert.Len(t, trace.Warnings(), tt.warnings)
		})
	}
}

func TestEvaluateTokensResolvesEachVariableOnce(t *testing.T) {
	calls := map[string]int{}
	resolve := func(name string) Resolved {
		calls[name]++
		return Resolved{Raw: 2.0, Number: 2, Numeric: true, Source: SourceField}
	}
	got, _ := EvaluateTokens(tokens("a", "*", "b", "+", "a"), resolve, &Trace{}, "f")
	assert.Equal(t, 6.0, got)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, calls)
}

func TestEvaluateStoredParenTokens(t *testing.T) {
	stored := `[{"type":"paren","value":"("},{"type":"number","value":2},{"type":"operator","value":"+"},
		{"type":"number","value":3},{"type":"paren","value":")"},{"type":"operator","value":"*"},{"type":"number","value":4}]`
	var toks []tree.Token
	require.NoError(t, json.Unmarshal([]byte(stored), &toks))

	trace := &Trace{}
	got, strategy := EvaluateTokens(toks, nil, trace, "node-formula:f")
	assert.Equal(t, 20.0, got)
	assert.Equal(t, StrategyFullCalculation, strategy)
	assert.Empty(t, trace.Warnings())
}

func TestEvaluateTokensMultiplicationAliases(t *testing.T) {
	for _, op := range []string{"*", "x", "×"} {
		toks := []tree.Token{
			{Type: tree.TokenValue, Value: "3"},
			{Type: tree.TokenOperator, Value: op},
			{Type: tree.TokenValue, Value: "4"},
		}
		got, _ := EvaluateTokens(toks, nil, &Trace{}, "f")
		require.Equal(t, 12.0, got, op)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		op          string
		left, right any
		want, known bool
	}{
		{"equals", "12", 12.0, true, true},
		{"==", "abc", " abc ", true, true},
		{"equals", "01", "1", false, true},
		{"equals", "1,5", 1.5, false, true},
		{"ne", "01", 1.0, true, true},
		{"!=", "a", "b", true, true},
		{"gt", "3,5", 3, true, true},
		{"lte", 2, "2", true, true},
		{"lessThan", "abc", 1, true, true},
		{"isEmpty", "  ", nil, true, true},
		{"isNotEmpty", "x", nil, true, true},
		{"contains", "roof tile", "tile", true, true},
		{"between", 1, 2, false, false},
	}
	for _, tt := range tests {
		got, known := Compare(tt.op, tt.left, tt.right)
		if got != tt.want || known != tt.known {
			t.Errorf("Compare(%q, %v, %v) = %v, %v; want %v, %v", tt.op, tt.left, tt.right, got, known, tt.want, tt.known)
		}
	}
}
