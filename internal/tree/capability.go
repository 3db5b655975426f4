package tree

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TokenType classifies a formula token.
type TokenType string

const (
	TokenValue    TokenType = "value"
	TokenVariable TokenType = "variable"
	TokenOperator TokenType = "operator"
	TokenLParen   TokenType = "lparen"
	TokenRParen   TokenType = "rparen"
)

// Token is one element of a formula expression.
type Token struct {
	Type  TokenType `json:"type"`
	Value string    `json:"value,omitempty"`
	Name  string    `json:"name,omitempty"`
}

// UnmarshalJSON accepts typed token objects as well as the bare string
// tokens older formulas were saved with ("@value.x", "+", "(", 3).
func (t *Token) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = TokenFromString(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*t = Token{Type: TokenValue, Value: strconv.FormatFloat(f, 'f', -1, 64)}
		return nil
	}

	var raw struct {
		Type  string `json:"type"`
		Value any    `json:"value"`
		Name  string `json:"name"`
		Ref   string `json:"ref"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding token: %w", err)
	}

	t.Type = TokenType(raw.Type)
	t.Name = raw.Name
	switch v := raw.Value.(type) {
	case nil:
		t.Value = ""
	case string:
		t.Value = v
	case float64:
		t.Value = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		t.Value = fmt.Sprint(v)
	}

	switch raw.Type {
	case "ref", "reference":
		t.Type = TokenVariable
	case "number":
		t.Type = TokenValue
	case "paren":
		switch strings.TrimSpace(t.Value) {
		case "(":
			t.Type = TokenLParen
		case ")":
			t.Type = TokenRParen
		}
	}
	if t.Type == TokenVariable && t.Name == "" {
		t.Name = raw.Ref
	}
	return nil
}

// TokenFromString classifies a bare string token.
func TokenFromString(s string) Token {
	s = strings.TrimSpace(s)
	switch s {
	case "+", "-", "*", "/":
		return Token{Type: TokenOperator, Value: s}
	case "(":
		return Token{Type: TokenLParen, Value: s}
	case ")":
		return Token{Type: TokenRParen, Value: s}
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return Token{Type: TokenValue, Value: s}
	}
	return Token{Type: TokenVariable, Name: s}
}

// Formula is an arithmetic expression owned by a node.
type Formula struct {
	ID     string  `json:"id"`
	NodeID string  `json:"nodeId"`
	Name   string  `json:"name"`
	Tokens []Token `json:"tokens"`
}

// Operand is either a reference or a literal value.
type Operand struct {
	Ref   string `json:"ref,omitempty"`
	Value any    `json:"value,omitempty"`
}

// When is a branch predicate.
type When struct {
	Left     Operand  `json:"left"`
	Operator string   `json:"operator,omitempty"`
	Op       string   `json:"op,omitempty"`
	Right    *Operand `json:"right,omitempty"`
}

// Operation returns the predicate operator, accepting "op" as a synonym.
func (w When) Operation() string {
	if w.Operator != "" {
		return w.Operator
	}
	return w.Op
}

// Action invokes the capabilities or nodes listed in NodeIDs.
type Action struct {
	Type    string   `json:"type,omitempty"`
	NodeIDs []string `json:"nodeIds"`
}

// Branch is one if-arm of a condition set.
type Branch struct {
	ID      string   `json:"id,omitempty"`
	Label   string   `json:"label,omitempty"`
	When    When     `json:"when"`
	Actions []Action `json:"actions"`
}

// Fallback runs when no branch matches.
type Fallback struct {
	ID      string   `json:"id,omitempty"`
	Label   string   `json:"label,omitempty"`
	Actions []Action `json:"actions"`
}

// ConditionSet is an ordered list of branches; the first true branch wins.
type ConditionSet struct {
	Branches []Branch `json:"branches"`
	Fallback *Fallback `json:"fallback,omitempty"`
}

// Condition is branching logic owned by a node.
type Condition struct {
	ID           string       `json:"id"`
	NodeID       string       `json:"nodeId"`
	Name         string       `json:"name"`
	ConditionSet ConditionSet `json:"conditionSet"`
}

// TableType is the layout of a lookup table.
type TableType string

const (
	TableColumns TableType = "columns"
	TableMatrix  TableType = "matrix"
	TableLookup  TableType = "lookup"
)

// Names decodes from either a single string or a list of strings.
type Names []string

func (n *Names) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*n = nil
		} else {
			*n = Names{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("decoding names: %w", err)
	}
	*n = many
	return nil
}

// SourceOption configures the comparison and the optional secondary filter.
type SourceOption struct {
	SourceField      string `json:"sourceField,omitempty"`
	ComparisonColumn string `json:"comparisonColumn,omitempty"`
	Operator         string `json:"operator,omitempty"`
	FilterColumn     string `json:"filterColumn,omitempty"`
	FilterOperator   string `json:"filterOperator,omitempty"`
	FilterValueRef   string `json:"filterValueRef,omitempty"`
}

// Selectors name the fields feeding a matrix lookup.
type Selectors struct {
	RowFieldID    string `json:"rowFieldId,omitempty"`
	ColumnFieldID string `json:"columnFieldId,omitempty"`
}

// Lookup describes how a value is read out of a table.
type Lookup struct {
	Enabled            *bool         `json:"enabled,omitempty"`
	ColumnSourceOption *SourceOption `json:"columnSourceOption,omitempty"`
	DisplayColumn      Names         `json:"displayColumn,omitempty"`
	DisplayRow         Names         `json:"displayRow,omitempty"`
	Selectors          *Selectors    `json:"selectors,omitempty"`
}

// IsEnabled treats an absent flag as enabled.
func (l *Lookup) IsEnabled() bool {
	return l != nil && (l.Enabled == nil || *l.Enabled)
}

// TableMeta holds table configuration beyond the cells.
type TableMeta struct {
	Lookup *Lookup `json:"lookup,omitempty"`
}

// Table is a lookup grid owned by a node. When Columns is empty, Rows[0]
// is the header row.
type Table struct {
	ID      string    `json:"id"`
	NodeID  string    `json:"nodeId"`
	Name    string    `json:"name"`
	Type    TableType `json:"type"`
	Columns []string  `json:"columns"`
	Rows    [][]any   `json:"rows"`
	Meta    TableMeta `json:"meta"`
}

// SourceType says where a variable's value comes from.
type SourceType string

const (
	SourceFixed SourceType = "fixed"
	SourceTree  SourceType = "tree"
)

// Variable exposes a node's resolved value under a stable key.
type Variable struct {
	ID            string     `json:"id"`
	NodeID        string     `json:"nodeId"`
	ExposedKey    string     `json:"exposedKey"`
	DisplayName   string     `json:"displayName"`
	SourceType    SourceType `json:"sourceType"`
	SourceRef     string     `json:"sourceRef"`
	Unit          string     `json:"unit,omitempty"`
	Precision     *int       `json:"precision,omitempty"`
	DisplayFormat string     `json:"displayFormat,omitempty"`
}

// Bundle is a flat set of tree records, as imported or produced by a copy.
type Bundle struct {
	Nodes      []Node      `json:"nodes"`
	Formulas   []Formula   `json:"formulas,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	Tables     []Table     `json:"tables,omitempty"`
	Variables  []Variable  `json:"variables,omitempty"`
}
