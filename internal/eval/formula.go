package eval

import (
	"math"

	"treebranchleaf/tbl/internal/tree"
)

// Strategy is how a formula was computed.
type Strategy string

const (
	StrategyDirectValue     Strategy = "DIRECT_VALUE"
	StrategyFullCalculation Strategy = "FULL_CALCULATION"
)

// EvaluateTokens computes a token sequence. Each variable token is resolved
// exactly once through resolve. A sequence with no operators and a single
// non-zero variable returns that variable's raw value untouched.
func EvaluateTokens(tokens []tree.Token, resolve func(name string) Resolved, trace *Trace, label string) (any, Strategy) {
	operands := make([]Resolved, len(tokens))
	vars, values, ops := 0, 0, 0
	direct := -1
	for i, tok := range tokens {
		switch tok.Type {
		case tree.TokenVariable:
			vars++
			direct = i
			operands[i] = resolve(tok.Name)
		case tree.TokenValue:
			values++
		case tree.TokenOperator:
			ops++
		}
	}

	if ops == 0 && values == 0 && vars == 1 && isNonZero(operands[direct]) {
		return operands[direct].Raw, StrategyDirectValue
	}

	p := &formulaParser{tokens: tokens, operands: operands, trace: trace, label: label}
	v, ok := p.parseAddSub()
	if !ok || p.pos < len(tokens) {
		trace.warn(label, SourceFormula, "malformed expression")
		return 0.0, StrategyFullCalculation
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		trace.warn(label, SourceFormula, "non-finite result")
		return 0.0, StrategyFullCalculation
	}
	return v, StrategyFullCalculation
}

func isNonZero(r Resolved) bool {
	if r.Numeric {
		return r.Number != 0
	}
	return !isEmpty(r.Raw)
}

type formulaParser struct {
	tokens   []tree.Token
	operands []Resolved
	pos      int
	trace    *Trace
	label    string
}

func (p *formulaParser) peekOperator(symbols ...string) (string, bool) {
	if p.pos >= len(p.tokens) || p.tokens[p.pos].Type != tree.TokenOperator {
		return "", false
	}
	op := p.tokens[p.pos].Value
	for _, s := range symbols {
		if op == s {
			return op, true
		}
	}
	return "", false
}

func (p *formulaParser) parseAddSub() (float64, bool) {
	val, ok := p.parseMulDiv()
	if !ok {
		return 0, false
	}
	for {
		op, found := p.peekOperator("+", "-")
		if !found {
			break
		}
		p.pos++
		right, ok := p.parseMulDiv()
		if !ok {
			return 0, false
		}
		if op == "+" {
			val += right
		} else {
			val -= right
		}
	}
	return val, true
}

func (p *formulaParser) parseMulDiv() (float64, bool) {
	val, ok := p.parseFactor()
	if !ok {
		return 0, false
	}
	for {
		op, found := p.peekOperator("*", "/", "x", "×", "÷")
		if !found {
			break
		}
		p.pos++
		right, ok := p.parseFactor()
		if !ok {
			return 0, false
		}
		switch op {
		case "/", "÷":
			if right == 0 {
				p.trace.warn(p.label, SourceFormula, "division by zero")
				val = 0
				continue
			}
			val /= right
		default:
			val *= right
		}
	}
	return val, true
}

func (p *formulaParser) parseFactor() (float64, bool) {
	if op, found := p.peekOperator("+", "-"); found {
		p.pos++
		v, ok := p.parseFactor()
		if op == "-" {
			v = -v
		}
		return v, ok
	}
	return p.parsePrimary()
}

func (p *formulaParser) parsePrimary() (float64, bool) {
	if p.pos >= len(p.tokens) {
		return 0, false
	}
	i := p.pos
	tok := p.tokens[i]
	switch tok.Type {
	case tree.TokenLParen:
		p.pos++
		v, ok := p.parseAddSub()
		if !ok || p.pos >= len(p.tokens) || p.tokens[p.pos].Type != tree.TokenRParen {
			return 0, false
		}
		p.pos++
		return v, true
	case tree.TokenValue:
		p.pos++
		n, ok := ParseNumber(tok.Value)
		if !ok {
			p.trace.warn(p.label, SourceFormula, "non-numeric constant "+tok.Value)
		}
		return n, true
	case tree.TokenVariable:
		p.pos++
		return p.operands[i].Number, true
	}
	return 0, false
}
