package eval

import (
	"strings"

	"treebranchleaf/tbl/internal/ref"
)

// Resolved is the outcome of resolving a reference.
type Resolved struct {
	Raw     any
	Number  float64
	Numeric bool
	Source  string
}

// Found reports whether anything other than the default was used.
func (r Resolved) Found() bool { return r.Source != SourceDefault }

type candidate struct {
	raw     any
	num     float64
	numeric bool
}

func newCandidate(raw any) candidate {
	n, ok := ParseNumber(raw)
	return candidate{raw: raw, num: n, numeric: ok}
}

// tier is one step of the resolution cascade. Exact tiers stop the cascade on
// a non-numeric hit; fuzzy tiers only ever contribute numeric values.
type tier struct {
	source string
	exact  bool
	fuzzy  bool
	find   func(refStr, id string) []candidate
}

// Resolver looks a reference up in a Context through a prioritized cascade.
type Resolver struct {
	ctx    *Context
	trace  *Trace
	legacy bool
	tiers  []tier
	label  func(id string) string
}

// NewResolver builds a resolver writing to trace. legacy enables the
// substring and any-field tiers.
func NewResolver(ctx *Context, trace *Trace, legacy bool) *Resolver {
	r := &Resolver{ctx: ctx, trace: trace, legacy: legacy}
	r.tiers = []tier{
		{source: SourceVariable, exact: true, find: r.fromVariables},
		{source: SourceField, exact: true, find: r.fromField},
		{source: SourceFieldSuffix, exact: true, find: r.fromFieldSuffix},
		{source: SourceFieldContains, fuzzy: true, find: r.fromFieldContains},
		{source: SourceMirror, find: r.fromMirrors},
		{source: SourceAnyField, fuzzy: true, find: r.fromAnyField},
	}
	return r
}

// WithLabels sets the node label lookup used by the mirror tier. Mirror keys
// carry labels, so a node id reference reaches them through its label.
func (r *Resolver) WithLabels(label func(id string) string) *Resolver {
	r.label = label
	return r
}

// Resolve walks the cascade and never fails; an unresolved reference yields
// the default (nil raw, zero number) with a warning in the trace.
func (r *Resolver) Resolve(refStr string) Resolved {
	id := ref.Parse(refStr).ID
	var fallback *Resolved

	for _, t := range r.tiers {
		if t.fuzzy && !r.legacy {
			continue
		}
		cands := nonEmpty(t.find(refStr, id))
		if len(cands) == 0 {
			continue
		}
		if best, ok := pickNumeric(cands); ok {
			r.trace.add(TraceEntry{Ref: refStr, Source: t.source, Candidates: len(cands), Value: best.raw})
			return Resolved{Raw: best.raw, Number: best.num, Numeric: true, Source: t.source}
		}
		if t.exact {
			r.trace.add(TraceEntry{Ref: refStr, Source: t.source, Candidates: len(cands), Value: cands[0].raw})
			return Resolved{Raw: cands[0].raw, Source: t.source}
		}
		if fallback == nil && !t.fuzzy {
			fallback = &Resolved{Raw: cands[0].raw, Source: t.source}
		}
	}

	if fallback != nil {
		r.trace.add(TraceEntry{Ref: refStr, Source: fallback.Source, Candidates: 1, Value: fallback.Raw})
		return *fallback
	}
	r.trace.add(TraceEntry{Ref: refStr, Source: SourceDefault, Level: LevelWarn, Message: "unresolved reference"})
	return Resolved{Source: SourceDefault}
}

// Variable returns the variableMap entry for refStr, if any.
func (r *Resolver) Variable(refStr string) (Resolved, bool) {
	cands := nonEmpty(r.fromVariables(refStr, ref.Parse(refStr).ID))
	if len(cands) == 0 {
		return Resolved{}, false
	}
	best, ok := pickNumeric(cands)
	if !ok {
		best = cands[0]
	}
	r.trace.add(TraceEntry{Ref: refStr, Source: SourceVariable, Candidates: len(cands), Value: best.raw})
	return Resolved{Raw: best.raw, Number: best.num, Numeric: best.numeric, Source: SourceVariable}, true
}

func (r *Resolver) fromVariables(refStr, id string) []candidate {
	var out []candidate
	for _, key := range distinct(refStr, id) {
		vv, ok := r.ctx.VariableMap[key]
		if !ok {
			continue
		}
		c := newCandidate(vv.Raw)
		if vv.Raw == nil {
			c = candidate{raw: vv.Numeric, num: vv.Numeric, numeric: true}
		}
		out = append(out, c)
	}
	return out
}

func (r *Resolver) fromField(refStr, id string) []candidate {
	var out []candidate
	for _, key := range distinct(refStr, id) {
		if v, ok := r.ctx.FieldValues[key]; ok {
			out = append(out, newCandidate(v))
		}
	}
	return out
}

func (r *Resolver) fromFieldSuffix(_, id string) []candidate {
	if v, ok := r.ctx.FieldValues[id+"_field"]; ok {
		return []candidate{newCandidate(v)}
	}
	return nil
}

func (r *Resolver) fromFieldContains(_, id string) []candidate {
	if id == "" {
		return nil
	}
	var out []candidate
	for _, k := range sortedFieldKeys(r.ctx.FieldValues) {
		if k == id || strings.HasPrefix(k, MirrorPrefix) || !strings.Contains(k, id) {
			continue
		}
		out = append(out, newCandidate(r.ctx.FieldValues[k]))
	}
	return out
}

func (r *Resolver) fromMirrors(_, id string) []candidate {
	keys := []string{}
	if r.label != nil && id != "" {
		keys = append(keys, NormalizeLabel(r.label(id)))
	}
	keys = append(keys, NormalizeLabel(id))

	for _, key := range keys {
		if key == "" {
			continue
		}
		var out []candidate
		for _, v := range r.ctx.Mirrors[key] {
			out = append(out, newCandidate(v))
		}
		if len(nonEmpty(out)) > 0 {
			return out
		}
	}
	return nil
}

func (r *Resolver) fromAnyField(_, _ string) []candidate {
	var out []candidate
	for _, k := range sortedFieldKeys(r.ctx.FieldValues) {
		if strings.HasSuffix(k, "_field") {
			out = append(out, newCandidate(r.ctx.FieldValues[k]))
		}
	}
	return out
}

func distinct(a, b string) []string {
	if a == b || b == "" {
		return []string{a}
	}
	return []string{a, b}
}

func nonEmpty(cands []candidate) []candidate {
	out := cands[:0:0]
	for _, c := range cands {
		if !isEmpty(c.raw) {
			out = append(out, c)
		}
	}
	return out
}

// pickNumeric returns the numeric candidate with the longest string form.
func pickNumeric(cands []candidate) (candidate, bool) {
	var best candidate
	found := false
	for _, c := range cands {
		if !c.numeric {
			continue
		}
		if !found || len(FormatValue(c.raw)) > len(FormatValue(best.raw)) {
			best = c
			found = true
		}
	}
	return best, found
}
