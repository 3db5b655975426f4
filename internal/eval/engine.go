package eval

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"treebranchleaf/tbl/internal/metrics"
	"treebranchleaf/tbl/internal/ref"
	"treebranchleaf/tbl/internal/tree"
)

const (
	defaultMaxDepth    = 32
	defaultParallelism = 8
)

// Result is the outcome of one evaluate call.
type Result struct {
	Ref         string       `json:"ref"`
	Value       any          `json:"value"`
	Strategy    Strategy     `json:"strategy,omitempty"`
	Explanation string       `json:"explanation,omitempty"`
	Trace       []TraceEntry `json:"trace"`
}

// Warnings returns the warn-level trace entries.
func (r Result) Warnings() []TraceEntry {
	t := Trace{entries: r.Trace}
	return t.Warnings()
}

// Engine evaluates capabilities against a pre-fetched catalog. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	catalog     *tree.Catalog
	logger      *zap.Logger
	metrics     *metrics.Metrics
	maxDepth    int
	parallelism int
	legacy      bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for soft failures.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics enables prometheus observations.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithMaxDepth bounds capability recursion.
func WithMaxDepth(n int) Option { return func(e *Engine) { e.maxDepth = n } }

// WithParallelism bounds EvaluateAll concurrency.
func WithParallelism(n int) Option { return func(e *Engine) { e.parallelism = n } }

// WithLegacyMatching toggles the substring and any-field resolver tiers.
func WithLegacyMatching(on bool) Option { return func(e *Engine) { e.legacy = on } }

// NewEngine creates an engine over catalog.
func NewEngine(catalog *tree.Catalog, opts ...Option) *Engine {
	e := &Engine{
		catalog:     catalog,
		logger:      zap.NewNop(),
		maxDepth:    defaultMaxDepth,
		parallelism: defaultParallelism,
		legacy:      true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.maxDepth <= 0 {
		e.maxDepth = defaultMaxDepth
	}
	if e.parallelism <= 0 {
		e.parallelism = defaultParallelism
	}
	return e
}

// Catalog returns the catalog the engine reads from.
func (e *Engine) Catalog() *tree.Catalog { return e.catalog }

// Evaluate resolves a capability reference (formula, condition or table,
// dispatched on its tag) or a plain node reference. It never fails: problems
// are recorded as warn-level trace entries.
func (e *Engine) Evaluate(capabilityRef string, ectx *Context) Result {
	start := time.Now()
	if ectx == nil {
		ectx = NewContext(nil, nil)
	}
	ev := e.newEvaluation(ectx)

	r := ref.Parse(capabilityRef)
	res := Result{Ref: capabilityRef}
	if r.Kind.IsCapability() {
		out := ev.capability(r)
		res.Value, res.Strategy, res.Explanation = out.value, out.strategy, out.explanation
	} else {
		res.Value = ev.value(capabilityRef).Raw
	}
	res.Trace = ev.trace.Entries()

	warnings := ev.trace.Warnings()
	if e.metrics != nil {
		e.metrics.ObserveEvaluation(r.Kind.String(), time.Since(start).Seconds(), len(warnings))
		for _, w := range warnings {
			e.metrics.IncTraceWarning(w.Source)
		}
	}
	return res
}

// EvaluateAll evaluates independent references in parallel. Each result has
// its own trace. It fails only when ctx is cancelled.
func (e *Engine) EvaluateAll(ctx context.Context, refs []string, ectx *Context) ([]Result, error) {
	results := make([]Result, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, r := range refs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.Evaluate(r, ectx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

type outcome struct {
	value       any
	strategy    Strategy
	explanation string
}

type handler func(ev *evaluation, id string) outcome

// dispatch is the closed set of capability evaluators. It is filled in init
// because the evaluators recurse back through it.
var dispatch map[ref.Kind]handler

func init() {
	dispatch = map[ref.Kind]handler{
		ref.KindFormula:   (*evaluation).formula,
		ref.KindCondition: (*evaluation).condition,
		ref.KindTable:     (*evaluation).table,
	}
}

var kindSource = map[ref.Kind]string{
	ref.KindFormula:   SourceFormula,
	ref.KindCondition: SourceCondition,
	ref.KindTable:     SourceTable,
}

// evaluation is the state of one Evaluate call.
type evaluation struct {
	engine   *Engine
	catalog  *tree.Catalog
	resolver *Resolver
	trace    *Trace
	visiting map[string]bool
	depth    int
}

func (e *Engine) newEvaluation(ectx *Context) *evaluation {
	trace := &Trace{}
	return &evaluation{
		engine:   e,
		catalog:  e.catalog,
		resolver: NewResolver(ectx, trace, e.legacy).WithLabels(e.nodeLabel),
		trace:    trace,
		visiting: make(map[string]bool),
	}
}

func (e *Engine) nodeLabel(id string) string {
	if n := e.catalog.Node(id); n != nil {
		return n.Label
	}
	return ""
}

// enter marks key as in progress. It fails on a cycle or when the depth
// limit is reached.
func (ev *evaluation) enter(key string) bool {
	if ev.visiting[key] {
		ev.trace.warn(key, SourceGuard, "cycle detected")
		ev.engine.logger.Warn("capability cycle", zap.String("ref", key))
		return false
	}
	if ev.depth >= ev.engine.maxDepth {
		ev.trace.warn(key, SourceGuard, "recursion depth limit reached")
		ev.engine.logger.Warn("capability depth limit", zap.String("ref", key), zap.Int("max_depth", ev.engine.maxDepth))
		return false
	}
	ev.visiting[key] = true
	ev.depth++
	return true
}

func (ev *evaluation) leave(key string) {
	delete(ev.visiting, key)
	ev.depth--
}

// capability runs the evaluator for r. An id that is not a capability of that
// kind but names a node resolves to the node's active capability.
func (ev *evaluation) capability(r ref.Ref) outcome {
	h, ok := dispatch[r.Kind]
	if !ok {
		ev.trace.warn(r.String(), SourceGuard, "not a capability reference")
		return outcome{}
	}
	id := ev.capabilityID(r)
	if id == "" {
		ev.trace.warn(r.String(), kindSource[r.Kind], "unknown "+r.Kind.String())
		return outcome{}
	}

	key := ref.Of(r.Kind, id).String()
	if !ev.enter(key) {
		return outcome{}
	}
	defer ev.leave(key)

	out := h(ev, id)
	ev.trace.add(TraceEntry{Ref: key, Source: kindSource[r.Kind], Candidates: 1, Value: out.value})
	return out
}

func (ev *evaluation) capabilityID(r ref.Ref) string {
	if ev.catalog.Owner(r) != "" {
		return r.ID
	}
	if n := ev.catalog.Node(r.ID); n != nil {
		if id := n.ActiveID(r.Kind); id != nil && ev.catalog.Owner(ref.Of(r.Kind, *id)) != "" {
			return *id
		}
	}
	return ""
}

// value resolves any reference appearing in a formula token, a predicate or
// an action: capabilities are evaluated, then variables, then nodes carrying
// an active capability, then the field-value cascade.
func (ev *evaluation) value(refStr string) Resolved {
	r := ref.Parse(refStr)
	if r.Kind.IsCapability() {
		return fromOutcome(ev.capability(r), kindSource[r.Kind])
	}
	if res, ok := ev.resolver.Variable(refStr); ok {
		return res
	}
	if n := ev.catalog.Node(r.ID); n != nil {
		if capRef, ok := ev.nodeCapability(n); ok {
			return fromOutcome(ev.capability(capRef), kindSource[capRef.Kind])
		}
	}
	if v := ev.catalog.VariableByKey(r.ID); v != nil && v.SourceRef != "" && v.SourceRef != refStr {
		key := "variable:" + v.ID
		if ev.enter(key) {
			defer ev.leave(key)
			return ev.value(v.SourceRef)
		}
		return Resolved{Source: SourceGuard}
	}
	return ev.resolver.Resolve(refStr)
}

// nodeCapability picks what runs when node n is read: its variable's
// capability sourceRef first, then the active capability flags.
func (ev *evaluation) nodeCapability(n *tree.Node) (ref.Ref, bool) {
	if v := ev.catalog.VariableForNode(n.ID); v != nil && v.SourceType == tree.SourceTree {
		if r := ref.Parse(v.SourceRef); r.Kind.IsCapability() && ev.capabilityID(r) != "" {
			return r, true
		}
	}
	return n.Active()
}

func fromOutcome(out outcome, source string) Resolved {
	n, ok := ParseNumber(out.value)
	return Resolved{Raw: out.value, Number: n, Numeric: ok, Source: source}
}

func (ev *evaluation) formula(id string) outcome {
	f := ev.catalog.Formula(id)
	v, strategy := EvaluateTokens(f.Tokens, ev.value, ev.trace, ref.Of(ref.KindFormula, id).String())
	return outcome{value: v, strategy: strategy}
}
