// Package variable binds exposed keys to node values and keeps the
// back-links between nodes and the capabilities that read them.
package variable

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"treebranchleaf/tbl/internal/eval"
	"treebranchleaf/tbl/internal/ref"
	"treebranchleaf/tbl/internal/tree"
)

// Binder indexes the variables of a catalog.
type Binder struct {
	catalog *tree.Catalog
	logger  *zap.Logger
}

// Option configures a Binder.
type Option func(*Binder)

// WithLogger sets the binder's logger.
func WithLogger(l *zap.Logger) Option { return func(b *Binder) { b.logger = l } }

// New creates a binder over catalog.
func New(catalog *tree.Catalog, opts ...Option) *Binder {
	b := &Binder{catalog: catalog, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	return b
}

// Lookup returns the node id and sourceRef bound to an exposed key.
func (b *Binder) Lookup(exposedKey string) (nodeID, sourceRef string, ok bool) {
	v := b.catalog.VariableByKey(exposedKey)
	if v == nil {
		return "", "", false
	}
	return v.NodeID, v.SourceRef, true
}

// Binding is one resolved variable.
type Binding struct {
	Variable *tree.Variable
	Result   eval.Result
}

// Resolve evaluates every variable and returns the variable map keyed by
// exposed key. Variables are evaluated dependencies first (ties broken by
// exposed key) and each result is visible to the variables after it.
func (b *Binder) Resolve(engine *eval.Engine, ectx *eval.Context) (map[string]eval.VariableValue, []Binding) {
	if ectx == nil {
		ectx = eval.NewContext(nil, nil)
	}
	vars := make(map[string]eval.VariableValue, len(ectx.VariableMap))
	for k, v := range ectx.VariableMap {
		vars[k] = v
	}

	var bindings []Binding
	for _, v := range b.order() {
		if v.ExposedKey == "" {
			continue
		}
		source := v.SourceRef
		if v.SourceType == tree.SourceFixed || source == "" {
			source = v.NodeID
		}
		res := engine.Evaluate(source, ectx.WithVariables(vars))
		n, _ := eval.ParseNumber(res.Value)
		vars[v.ExposedKey] = eval.VariableValue{Raw: res.Value, Numeric: n}
		bindings = append(bindings, Binding{Variable: v, Result: res})

		if w := res.Warnings(); len(w) > 0 {
			b.logger.Debug("variable resolved with warnings",
				zap.String("key", v.ExposedKey),
				zap.String("source", source),
				zap.Int("warnings", len(w)))
		}
	}
	return vars, bindings
}

// order sorts variables so that a variable comes after the variables its
// source reads. Cycles are broken at the first variable revisited.
func (b *Binder) order() []*tree.Variable {
	all := b.catalog.Variables()
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].ExposedKey != all[j].ExposedKey {
			return all[i].ExposedKey < all[j].ExposedKey
		}
		return all[i].ID < all[j].ID
	})

	state := make(map[string]int) // 1 visiting, 2 done
	out := make([]*tree.Variable, 0, len(all))
	var visit func(v *tree.Variable)
	visit = func(v *tree.Variable) {
		if state[v.ID] != 0 {
			return
		}
		state[v.ID] = 1
		for _, dep := range b.dependencies(v) {
			visit(dep)
		}
		state[v.ID] = 2
		out = append(out, v)
	}
	for _, v := range all {
		visit(v)
	}
	return out
}

// dependencies returns the other variables read by v's source capability.
func (b *Binder) dependencies(v *tree.Variable) []*tree.Variable {
	src := ref.Parse(v.SourceRef)
	if !src.Kind.IsCapability() {
		return nil
	}
	var deps []*tree.Variable
	for _, r := range References(b.catalog, src) {
		if r.Kind.IsCapability() {
			continue
		}
		dep := b.catalog.VariableByKey(r.ID)
		if dep == nil {
			dep = b.catalog.VariableForNode(r.ID)
		}
		if dep != nil && dep.ID != v.ID {
			deps = append(deps, dep)
		}
	}
	return deps
}

// Violation is a broken variable binding.
type Violation struct {
	VariableID string `json:"variableId"`
	Rule       string `json:"rule"`
	Message    string `json:"message"`
}

// Validation rules.
const (
	RuleMissingNode     = "missing-node"
	RuleDuplicateKey    = "duplicate-key"
	RuleMissingSource   = "missing-source"
	RuleOwnerMismatch   = "owner-mismatch"
	RuleEmptyExposedKey = "empty-exposed-key"
	RuleUnknownSource   = "unknown-source-type"
)

// Validate checks the linking contract: a tree variable pointing at a
// capability needs that capability to exist and to share the variable's
// node. Exposed keys must be unique.
func (b *Binder) Validate() []Violation {
	var out []Violation
	seen := make(map[string]string)
	for _, v := range b.catalog.Variables() {
		add := func(rule, format string, args ...any) {
			out = append(out, Violation{VariableID: v.ID, Rule: rule, Message: fmt.Sprintf(format, args...)})
		}

		if b.catalog.Node(v.NodeID) == nil {
			add(RuleMissingNode, "node %s does not exist", v.NodeID)
		}
		switch {
		case v.ExposedKey == "":
			add(RuleEmptyExposedKey, "variable has no exposed key")
		case seen[v.ExposedKey] != "":
			add(RuleDuplicateKey, "exposed key %q already used by %s", v.ExposedKey, seen[v.ExposedKey])
		default:
			seen[v.ExposedKey] = v.ID
		}

		switch v.SourceType {
		case tree.SourceFixed, "":
			continue
		case tree.SourceTree:
		default:
			add(RuleUnknownSource, "unknown source type %q", v.SourceType)
			continue
		}
		if v.SourceRef == "" {
			continue
		}
		src := ref.Parse(v.SourceRef)
		if !src.Kind.IsCapability() {
			if !b.catalog.Exists(src) {
				add(RuleMissingSource, "source %s does not exist", v.SourceRef)
			}
			continue
		}
		owner := b.catalog.Owner(src)
		switch {
		case owner == "":
			add(RuleMissingSource, "%s %s does not exist", src.Kind, src.ID)
		case owner != v.NodeID:
			add(RuleOwnerMismatch, "%s %s belongs to node %s, variable belongs to %s", src.Kind, src.ID, owner, v.NodeID)
		}
	}
	return out
}
