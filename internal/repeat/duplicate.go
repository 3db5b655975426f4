package repeat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"treebranchleaf/tbl/internal/metrics"
	"treebranchleaf/tbl/internal/ref"
	"treebranchleaf/tbl/internal/tree"
	"treebranchleaf/tbl/internal/variable"
)

const (
	defaultMaxAttempts = 3
	maxSuffixProbes    = 1000
)

// Duplicator copies template subtrees. Copies of the same template are
// serialized; the suffix computation and the writes share one transaction.
type Duplicator struct {
	store        Store
	logger       *zap.Logger
	metrics      *metrics.Metrics
	maxAttempts  int
	suffixLabels bool
	now          func() time.Time
	locks        *keyedMutex
}

// Option configures a Duplicator.
type Option func(*Duplicator)

// WithLogger sets the logger for retries and completed copies.
func WithLogger(l *zap.Logger) Option { return func(d *Duplicator) { d.logger = l } }

// WithMetrics enables prometheus observations.
func WithMetrics(m *metrics.Metrics) Option { return func(d *Duplicator) { d.metrics = m } }

// WithMaxAttempts bounds how often a copy is retried after a collision or a
// busy store.
func WithMaxAttempts(n int) Option { return func(d *Duplicator) { d.maxAttempts = n } }

// WithSuffixLabels toggles the -N suffix on copied labels and display names.
func WithSuffixLabels(on bool) Option { return func(d *Duplicator) { d.suffixLabels = on } }

// WithClock sets the time source for created_at and updated_at.
func WithClock(now func() time.Time) Option { return func(d *Duplicator) { d.now = now } }

// NewDuplicator creates a duplicator writing to store.
func NewDuplicator(store Store, opts ...Option) *Duplicator {
	d := &Duplicator{
		store:        store,
		logger:       zap.NewNop(),
		maxAttempts:  defaultMaxAttempts,
		suffixLabels: true,
		now:          time.Now,
		locks:        newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = defaultMaxAttempts
	}
	return d
}

// Counts tallies created or removed entities per kind.
type Counts struct {
	Nodes      int `json:"nodes"`
	Formulas   int `json:"formulas"`
	Conditions int `json:"conditions"`
	Tables     int `json:"tables"`
	Variables  int `json:"variables"`
}

func countBundle(b tree.Bundle) Counts {
	return Counts{
		Nodes:      len(b.Nodes),
		Formulas:   len(b.Formulas),
		Conditions: len(b.Conditions),
		Tables:     len(b.Tables),
		Variables:  len(b.Variables),
	}
}

// Result describes a completed copy.
type Result struct {
	TemplateRootID string            `json:"templateRootId"`
	ParentID       string            `json:"parentId"`
	Suffix         int               `json:"suffix"`
	RootID         string            `json:"rootId"`
	IDMap          map[string]string `json:"idMap"`
	CreatedNodeIDs []string          `json:"createdNodeIds"`
	Created        Counts            `json:"created"`
	Relinked       []string          `json:"relinked,omitempty"`
}

// Duplicate copies the subtree rooted at templateRootID under parentID with
// the next free suffix. It is all or nothing: on error nothing is written.
// Id collisions detected at write time, and a store kept busy by another
// writer, are retried with a fresh suffix.
func (d *Duplicator) Duplicate(ctx context.Context, templateRootID, parentID string) (*Result, error) {
	unlock := d.locks.Lock(templateRootID)
	defer unlock()

	start := time.Now()
	var res *Result
	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err = d.store.WithTx(ctx, func(tx Tx) error {
			var txErr error
			res, txErr = d.duplicate(ctx, tx, templateRootID, parentID)
			return txErr
		})
		if !retryable(err) {
			break
		}
		d.logger.Warn("copy conflicted with another writer, retrying",
			zap.String("template", templateRootID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	if err != nil {
		d.observe(outcome(err), start)
		return nil, fmt.Errorf("duplicating %s: %w", templateRootID, err)
	}
	d.observe("success", start)
	if d.metrics != nil {
		d.metrics.AddDuplicated("node", res.Created.Nodes)
		d.metrics.AddDuplicated("formula", res.Created.Formulas)
		d.metrics.AddDuplicated("condition", res.Created.Conditions)
		d.metrics.AddDuplicated("table", res.Created.Tables)
		d.metrics.AddDuplicated("variable", res.Created.Variables)
	}
	d.logger.Info("subtree duplicated",
		zap.String("template", templateRootID),
		zap.String("root", res.RootID),
		zap.Int("suffix", res.Suffix),
		zap.Int("nodes", res.Created.Nodes))
	return res, nil
}

func (d *Duplicator) observe(result string, start time.Time) {
	if d.metrics != nil {
		d.metrics.ObserveDuplication(result, time.Since(start).Seconds())
	}
}

func retryable(err error) bool {
	return errors.Is(err, ErrIDCollision) || errors.Is(err, ErrBusy)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrTemplateSuffixed), errors.Is(err, ErrDanglingReference):
		return "rejected"
	case errors.Is(err, ErrIDCollision):
		return "collision"
	case errors.Is(err, ErrBusy):
		return "busy"
	}
	return "error"
}

func (d *Duplicator) duplicate(ctx context.Context, tx Tx, templateRootID, parentID string) (*Result, error) {
	// 1. collect
	root, err := tx.FindNode(ctx, templateRootID)
	if err != nil {
		return nil, fmt.Errorf("loading template root: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("template root %s: %w", templateRootID, ErrNotFound)
	}
	if ref.HasSuffix(root.ID) {
		return nil, fmt.Errorf("template root %s: %w", root.ID, ErrTemplateSuffixed)
	}
	parent, err := tx.FindNode(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("loading parent: %w", err)
	}
	if parent == nil {
		return nil, fmt.Errorf("parent %s: %w", parentID, ErrNotFound)
	}

	// Copies of nested repeaters are instances, not template.
	nodes, err := collectSubtree(ctx, tx, root, func(n *tree.Node) bool { return n.Metadata.IsCopy() })
	if err != nil {
		return nil, err
	}
	owned, err := tx.FindOwned(ctx, nodeIDs(nodes))
	if err != nil {
		return nil, fmt.Errorf("loading capabilities: %w", err)
	}
	template := owned
	template.Nodes = nodes
	if id, ok := firstSuffixed(template); ok {
		return nil, fmt.Errorf("template entity %s: %w", id, ErrTemplateSuffixed)
	}

	// 2. allocate
	siblings, err := tx.FindChildren(ctx, parent.ID)
	if err != nil {
		return nil, fmt.Errorf("listing siblings: %w", err)
	}
	p, err := d.allocate(ctx, tx, template, nextSuffix(root.ID, siblings))
	if err != nil {
		return nil, err
	}
	if err := p.check(ctx, tx, template); err != nil {
		return nil, err
	}

	// 3-4, 6. create
	repeaterID := deref(root.ParentID)
	for _, id := range parent.RepeaterTemplateNodeIDs {
		if id == root.ID {
			repeaterID = parent.ID
		}
	}
	copied, err := p.build(template, copyOptions{
		rootID:       root.ID,
		parentID:     parent.ID,
		order:        nextOrder(siblings),
		repeaterID:   repeaterID,
		suffixLabels: d.suffixLabels,
		now:          d.now().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}
	if err := create(ctx, tx, copied); err != nil {
		return nil, err
	}

	// 5. re-link
	relinked, err := relink(ctx, tx, copied)
	if err != nil {
		return nil, err
	}

	return &Result{
		TemplateRootID: root.ID,
		ParentID:       parent.ID,
		Suffix:         p.suffix,
		RootID:         p.nodes[root.ID],
		IDMap:          p.idMap(),
		CreatedNodeIDs: nodeIDs(copied.Nodes),
		Created:        countBundle(copied),
		Relinked:       relinked,
	}, nil
}

func firstSuffixed(b tree.Bundle) (string, bool) {
	var ids []string
	for _, n := range b.Nodes {
		ids = append(ids, n.ID)
	}
	for _, f := range b.Formulas {
		ids = append(ids, f.ID)
	}
	for _, c := range b.Conditions {
		ids = append(ids, c.ID)
	}
	for _, t := range b.Tables {
		ids = append(ids, t.ID)
	}
	for _, v := range b.Variables {
		ids = append(ids, v.ID)
	}
	for _, id := range ids {
		if ref.HasSuffix(id) {
			return id, true
		}
	}
	return "", false
}

// nextSuffix is one more than the highest suffix among the copies of root
// already placed under the parent.
func nextSuffix(rootID string, siblings []tree.Node) int {
	highest := 0
	for _, s := range siblings {
		if s.Metadata.CopiedFromNodeID != rootID && ref.Base(s.ID) != rootID {
			continue
		}
		n, ok := 0, false
		if s.Metadata.CopySuffix != nil {
			n, ok = *s.Metadata.CopySuffix, true
		} else {
			n, ok = ref.Suffix(s.ID)
		}
		if ok && n > highest {
			highest = n
		}
	}
	return highest + 1
}

func nextOrder(siblings []tree.Node) int {
	order := -1
	for _, s := range siblings {
		if s.Order > order {
			order = s.Order
		}
	}
	return order + 1
}

// allocate returns the remap plan for the first suffix, starting at n, whose
// ids and exposed keys are all free.
func (d *Duplicator) allocate(ctx context.Context, tx Tx, template tree.Bundle, n int) (*plan, error) {
	for probe := 0; probe < maxSuffixProbes; probe++ {
		p := newPlan(template, n+probe)
		taken, err := tx.TakenIDs(ctx, p.newIDs())
		if err != nil {
			return nil, fmt.Errorf("checking copy ids: %w", err)
		}
		if len(taken) == 0 {
			taken, err = p.takenKeys(ctx, tx)
			if err != nil {
				return nil, err
			}
		}
		if len(taken) == 0 {
			return p, nil
		}
		d.logger.Debug("copy suffix taken", zap.Int("suffix", p.suffix), zap.Strings("ids", taken))
	}
	return nil, fmt.Errorf("no free suffix after %d probes: %w", maxSuffixProbes, ErrIDCollision)
}

// create writes nodes first so foreign keys resolve, then capabilities,
// then variables.
func create(ctx context.Context, tx Tx, b tree.Bundle) error {
	for _, n := range b.Nodes {
		if err := tx.CreateNode(ctx, n); err != nil {
			return fmt.Errorf("creating node %s: %w", n.ID, err)
		}
	}
	for _, f := range b.Formulas {
		if err := tx.CreateFormula(ctx, f); err != nil {
			return fmt.Errorf("creating formula %s: %w", f.ID, err)
		}
	}
	for _, c := range b.Conditions {
		if err := tx.CreateCondition(ctx, c); err != nil {
			return fmt.Errorf("creating condition %s: %w", c.ID, err)
		}
	}
	for _, t := range b.Tables {
		if err := tx.CreateTable(ctx, t); err != nil {
			return fmt.Errorf("creating table %s: %w", t.ID, err)
		}
	}
	for _, v := range b.Variables {
		if err := tx.CreateVariable(ctx, v); err != nil {
			return fmt.Errorf("creating variable %s: %w", v.ID, err)
		}
	}
	return nil
}

// relink unions the back-links computed from the copied capabilities and
// variables into the nodes they read, copied or not.
func relink(ctx context.Context, tx Tx, copied tree.Bundle) ([]string, error) {
	computed := variable.BackLinks(tree.NewCatalog(copied))
	targets := make([]string, 0, len(computed))
	for id := range computed {
		targets = append(targets, id)
	}
	sort.Strings(targets)

	var updated []string
	for _, id := range targets {
		n, err := tx.FindNode(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading %s for re-link: %w", id, err)
		}
		if n == nil {
			continue
		}
		links := n.Links
		if !links.Union(*computed[id]) {
			continue
		}
		if err := tx.UpdateNodeLinks(ctx, id, links); err != nil {
			return nil, fmt.Errorf("re-linking %s: %w", id, err)
		}
		updated = append(updated, id)
	}
	return updated, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
