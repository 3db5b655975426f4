package graph

import (
	"sort"

	"treebranchleaf/tbl/internal/ref"
	"treebranchleaf/tbl/internal/tree"
	"treebranchleaf/tbl/internal/variable"
)

// Edge is one reference from a capability or variable to the node it reads.
type Edge struct {
	From   string        // node owning the reader
	To     string        // node read, "" when the reference does not resolve
	Kind   tree.LinkKind // kind of the reader
	Reader string        // capability or variable id
	Ref    ref.Ref
}

// Snapshot holds a tree with precomputed reference adjacency and regions
type Snapshot struct {
	Bundle  tree.Bundle
	Catalog *tree.Catalog
	Edges   []Edge
	Adj     map[string][]string // undirected
	OutAdj  map[string][]string // reader owner -> nodes read
	InAdj   map[string][]string // node read -> reader owners
	Regions map[string]string   // node_id -> top-level ancestor
}

// NewSnapshot builds a Snapshot from a bundle
func NewSnapshot(b tree.Bundle) *Snapshot {
	cat := tree.NewCatalog(b)
	adj := make(map[string][]string)
	outAdj := make(map[string][]string)
	inAdj := make(map[string][]string)
	for _, n := range b.Nodes {
		adj[n.ID] = nil // ensure entry exists
		outAdj[n.ID] = nil
		inAdj[n.ID] = nil
	}

	edges := referenceEdges(cat)
	for _, e := range edges {
		// a variable reading its own node's formula is not a tie between nodes
		if e.From == e.To || cat.Node(e.From) == nil || cat.Node(e.To) == nil {
			continue
		}
		adj[e.From] = append(adj[e.From], e.To)
		adj[e.To] = append(adj[e.To], e.From)
		outAdj[e.From] = append(outAdj[e.From], e.To)
		inAdj[e.To] = append(inAdj[e.To], e.From)
	}

	return &Snapshot{
		Bundle:  b,
		Catalog: cat,
		Edges:   edges,
		Adj:     adj,
		OutAdj:  outAdj,
		InAdj:   inAdj,
		Regions: computeRegions(cat),
	}
}

func referenceEdges(cat *tree.Catalog) []Edge {
	var edges []Edge
	add := func(kind tree.LinkKind, reader, owner string, refs []ref.Ref) {
		for _, r := range refs {
			edges = append(edges, Edge{From: owner, To: resolveTarget(cat, r), Kind: kind, Reader: reader, Ref: r})
		}
	}
	for _, f := range cat.Formulas() {
		add(tree.LinkFormula, f.ID, f.NodeID, variable.References(cat, ref.Of(ref.KindFormula, f.ID)))
	}
	for _, c := range cat.Conditions() {
		add(tree.LinkCondition, c.ID, c.NodeID, variable.References(cat, ref.Of(ref.KindCondition, c.ID)))
	}
	for _, t := range cat.Tables() {
		add(tree.LinkTable, t.ID, t.NodeID, variable.References(cat, ref.Of(ref.KindTable, t.ID)))
	}
	for _, v := range cat.Variables() {
		if v.SourceType == tree.SourceFixed || v.SourceRef == "" {
			continue
		}
		add(tree.LinkVariable, v.ID, v.NodeID, []ref.Ref{ref.Parse(v.SourceRef)})
	}
	return edges
}

// resolveTarget is the node a reference reads, or "" when nothing matches.
// A capability reference holding a node id reads that node.
func resolveTarget(cat *tree.Catalog, r ref.Ref) string {
	target := variable.Target(cat, r)
	if target == "" && r.Kind.IsCapability() && cat.Node(r.ID) != nil {
		return r.ID
	}
	if cat.Node(target) == nil {
		return ""
	}
	return target
}

// FilterToRegion returns a new snapshot containing only descendants of
// regionNodeID and the capabilities and variables they own
func (s *Snapshot) FilterToRegion(regionNodeID string) *Snapshot {
	included := make(map[string]bool)
	for _, id := range s.NodeIDs() {
		isDescendantOf(id, regionNodeID, s.Catalog, included, 0)
	}

	var b tree.Bundle
	for _, n := range s.Bundle.Nodes {
		if included[n.ID] {
			b.Nodes = append(b.Nodes, n)
		}
	}
	for _, f := range s.Bundle.Formulas {
		if included[f.NodeID] {
			b.Formulas = append(b.Formulas, f)
		}
	}
	for _, c := range s.Bundle.Conditions {
		if included[c.NodeID] {
			b.Conditions = append(b.Conditions, c)
		}
	}
	for _, t := range s.Bundle.Tables {
		if included[t.NodeID] {
			b.Tables = append(b.Tables, t)
		}
	}
	for _, v := range s.Bundle.Variables {
		if included[v.NodeID] {
			b.Variables = append(b.Variables, v)
		}
	}
	return NewSnapshot(b)
}

// NodeIDs returns a sorted list of all node IDs (for deterministic output)
func (s *Snapshot) NodeIDs() []string {
	ids := make([]string, 0, len(s.Adj))
	for id := range s.Adj {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Ancestors returns the parent chain of id, nearest first. A parent cycle
// stops the walk.
func (s *Snapshot) Ancestors(id string) []*tree.Node {
	var out []*tree.Node
	seen := map[string]bool{id: true}
	n := s.Catalog.Node(id)
	for n != nil && n.ParentID != nil && !seen[*n.ParentID] {
		seen[*n.ParentID] = true
		n = s.Catalog.Node(*n.ParentID)
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// maxAncestry bounds parent walks so a parent cycle terminates.
const maxAncestry = 4096

func isDescendantOf(nodeID, ancestorID string, cat *tree.Catalog, cache map[string]bool, depth int) bool {
	if nodeID == ancestorID {
		cache[nodeID] = true
		return true
	}
	if cached, ok := cache[nodeID]; ok {
		return cached
	}
	node := cat.Node(nodeID)
	if node == nil || node.ParentID == nil || depth > maxAncestry {
		cache[nodeID] = false
		return false
	}
	result := isDescendantOf(*node.ParentID, ancestorID, cat, cache, depth+1)
	cache[nodeID] = result
	return result
}

// computeRegions maps every node to its top-level ancestor (the node whose
// parent is absent). Nodes caught in a parent cycle map to "unassigned".
func computeRegions(cat *tree.Catalog) map[string]string {
	ids := cat.NodeIDs()
	regions := make(map[string]string, len(ids))
	for _, id := range ids {
		regions[id] = findRoot(id, cat)
	}
	return regions
}

func findRoot(nodeID string, cat *tree.Catalog) string {
	current := nodeID
	visited := make(map[string]bool)
	for {
		if visited[current] {
			return "unassigned" // cycle
		}
		visited[current] = true
		node := cat.Node(current)
		if node == nil {
			return "unassigned"
		}
		if node.ParentID == nil || cat.Node(*node.ParentID) == nil {
			return current
		}
		current = *node.ParentID
	}
}
