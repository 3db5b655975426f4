package db

import (
	"container/heap"
	"context"
	"fmt"

	"treebranchleaf/tbl/internal/tree"
)

// Dependent is a node whose value is computed from the source node, directly
// or through other dependents.
type Dependent struct {
	Rank   int             `json:"rank"`
	NodeID string          `json:"nodeId"`
	Label  string          `json:"label"`
	Hops   int             `json:"hops"`
	Path   []DependencyHop `json:"path"`
}

// DependencyHop is one link followed from a node to a reader of it.
type DependencyHop struct {
	Kind   tree.LinkKind `json:"kind"`
	LinkID string        `json:"linkId"` // capability or variable id
	NodeID string        `json:"nodeId"` // owner of LinkID
	Label  string        `json:"label"`
}

// DependentsConfig holds parameters for the dependents traversal.
type DependentsConfig struct {
	Budget  int
	MaxHops int
	Kinds   []tree.LinkKind // allowlist; nil means all
}

// DefaultDependentsConfig returns sensible defaults matching the CLI.
func DefaultDependentsConfig() *DependentsConfig {
	return &DependentsConfig{
		Budget:  50,
		MaxHops: 6,
	}
}

// prevEntry tracks how we reached a node (for path reconstruction).
type prevEntry struct {
	prevNodeID string
	kind       tree.LinkKind
	linkID     string
}

// hopEntry is a min-heap entry.
type hopEntry struct {
	hops   int
	nodeID string
}

// hopHeap orders by hop count. Ties broken by nodeID (lexicographic) for
// deterministic output.
type hopHeap []hopEntry

func (h hopHeap) Len() int { return len(h) }
func (h hopHeap) Less(i, j int) bool {
	if h[i].hops != h[j].hops {
		return h[i].hops < h[j].hops
	}
	return h[i].nodeID < h[j].nodeID
}
func (h hopHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *hopHeap) Push(x any)   { *h = append(*h, x.(hopEntry)) }
func (h *hopHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

var allLinkKinds = []tree.LinkKind{tree.LinkFormula, tree.LinkCondition, tree.LinkTable, tree.LinkVariable}

// Dependents walks the back-links of sourceID outwards: every capability or
// variable linked on a node leads to the node that owns it. Returns up to
// config.Budget nodes ordered by hop count then id.
func (d *DB) Dependents(ctx context.Context, sourceID string, config *DependentsConfig) ([]Dependent, error) {
	if config == nil {
		config = DefaultDependentsConfig()
	}
	budget := config.Budget
	if budget <= 0 {
		budget = 50
	}
	maxHops := config.MaxHops
	if maxHops <= 0 {
		maxHops = 6
	}
	kinds := allLinkKinds
	if config.Kinds != nil {
		kinds = config.Kinds
	}

	s := d.Session()
	source, err := s.FindNode(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", sourceID, err)
	}
	if source == nil {
		return nil, fmt.Errorf("node %s not found", sourceID)
	}

	hops := map[string]int{sourceID: 0}
	prev := map[string]prevEntry{}
	visited := map[string]bool{}
	nodes := map[string]*tree.Node{sourceID: source}

	h := &hopHeap{{hops: 0, nodeID: sourceID}}
	heap.Init(h)

	var results []Dependent

	for h.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry := heap.Pop(h).(hopEntry)
		current := entry.nodeID
		if visited[current] {
			continue
		}
		visited[current] = true

		node := nodes[current]
		if current != sourceID {
			results = append(results, Dependent{
				NodeID: current,
				Label:  node.Label,
				Hops:   entry.hops,
				Path:   reconstructPath(prev, nodes, sourceID, current),
			})
			if len(results) >= budget {
				break
			}
		}

		// Stop expanding if max hops reached
		if entry.hops >= maxHops {
			continue
		}

		for _, kind := range kinds {
			for _, linkID := range node.Links.Get(kind) {
				owner, err := s.owner(ctx, kind, linkID)
				if err != nil {
					return nil, fmt.Errorf("resolving %s %s: %w", kind, linkID, err)
				}
				if owner == "" || visited[owner] {
					continue
				}
				if _, seen := nodes[owner]; !seen {
					n, err := s.FindNode(ctx, owner)
					if err != nil {
						return nil, fmt.Errorf("loading %s: %w", owner, err)
					}
					if n == nil {
						continue
					}
					nodes[owner] = n
				}
				next := entry.hops + 1
				if prevHops, ok := hops[owner]; ok && prevHops <= next {
					continue
				}
				hops[owner] = next
				prev[owner] = prevEntry{prevNodeID: current, kind: kind, linkID: linkID}
				heap.Push(h, hopEntry{hops: next, nodeID: owner})
			}
		}
	}

	// Assign ranks (1-indexed, in hop order)
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

// reconstructPath walks the prev map backwards from target to source.
func reconstructPath(prev map[string]prevEntry, nodes map[string]*tree.Node, source, target string) []DependencyHop {
	var path []DependencyHop
	current := target
	for current != source {
		entry, ok := prev[current]
		if !ok {
			break
		}
		path = append(path, DependencyHop{
			Kind:   entry.kind,
			LinkID: entry.linkID,
			NodeID: current,
			Label:  nodes[current].Label,
		})
		current = entry.prevNodeID
	}
	// Reverse to get source-to-target order
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
