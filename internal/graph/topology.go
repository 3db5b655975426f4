package graph

import "sort"

// HubNode is a node read by many capabilities and variables
type HubNode struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Degree    int    `json:"degree"`
	InDegree  int    `json:"in_degree"`
	OutDegree int    `json:"out_degree"`
}

// DegreeBucket is one bucket in the degree histogram
type DegreeBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// TopologyReport describes how nodes are tied together by references
type TopologyReport struct {
	TotalNodes        int            `json:"total_nodes"`
	TotalEdges        int            `json:"total_edges"`
	NumComponents     int            `json:"num_components"`
	LargestComponent  int            `json:"largest_component"`
	SmallestComponent int            `json:"smallest_component"`
	IsolatedCount     int            `json:"isolated_count"`
	DegreeHistogram   []DegreeBucket `json:"degree_histogram"`
	Hubs              []HubNode      `json:"hubs"`
}

// ComputeTopology groups nodes into reference components and ranks hubs.
// Only edges whose both ends exist count.
func ComputeTopology(snap *Snapshot, hubThreshold, topN int) *TopologyReport {
	nodeIDs := snap.NodeIDs()
	if len(nodeIDs) == 0 {
		return &TopologyReport{DegreeHistogram: defaultHistogram()}
	}

	uf := NewUnionFind(nodeIDs)
	edges := 0
	for from, targets := range snap.OutAdj {
		for _, to := range targets {
			uf.Union(from, to)
			edges++
		}
	}

	components := uf.Components()
	largest, smallest := 0, len(nodeIDs)
	for _, c := range components {
		largest = max(largest, len(c))
		smallest = min(smallest, len(c))
	}

	buckets := [7]int{}
	isolated := 0
	var hubs []HubNode
	for _, id := range nodeIDs {
		degree := len(snap.Adj[id])
		buckets[degreeBucket(degree)]++
		if degree == 0 {
			isolated++
		}
		if len(snap.InAdj[id]) > hubThreshold {
			hubs = append(hubs, HubNode{
				ID:        id,
				Label:     snap.Catalog.Node(id).Label,
				Degree:    degree,
				InDegree:  len(snap.InAdj[id]),
				OutDegree: len(snap.OutAdj[id]),
			})
		}
	}
	histogram := defaultHistogram()
	for i := range histogram {
		histogram[i].Count = buckets[i]
	}

	sort.SliceStable(hubs, func(i, j int) bool { return hubs[i].InDegree > hubs[j].InDegree })
	if len(hubs) > topN {
		hubs = hubs[:topN]
	}

	return &TopologyReport{
		TotalNodes:        len(nodeIDs),
		TotalEdges:        edges,
		NumComponents:     len(components),
		LargestComponent:  largest,
		SmallestComponent: smallest,
		IsolatedCount:     isolated,
		DegreeHistogram:   histogram,
		Hubs:              hubs,
	}
}

func defaultHistogram() []DegreeBucket {
	return []DegreeBucket{
		{Label: "0"}, {Label: "1"}, {Label: "2-3"},
		{Label: "4-7"}, {Label: "8-15"}, {Label: "16-31"}, {Label: "32+"},
	}
}

func degreeBucket(degree int) int {
	switch {
	case degree == 0:
		return 0
	case degree == 1:
		return 1
	case degree <= 3:
		return 2
	case degree <= 7:
		return 3
	case degree <= 15:
		return 4
	case degree <= 31:
		return 5
	default:
		return 6
	}
}
