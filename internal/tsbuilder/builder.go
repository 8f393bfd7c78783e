// Package tsbuilder is the append-only tree-sequence store: nodes, edges,
// and mutations, plus the two sorted edge orderings the matcher streams
// trees through.
package tsbuilder

import (
	"fmt"
	"sort"
)

// RewriteOptions toggles the two optional edge-set rewrites.
type RewriteOptions struct {
	BreakPolytomies       bool
	ReplaceRecombinations bool
}

// UpdateBatch is the payload of one batched call to Update: a whole
// frequency class's worth of new nodes, edges, and mutations.
type UpdateBatch struct {
	NumNewNodes int
	Age         float64
	IsSample    bool
	Edges       []Edge
	Mutations   []Mutation
}

// Builder is the tree-sequence store. It is append-only except for the
// edge-rewrite passes, which replace the edge slice wholesale (never
// nodes).
type Builder struct {
	numSites  int
	nodes     []Node
	edges     []Edge
	mutations map[int]int32 // site -> node holding the primary '0'->'1' mutation
	extra     []Mutation    // additional back/recurrent mutations, insertion order

	insertionOrder []int
	removalOrder   []int
}

// NewBuilder creates an empty store for a haplotype of numSites sites.
func NewBuilder(numSites int) *Builder {
	return &Builder{
		numSites:  numSites,
		mutations: make(map[int]int32),
	}
}

// AddNode appends a node and returns its id.
func (b *Builder) AddNode(time float64, isSample bool) int32 {
	b.nodes = append(b.nodes, Node{Time: time, IsSample: isSample})
	return int32(len(b.nodes) - 1)
}

func (b *Builder) NumNodes() int     { return len(b.nodes) }
func (b *Builder) NumEdges() int     { return len(b.edges) }
func (b *Builder) NumMutations() int { return len(b.mutations) + len(b.extra) }
func (b *Builder) NumSites() int     { return b.numSites }

// NodeTime returns the time of node id.
func (b *Builder) NodeTime(id int32) float64 { return b.nodes[id].Time }

// Update performs one batched insertion: new nodes at a common age, new
// edges, new mutations, then (optionally) the two edge-set rewrites, then
// rebuilds the insertion/removal orderings.
func (b *Builder) Update(batch UpdateBatch, opts RewriteOptions) error {
	for i := 0; i < batch.NumNewNodes; i++ {
		b.AddNode(batch.Age, batch.IsSample)
	}
	for _, e := range batch.Edges {
		if e.Left < 0 || e.Right > b.numSites || e.Left >= e.Right {
			return fmt.Errorf("tsbuilder: invalid edge interval [%d,%d)", e.Left, e.Right)
		}
		b.edges = append(b.edges, e)
	}
	for _, mut := range batch.Mutations {
		// Derived is the zero value for the original focal-site mutations the
		// ancestor builder emits (always derived '1'): those become each
		// site's primary mutation, the one the matcher's emission model
		// treats as the ancestral/derived split. Anything with an explicit
		// Derived is a reconciliation mutation (back or recurrent) recorded
		// alongside it.
		if mut.Derived == 0 {
			b.mutations[mut.Site] = mut.Node
			continue
		}
		b.extra = append(b.extra, mut)
	}
	if opts.BreakPolytomies {
		b.breakPolytomies()
	}
	if opts.ReplaceRecombinations && len(b.edges) > 1 {
		b.replaceSharedRecombinations()
	}
	b.rebuildOrderings()
	return nil
}

func (b *Builder) rebuildOrderings() {
	m := len(b.edges)
	insertion := make([]int, m)
	removal := make([]int, m)
	for i := range insertion {
		insertion[i] = i
		removal[i] = i
	}
	sort.SliceStable(insertion, func(i, j int) bool {
		ei, ej := b.edges[insertion[i]], b.edges[insertion[j]]
		if ei.Left != ej.Left {
			return ei.Left < ej.Left
		}
		return b.nodes[ei.Parent].Time < b.nodes[ej.Parent].Time
	})
	sort.SliceStable(removal, func(i, j int) bool {
		ei, ej := b.edges[removal[i]], b.edges[removal[j]]
		if ei.Right != ej.Right {
			return ei.Right < ej.Right
		}
		return b.nodes[ei.Parent].Time > b.nodes[ej.Parent].Time
	})
	b.insertionOrder = insertion
	b.removalOrder = removal
}

// InsertionOrder returns edge indices sorted by (left asc, parent time asc).
func (b *Builder) InsertionOrder() []int { return b.insertionOrder }

// RemovalOrder returns edge indices sorted by (right asc, parent time desc).
func (b *Builder) RemovalOrder() []int { return b.removalOrder }

// Edges returns the current (read-only) edge slice, indexed the same way
// InsertionOrder/RemovalOrder index into it.
func (b *Builder) Edges() []Edge { return b.edges }

// MutationNode returns the node holding the primary mutation at site, and
// whether one is registered.
func (b *Builder) MutationNode(site int) (int32, bool) {
	n, ok := b.mutations[site]
	return n, ok
}

// DumpNodes copies the node table.
func (b *Builder) DumpNodes() []Node {
	return append([]Node(nil), b.nodes...)
}

// DumpEdges copies the edge table.
func (b *Builder) DumpEdges() []Edge {
	return append([]Edge(nil), b.edges...)
}

// DumpMutations returns the full mutation table: each site's primary
// mutation plus any reconciliation (back/recurrent) mutations recorded
// against it, ordered by site. A back-mutation (Derived '0') chains to its
// site's primary mutation; a recurrent mutation (Derived '1' away from the
// primary mutation's node) has no parent.
func (b *Builder) DumpMutations() []Mutation {
	extraBySite := make(map[int][]Mutation, len(b.extra))
	sites := make([]int, 0, len(b.mutations)+len(b.extra))
	seen := make(map[int]bool, len(b.mutations))
	for s := range b.mutations {
		sites = append(sites, s)
		seen[s] = true
	}
	for _, mut := range b.extra {
		extraBySite[mut.Site] = append(extraBySite[mut.Site], mut)
		if !seen[mut.Site] {
			sites = append(sites, mut.Site)
			seen[mut.Site] = true
		}
	}
	sort.Ints(sites)

	out := make([]Mutation, 0, len(b.mutations)+len(b.extra))
	for _, s := range sites {
		primaryIdx := int32(-1)
		if node, ok := b.mutations[s]; ok {
			primaryIdx = int32(len(out))
			out = append(out, Mutation{Site: s, Node: node, Derived: '1', Parent: -1})
		}
		for _, mut := range extraBySite[s] {
			mut.Parent = -1
			if mut.Derived == '0' && primaryIdx >= 0 {
				mut.Parent = primaryIdx
			}
			out = append(out, mut)
		}
	}
	return out
}

// Snapshot is an immutable view of the builder's state, safe to share
// across concurrent matcher workers for the duration of one frequency
// class (§5: "freeze the state by construction for the duration of one
// class").
type Snapshot struct {
	NumSites       int
	NodeTimes      []float64
	Edges          []Edge
	InsertionOrder []int
	RemovalOrder   []int
	Mutations      map[int]int32
}

// Snapshot freezes the current state for read-only concurrent use. Because
// Update only ever appends to nodes/mutations and replaces edges/orderings
// wholesale under a single call, taking a snapshot between Update calls is
// race-free as long as no Update runs concurrently with matcher workers
// holding the snapshot (the barrier the driver enforces).
func (b *Builder) Snapshot() *Snapshot {
	nodeTimes := make([]float64, len(b.nodes))
	for i, n := range b.nodes {
		nodeTimes[i] = n.Time
	}
	mutations := make(map[int]int32, len(b.mutations))
	for s, n := range b.mutations {
		mutations[s] = n
	}
	return &Snapshot{
		NumSites:       b.numSites,
		NodeTimes:      nodeTimes,
		Edges:          append([]Edge(nil), b.edges...),
		InsertionOrder: append([]int(nil), b.insertionOrder...),
		RemovalOrder:   append([]int(nil), b.removalOrder...),
		Mutations:      mutations,
	}
}
