package tsbuilder

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

type interval struct{ left, right int }

// breakPolytomies implements §4.2a: for each parent with edges spanning more
// than one distinct interval, any interval with >= 2 edges gets factored
// through a fresh intermediate node.
func (b *Builder) breakPolytomies() {
	byParent := make(map[int32]map[interval][]int) // parent -> interval -> edge indices
	for i, e := range b.edges {
		if byParent[e.Parent] == nil {
			byParent[e.Parent] = make(map[interval][]int)
		}
		iv := interval{e.Left, e.Right}
		byParent[e.Parent][iv] = append(byParent[e.Parent][iv], i)
	}
	for _, intervals := range byParent {
		if len(intervals) < 2 {
			continue
		}
		for iv, idxs := range intervals {
			if len(idxs) < 2 {
				continue
			}
			b.insertPolytomyNode(iv, idxs)
		}
	}
}

// insertPolytomyNode redirects the edges at idxs to a new intermediate
// node and adds the single connecting edge back to their original parent.
func (b *Builder) insertPolytomyNode(iv interval, idxs []int) {
	parent := b.edges[idxs[0]].Parent
	maxChildTime := b.nodes[b.edges[idxs[0]].Child].Time
	for _, i := range idxs[1:] {
		if t := b.nodes[b.edges[i].Child].Time; t > maxChildTime {
			maxChildTime = t
		}
	}
	newTime := (maxChildTime + b.nodes[parent].Time) / 2
	newNode := b.AddNode(newTime, false)
	for _, i := range idxs {
		b.edges[i].Parent = newNode
	}
	b.edges = append(b.edges, Edge{Left: iv.left, Right: iv.right, Parent: parent, Child: newNode})
}

// chainKey identifies a contiguous recombination-breakpoint chain by its
// ordered (lefts, rights, parents) tuples so chains shared by >= 2 children
// can be detected with a plain map lookup.
type chainKey struct {
	lefts, rights string
	parents       string
}

// replaceSharedRecombinations implements §4.2b. Candidate edges are those
// sharing (left, right, parent) with >= 2 siblings under one parent,
// excluding any run spanning the whole genome; among those, contiguous
// per-child runs sharing a (lefts, rights, parents) key across >= 2
// children are factored through one new node per key.
func (b *Builder) replaceSharedRecombinations() {
	order := make([]int, len(b.edges))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, c := b.edges[order[i]], b.edges[order[j]]
		if a.Left != c.Left {
			return a.Left < c.Left
		}
		if a.Right != c.Right {
			return a.Right < c.Right
		}
		if a.Parent != c.Parent {
			return a.Parent < c.Parent
		}
		return a.Child < c.Child
	})

	var candidates []int
	groupStart := 0
	flush := func(end int) {
		if end-groupStart < 2 {
			return
		}
		first := b.edges[order[groupStart]]
		if first.Left == 0 && first.Right == b.numSites {
			return
		}
		candidates = append(candidates, order[groupStart:end]...)
	}
	for i := 1; i < len(order); i++ {
		prev, cur := b.edges[order[i-1]], b.edges[order[i]]
		if prev.Left != cur.Left || prev.Right != cur.Right || prev.Parent != cur.Parent {
			flush(i)
			groupStart = i
		}
	}
	flush(len(order))
	if len(candidates) == 0 {
		return
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, c := b.edges[candidates[i]], b.edges[candidates[j]]
		if a.Child != c.Child {
			return a.Child < c.Child
		}
		if a.Left != c.Left {
			return a.Left < c.Left
		}
		return a.Right < c.Right
	})

	type chain struct {
		idxs []int
	}
	groups := make(map[chainKey][]chain)
	chainStart := 0
	recordChain := func(end int) {
		if end-chainStart < 2 {
			return
		}
		idxs := append([]int(nil), candidates[chainStart:end]...)
		groups[chainKeyOf(b, idxs)] = append(groups[chainKeyOf(b, idxs)], chain{idxs: idxs})
	}
	for i := 1; i < len(candidates); i++ {
		prev, cur := b.edges[candidates[i-1]], b.edges[candidates[i]]
		if prev.Right != cur.Left || prev.Child != cur.Child {
			recordChain(i)
			chainStart = i
		}
	}
	recordChain(len(candidates))

	marked := make(map[int]bool)
	var newEdges []Edge
	for _, chains := range groups {
		if len(chains) < 2 {
			continue
		}
		maxChildTime := -1.0
		minParentTime := math.MaxFloat64
		for _, c := range chains {
			for _, idx := range c.idxs {
				e := b.edges[idx]
				marked[idx] = true
				if t := b.nodes[e.Child].Time; t > maxChildTime {
					maxChildTime = t
				}
				if t := b.nodes[e.Parent].Time; t < minParentTime {
					minParentTime = t
				}
			}
		}
		newTime := maxChildTime + (minParentTime-maxChildTime)/2
		newNode := b.AddNode(newTime, false)
		left := b.edges[chains[0].idxs[0]].Left
		right := b.edges[chains[0].idxs[len(chains[0].idxs)-1]].Right
		for _, idx := range chains[0].idxs {
			e := b.edges[idx]
			newEdges = append(newEdges, Edge{Left: e.Left, Right: e.Right, Parent: e.Parent, Child: newNode})
		}
		for _, c := range chains {
			child := b.edges[c.idxs[0]].Child
			newEdges = append(newEdges, Edge{Left: left, Right: right, Parent: newNode, Child: child})
		}
	}

	final := make([]Edge, 0, len(b.edges))
	for i, e := range b.edges {
		if !marked[i] {
			final = append(final, e)
		}
	}
	final = append(final, newEdges...)
	b.edges = final
}

func chainKeyOf(b *Builder, idxs []int) chainKey {
	var lefts, rights, parents strings.Builder
	for _, idx := range idxs {
		e := b.edges[idx]
		fmt.Fprintf(&lefts, "%d:", e.Left)
		fmt.Fprintf(&rights, "%d:", e.Right)
		fmt.Fprintf(&parents, "%d:", e.Parent)
	}
	return chainKey{lefts: lefts.String(), rights: rights.String(), parents: parents.String()}
}
