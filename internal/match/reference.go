package match

import (
	"fmt"

	"tsinfer/internal/tsbuilder"
)

// Reference is the cross-check oracle: a plain dense matcher that holds
// one likelihood value per node and recomputes every node at every site,
// with no compression. It exists to validate Native's output on small
// inputs, not for production-scale matching. See SPEC_FULL.md §4.5.
type Reference struct{}

func (Reference) FindPath(snap *tsbuilder.Snapshot, newNode int32, haplotype []uint8, rho []float64, errorRate float64) (Path, error) {
	if err := validateHaplotype(snap, haplotype); err != nil {
		return Path{}, err
	}
	if len(rho) != snap.NumSites {
		return Path{}, fmt.Errorf("%w: recombination rate has %d entries, tree sequence has %d sites", ErrHaplotypeLength, len(rho), snap.NumSites)
	}
	n := len(snap.NodeTimes)

	edges := snap.Edges
	insOrder := snap.InsertionOrder
	remOrder := snap.RemovalOrder
	M := len(edges)

	pi := make([]int32, n)
	for i := range pi {
		pi[i] = -1
	}
	L := make([]float64, n)
	for i := range L {
		L[i] = 1.0
	}
	traceback := make([][]float64, snap.NumSites)

	pos, j, k := 0, 0, 0
	for j < M || pos < snap.NumSites {
		for k < M && edges[remOrder[k]].Right == pos {
			pi[edges[remOrder[k]].Child] = -1
			k++
		}
		for j < M && edges[insOrder[j]].Left == pos {
			e := edges[insOrder[j]]
			pi[e.Child] = e.Parent
			j++
		}

		right := snap.NumSites
		if k < M && edges[remOrder[k]].Right < right {
			right = edges[remOrder[k]].Right
		}
		if j < M && edges[insOrder[j]].Left < right {
			right = edges[insOrder[j]].Left
		}

		for site := pos; site < right; site++ {
			mutNode, hasMut := snap.Mutations[site]
			if !hasMut {
				traceback[site] = append([]float64(nil), L...)
				continue
			}
			traceback[site] = append([]float64(nil), L...)

			rt := computeRates(n, rho[site])
			state := haplotype[site]
			maxL := -1.0
			next := make([]float64, n)
			for v := 0; v < n; v++ {
				x := L[v] * rt.noRecomb
				if rt.recomb > x {
					x = rt.recomb
				}
				descendant := isDescendant(pi, int32(v), mutNode)
				matches := descendant == (state == 1)
				next[v] = x * emission(matches, errorRate)
				if next[v] > maxL {
					maxL = next[v]
				}
			}
			if maxL <= 0 {
				return Path{}, fmt.Errorf("%w: site %d", ErrMatchingCollapse, site)
			}
			for v := range next {
				next[v] /= maxL
			}
			L = next
		}
		pos = right
	}

	return reconstructPathDense(snap, newNode, traceback, L)
}

func reconstructPathDense(snap *tsbuilder.Snapshot, newNode int32, traceback [][]float64, finalL []float64) (Path, error) {
	n := len(snap.NodeTimes)
	m := snap.NumSites
	edges := snap.Edges
	M := len(edges)

	insByRightDesc := make([]int, M)
	for i, idx := range snap.RemovalOrder {
		insByRightDesc[M-1-i] = idx
	}
	remByLeftDesc := make([]int, M)
	for i, idx := range snap.InsertionOrder {
		remByLeftDesc[M-1-i] = idx
	}

	pi := make([]int32, n)
	for i := range pi {
		pi[i] = -1
	}
	bestNode := func(L []float64) (int32, error) {
		for u, v := range L {
			if v == 1.0 {
				return int32(u), nil
			}
		}
		return 0, fmt.Errorf("%w: no node at likelihood 1.0", ErrMatchingCollapse)
	}

	start, err := bestNode(finalL)
	if err != nil {
		return Path{}, err
	}
	cur := tsbuilder.Edge{Right: m, Parent: start, Child: newNode}
	var out []tsbuilder.Edge
	expected := make([]uint8, m)

	recordExpected := func(site int, parent int32) {
		mutNode, hasMut := snap.Mutations[site]
		if hasMut && isDescendant(pi, parent, mutNode) {
			expected[site] = 1
		}
	}

	pos, j, k := m, 0, 0
	for j < M || pos > 0 {
		for k < M && edges[remByLeftDesc[k]].Left == pos {
			pi[edges[remByLeftDesc[k]].Child] = -1
			k++
		}
		for j < M && edges[insByRightDesc[j]].Right == pos {
			e := edges[insByRightDesc[j]]
			pi[e.Child] = e.Parent
			j++
		}

		left := 0
		if k < M && edges[remByLeftDesc[k]].Left > left {
			left = edges[remByLeftDesc[k]].Left
		}
		if j < M && edges[insByRightDesc[j]].Right > left {
			left = edges[insByRightDesc[j]].Right
		}

		// Site 0 is never examined here: there is nothing to its left to
		// recombine against, and the final parent's edge is unconditionally
		// extended down to 0 below.
		floor := left
		if floor < 1 {
			floor = 1
		}
		for site := pos - 1; site >= floor; site-- {
			recordExpected(site, cur.Parent)
			if traceback[site][cur.Parent] != 1.0 {
				cur.Left = site
				out = append(out, cur)
				nextParent, err := bestNode(traceback[site])
				if err != nil {
					return Path{}, err
				}
				cur = tsbuilder.Edge{Right: site, Parent: nextParent, Child: newNode}
			}
		}
		pos = left
	}
	recordExpected(0, cur.Parent)
	cur.Left = 0
	out = append(out, cur)
	return Path{Edges: out, Expected: expected}, nil
}
