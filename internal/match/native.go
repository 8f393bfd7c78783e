package match

import (
	"fmt"

	"tsinfer/internal/tsbuilder"
)

// Native is the performance backend: it streams trees through the
// insertion/removal orderings and keeps the per-node likelihood map L
// compressed, so the forward pass does O(trees) rather than O(nodes) work
// per site.
type Native struct{}

// siteSnapshot is a per-site copy of the compressed likelihood map taken
// during the forward pass, consumed by the backward pass.
type siteSnapshot map[int32]float64

func (Native) FindPath(snap *tsbuilder.Snapshot, newNode int32, haplotype []uint8, rho []float64, errorRate float64) (Path, error) {
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
	root := int32(0)
	L := map[int32]float64{root: 1.0}
	traceback := make([]siteSnapshot, snap.NumSites)

	lookup := func(u int32) float64 {
		v := u
		for {
			if val, ok := L[v]; ok {
				return val
			}
			v = pi[v]
		}
	}

	pos, j, k := 0, 0, 0
	for j < M || pos < snap.NumSites {
		for k < M && edges[remOrder[k]].Right == pos {
			parent := edges[remOrder[k]].Parent
			child := edges[remOrder[k]].Child
			if _, ok := L[child]; !ok {
				L[child] = lookup(parent)
			}
			pi[child] = -1
			k++
		}
		for j < M && edges[insOrder[j]].Left == pos {
			parent := edges[insOrder[j]].Parent
			child := edges[insOrder[j]].Child
			pi[child] = parent
			j++
			if v, ok := L[child]; ok && v == lookup(parent) {
				delete(L, child)
			}
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
				traceback[site] = cloneMap(L)
				continue
			}
			if _, ok := L[mutNode]; !ok {
				L[mutNode] = lookup(mutNode)
			}
			traceback[site] = cloneMap(L)

			rt := computeRates(n, rho[site])
			state := haplotype[site]
			maxL := -1.0
			for v, lv := range L {
				x := lv * rt.noRecomb
				if rt.recomb > x {
					x = rt.recomb
				}
				descendant := isDescendant(pi, v, mutNode)
				matches := descendant == (state == 1)
				L[v] = x * emission(matches, errorRate)
				if L[v] > maxL {
					maxL = L[v]
				}
			}
			if maxL <= 0 {
				return Path{}, fmt.Errorf("%w: site %d", ErrMatchingCollapse, site)
			}
			for v := range L {
				L[v] /= maxL
			}
			for u := range L {
				if pi[u] == -1 {
					continue
				}
				vv := pi[u]
				for {
					if val, ok := L[vv]; ok {
						if L[u] == val {
							delete(L, u)
						}
						break
					}
					vv = pi[vv]
				}
			}
		}
		pos = right
	}

	return reconstructPath(snap, newNode, traceback, L)
}



func cloneMap(m map[int32]float64) siteSnapshot {
	out := make(siteSnapshot, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// isDescendant walks π up from u, returning true once m is reached (m
// counts as its own descendant) or false if "none" is reached first.
func isDescendant(pi []int32, u, m int32) bool {
	for u != -1 {
		if u == m {
			return true
		}
		u = pi[u]
	}
	return false
}

// reconstructPath runs the backward pass: reset π, stream trees in
// descending position via the two orderings read back to front, and
// extend/close output edges by reading traceback[site] with the
// compressed-lookup rule, switching parent whenever the current parent's
// likelihood at a site isn't 1.0 (a recombination event). finalL is the
// compressed likelihood map as it stood after the forward pass finished,
// used to pick the copying path's final (rightmost) parent.
func reconstructPath(snap *tsbuilder.Snapshot, newNode int32, traceback []siteSnapshot, finalL siteSnapshot) (Path, error) {
	n := len(snap.NodeTimes)
	m := snap.NumSites
	edges := snap.Edges
	M := len(edges)

	// insByRightDesc activates edges, moving backward, at their Right
	// boundary: the removal ordering (already sorted by ascending Right)
	// read back to front.
	insByRightDesc := make([]int, M)
	for i, idx := range snap.RemovalOrder {
		insByRightDesc[M-1-i] = idx
	}
	// remByLeftDesc deactivates edges, moving backward, at their Left
	// boundary: the insertion ordering read back to front.
	remByLeftDesc := make([]int, M)
	for i, idx := range snap.InsertionOrder {
		remByLeftDesc[M-1-i] = idx
	}

	pi := make([]int32, n)
	for i := range pi {
		pi[i] = -1
	}
	lookup := func(L siteSnapshot, u int32) (float64, error) {
		v := u
		for {
			if val, ok := L[v]; ok {
				return val, nil
			}
			if v == -1 {
				return 0, fmt.Errorf("%w: no likelihood entry reachable for node %d", ErrMatchingCollapse, u)
			}
			v = pi[v]
		}
	}
	bestNode := func(L siteSnapshot) (int32, error) {
		found := false
		var best int32
		for u, v := range L {
			if v == 1.0 && (!found || u < best) {
				best, found = u, true
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: no node at likelihood 1.0", ErrMatchingCollapse)
		}
		return best, nil
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
			val, err := lookup(traceback[site], cur.Parent)
			if err != nil {
				return Path{}, err
			}
			if val != 1.0 {
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
