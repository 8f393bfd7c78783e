// Package tsinfer infers a tree sequence — a DAG of ancestral nodes, edges,
// and mutations along a linear genome — from a panel of binary haplotype
// samples. See internal/driver for the orchestration and internal/match for
// the Li-Stephens copying-path search that does the actual inference work.
package tsinfer

import (
	"context"
	"fmt"
	"sort"

	"tsinfer/internal/driver"
	"tsinfer/internal/tsbuilder"
)

// Input is the haplotype panel and its genomic layout: N samples, each a
// length-M vector of 0/1 alleles, observed at ascending positions along a
// genome of the given length.
type Input = driver.Input

// Option configures one run of Infer. See With* constructors in
// internal/driver.
type Option = driver.Option

var (
	WithRecombinationRate  = driver.WithRecombinationRate
	WithRecombinationRates = driver.WithRecombinationRates
	WithErrorRate          = driver.WithErrorRate
	WithNumThreads         = driver.WithNumThreads
	WithMethod             = driver.WithMethod
	WithLogLevel           = driver.WithLogLevel
	WithProgress           = driver.WithProgress
	WithDiagnosticsPath    = driver.WithDiagnosticsPath
	WithRewrites           = driver.WithRewrites
)

type (
	Method   = driver.Method
	LogLevel = driver.LogLevel
)

const (
	MethodNative    = driver.MethodNative
	MethodReference = driver.MethodReference
)

const (
	LogWarning = driver.LogWarning
	LogInfo    = driver.LogInfo
	LogDebug   = driver.LogDebug
)

// Result is the finalised tree sequence: four flat tables plus the node ids
// assigned to each input sample, in input order.
type Result = driver.Result

// Infer runs the full pipeline: ancestor synthesis, Li-Stephens matching,
// and sample matching, returning the finalised node/edge/site/mutation
// tables.
func Infer(ctx context.Context, input Input, opts ...Option) (*Result, error) {
	return driver.Infer(ctx, input, opts...)
}

// Sort returns a copy of edges ordered the way the builder's insertion
// ordering already enforces internally (ascending left, then ascending
// parent time): the canonical order a host serialisation format expects,
// exposed here because Result.Edges itself is accumulated in match order,
// not insertion order.
func Sort(nodes []tsbuilder.Node, edges []tsbuilder.Edge) []tsbuilder.Edge {
	out := append([]tsbuilder.Edge(nil), edges...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Left != out[j].Left {
			return out[i].Left < out[j].Left
		}
		return nodes[out[i].Parent].Time < nodes[out[j].Parent].Time
	})
	return out
}

// Simplify discards every node that is not an ancestor of some node in
// keep (samples, typically), remapping node ids to a dense range in their
// original relative order. It validates the genealogical-minimality half of
// a host "sort + simplify" pass; it does not coalesce redundant ancestor
// segments the way a full tskit simplify would, since nothing downstream of
// this repository reads the result as a shared on-disk container.
func Simplify(nodes []tsbuilder.Node, edges []tsbuilder.Edge, mutations []tsbuilder.Mutation, keep []int32) ([]tsbuilder.Node, []tsbuilder.Edge, []tsbuilder.Mutation, map[int32]int32) {
	kept := make([]bool, len(nodes))
	for _, k := range keep {
		kept[k] = true
	}
	// Edges are stored in the order their classes were matched, so a
	// sample's edges come after the edges of the ancestors it copies from;
	// one pass does not reach every ancestor, and the loop repeats until no
	// new node is marked.
	changed := true
	for changed {
		changed = false
		for _, e := range edges {
			if kept[e.Child] && !kept[e.Parent] {
				kept[e.Parent] = true
				changed = true
			}
		}
	}

	remap := make(map[int32]int32, len(nodes))
	newNodes := make([]tsbuilder.Node, 0, len(nodes))
	for id, n := range nodes {
		if !kept[id] {
			continue
		}
		remap[int32(id)] = int32(len(newNodes))
		newNodes = append(newNodes, n)
	}

	newEdges := make([]tsbuilder.Edge, 0, len(edges))
	for _, e := range edges {
		if !kept[e.Parent] || !kept[e.Child] {
			continue
		}
		newEdges = append(newEdges, tsbuilder.Edge{
			Left: e.Left, Right: e.Right,
			Parent: remap[e.Parent], Child: remap[e.Child],
		})
	}

	newMutations := make([]tsbuilder.Mutation, 0, len(mutations))
	parentRemap := make(map[int32]int32, len(mutations))
	for i, mut := range mutations {
		if !kept[mut.Node] {
			continue
		}
		newParent := int32(-1)
		if mut.Parent >= 0 {
			if p, ok := parentRemap[mut.Parent]; ok {
				newParent = p
			}
		}
		parentRemap[int32(i)] = int32(len(newMutations))
		newMutations = append(newMutations, tsbuilder.Mutation{
			Site: mut.Site, Node: remap[mut.Node], Derived: mut.Derived, Parent: newParent,
		})
	}

	return newNodes, newEdges, newMutations, remap
}

// Variants walks the tree sequence and reconstructs the allele every sample
// node carries at every site, by following each node's covering edge
// upward at that position until a mutation (or the root) fixes the state.
// It is the round-trip check called for in the Testable Properties: at
// error_rate 0 the result must equal the original haplotype matrix exactly.
func Variants(numSites int, edges []tsbuilder.Edge, mutations []tsbuilder.Mutation, sampleNodes []int32) ([][]uint8, error) {
	byChild := make(map[int32][]tsbuilder.Edge)
	for _, e := range edges {
		byChild[e.Child] = append(byChild[e.Child], e)
	}
	byNodeSite := make(map[int32]map[int]byte)
	for _, m := range mutations {
		if byNodeSite[m.Node] == nil {
			byNodeSite[m.Node] = make(map[int]byte)
		}
		byNodeSite[m.Node][m.Site] = m.Derived
	}
	coveringParent := func(node int32, site int) (int32, bool) {
		for _, e := range byChild[node] {
			if e.Left <= site && site < e.Right {
				return e.Parent, true
			}
		}
		return 0, false
	}

	out := make([][]uint8, len(sampleNodes))
	for j, sample := range sampleNodes {
		row := make([]uint8, numSites)
		for l := 0; l < numSites; l++ {
			cur := sample
			state := uint8(0)
			for {
				if derived, ok := byNodeSite[cur][l]; ok {
					if derived == '1' {
						state = 1
					} else {
						state = 0
					}
					break
				}
				parent, ok := coveringParent(cur, l)
				if !ok {
					break // reached the synthetic root's uncovered ancestry: ancestral state
				}
				cur = parent
			}
			row[l] = state
		}
		out[j] = row
	}
	return out, nil
}

// CheckRoundTrip is a convenience wrapper combining Variants with an
// equality check against the original sample matrix, for callers that only
// care about pass/fail (used by end-to-end tests at error_rate 0).
func CheckRoundTrip(input Input, result *Result) error {
	got, err := Variants(len(input.Positions), result.Edges, result.Mutations, result.SampleNodes())
	if err != nil {
		return err
	}
	for j, want := range input.Samples {
		for l, wantBit := range want {
			if got[j][l] != wantBit {
				return fmt.Errorf("sample %d site %d: got %d, want %d", j, l, got[j][l], wantBit)
			}
		}
	}
	return nil
}
