// Package driver is the Inference Driver: it iterates frequency classes in
// descending order, synthesises an ancestor per focal-site bundle, matches
// each against the tree sequence built so far, and batches the results back
// into the store before moving to the next class. Samples are matched as a
// final implicit class.
package driver

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"tsinfer/internal/ancestors"
	"tsinfer/internal/diagnostics"
	"tsinfer/internal/match"
	"tsinfer/internal/sequence"
	"tsinfer/internal/tsbuilder"
)

// plotDiagnostics renders the input's allele-frequency spectrum to
// path.png, for callers that want a visual sanity check of the run.
func plotDiagnostics(path string, siteFrequencies []int) error {
	return diagnostics.PlotFrequencySpectrum(siteFrequencies, path)
}

// Input carries the haplotype matrix and its genomic layout, the shape
// infer's external contract takes as (samples, positions, sequence_length).
type Input struct {
	Samples        [][]uint8
	Positions      []float64
	SequenceLength float64
}

// Result exposes the four finalised flat tables plus enough bookkeeping to
// validate the round-trip property in a Variants walk.
type Result struct {
	Nodes     []tsbuilder.Node
	Edges     []tsbuilder.Edge
	Positions []float64
	Mutations []tsbuilder.Mutation

	sampleNodes []int32
}

// SampleNodes returns the node ids assigned to each input sample row, in
// input order.
func (r *Result) SampleNodes() []int32 { return append([]int32(nil), r.sampleNodes...) }

// item is one unit of matching work: a target haplotype plus the focal
// sites (if any) that must be asserted as mutations once matched.
type item struct {
	haplotype  []uint8
	focalSites []int
}

// workResult is one item's contribution to a class's batch update.
type workResult struct {
	edges     []tsbuilder.Edge
	mutations []tsbuilder.Mutation
}

// Infer runs the pipeline end to end: ancestor synthesis, Li-Stephens
// matching against the growing tree sequence, and sample matching, in the
// same process a single control thread drives per SPEC_FULL.md §5.
func Infer(ctx context.Context, input Input, opts ...Option) (*Result, error) {
	mat, err := sequence.NewMatrix(input.Samples, input.Positions, input.SequenceLength)
	if err != nil {
		return nil, err
	}
	o, err := MakeOptions(mat.NumSites(), opts...)
	if err != nil {
		return nil, err
	}
	backend := o.backend()
	rewriteOpts := tsbuilder.RewriteOptions{BreakPolytomies: o.BreakPolytomies, ReplaceRecombinations: o.ReplaceRecombs}

	ab := ancestors.NewBuilder(mat)
	classes := ab.FrequencyClasses()
	topFrequency := 0
	if len(classes) > 0 {
		topFrequency = classes[0].Frequency
	}
	rootTime := float64(topFrequency + 1)

	tb := tsbuilder.NewBuilder(mat.NumSites())
	tb.AddNode(rootTime, false) // synthetic root, id 0, the ultimate ancestor over [0,M)

	totalClasses := len(classes) + 1 // + the final implicit sample class
	classIndex := 0

	for _, class := range classes {
		classIndex++
		o.logf(LogInfo, "frequency class %d/%d: frequency=%d bundles=%d", classIndex, totalClasses, class.Frequency, len(class.Bundles))
		items := make([]item, len(class.Bundles))
		for i, bundle := range class.Bundles {
			a, err := ab.MakeAncestor(bundle)
			if err != nil {
				return nil, fmt.Errorf("frequency class %d: %w", classIndex, err)
			}
			items[i] = item{haplotype: a, focalSites: bundle}
		}
		if err := processClass(ctx, tb, backend, o, rewriteOpts, float64(class.Frequency), false, items); err != nil {
			return nil, fmt.Errorf("frequency class %d: %w", classIndex, err)
		}
		o.logf(LogInfo, "frequency class %d/%d complete: nodes=%d edges=%d mutations=%d", classIndex, totalClasses, tb.NumNodes(), tb.NumEdges(), tb.NumMutations())
		if o.Progress != nil {
			o.Progress(classIndex, totalClasses)
		}
	}

	classIndex++
	o.logf(LogInfo, "sample class %d/%d: samples=%d", classIndex, totalClasses, mat.NumSamples())
	firstSampleNode := int32(tb.NumNodes())
	sampleItems := make([]item, mat.NumSamples())
	for j := 0; j < mat.NumSamples(); j++ {
		sampleItems[j] = item{haplotype: append([]uint8(nil), mat.Row(j)...)}
	}
	if err := processClass(ctx, tb, backend, o, rewriteOpts, 0, true, sampleItems); err != nil {
		return nil, fmt.Errorf("sample class: %w", err)
	}
	o.logf(LogInfo, "sample class %d/%d complete: nodes=%d edges=%d mutations=%d", classIndex, totalClasses, tb.NumNodes(), tb.NumEdges(), tb.NumMutations())
	if o.Progress != nil {
		o.Progress(classIndex, totalClasses)
	}
	sampleNodes := make([]int32, mat.NumSamples())
	for j := range sampleNodes {
		sampleNodes[j] = firstSampleNode + int32(j)
	}

	o.logf(LogInfo, "inference complete: nodes=%d edges=%d sites=%d mutations=%d", tb.NumNodes(), tb.NumEdges(), mat.NumSites(), tb.NumMutations())

	if o.DiagnosticsPath != "" {
		freqs := make([]int, mat.NumSites())
		for l := range freqs {
			freqs[l] = mat.Frequency(l)
		}
		if err := plotDiagnostics(o.DiagnosticsPath, freqs); err != nil {
			o.logf(LogWarning, "diagnostics plot failed: %v", err)
		}
	}

	return &Result{
		Nodes:       tb.DumpNodes(),
		Edges:       tb.DumpEdges(),
		Positions:   append([]float64(nil), mat.Positions()...),
		Mutations:   tb.DumpMutations(),
		sampleNodes: sampleNodes,
	}, nil
}

// processClass matches every item in items against the tree sequence's
// current state, fans the work out over a bounded worker pool, and applies
// one batched update once all workers finish (the class barrier in §5: no
// worker observes another's output, and the builder is only mutated after
// all of them complete).
func processClass(ctx context.Context, tb *tsbuilder.Builder, backend match.Backend, o *Options, rewriteOpts tsbuilder.RewriteOptions, age float64, isSample bool, items []item) error {
	if len(items) == 0 {
		return nil
	}
	snap := tb.Snapshot()
	base := int32(tb.NumNodes())
	results := make([]workResult, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.NumThreads)
	for i := range items {
		i := i
		it := items[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			node := base + int32(i)
			target := append([]uint8(nil), it.haplotype...)
			for _, s := range it.focalSites {
				target[s] = 0 // re-asserted via the focal-site mutation below, not copied
			}
			path, err := backend.FindPath(snap, node, target, o.RecombinationRate, o.ErrorRate)
			if err != nil {
				return fmt.Errorf("node %d: %w", node, err)
			}
			mutations := make([]tsbuilder.Mutation, 0, len(it.focalSites))
			for _, s := range it.focalSites {
				mutations = append(mutations, tsbuilder.Mutation{Site: s, Node: node})
			}
			// Reconcile against target, not the raw haplotype: a focal site's
			// derived allele is already asserted by the mutation above, and
			// comparing it here too would double-record it as a reconciliation
			// mutation as well.
			mutations = append(mutations, reconcile(node, target, path.Expected)...)
			results[i] = workResult{edges: path.Edges, mutations: mutations}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	batch := tsbuilder.UpdateBatch{NumNewNodes: len(items), Age: age, IsSample: isSample}
	for _, r := range results {
		batch.Edges = append(batch.Edges, r.edges...)
		batch.Mutations = append(batch.Mutations, r.mutations...)
	}
	return tb.Update(batch, rewriteOpts)
}

// reconcile compares the copying path's implied state against the target
// haplotype at every non-focal site, recording a mutation wherever they
// disagree. At errorRate 0 emission is a hard indicator, so the path agrees
// with the target at every site that has a primary mutation; a site with
// none (a singleton, which seeds no ancestor) reads as 0 on every path, so a
// target carrying 1 there gets its mutation here. errorRate > 0 also lets
// the matcher tolerate an occasional mismatch instead of recombining around
// it, which is where back- and recurrent mutations come from.
func reconcile(node int32, target []uint8, expected []uint8) []tsbuilder.Mutation {
	var out []tsbuilder.Mutation
	for s, want := range target {
		if expected[s] == want {
			continue
		}
		derived := byte('0')
		if want == 1 {
			derived = '1'
		}
		out = append(out, tsbuilder.Mutation{Site: s, Node: node, Derived: derived})
	}
	return out
}
