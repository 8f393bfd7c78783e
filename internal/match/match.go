// Package match implements the Li-Stephens hidden-Markov-model ancestor
// matcher: given a tree-sequence snapshot and a target haplotype, it finds
// a maximum-likelihood copying path expressed as a minimal edge list.
package match

import (
	"errors"
	"fmt"
	"math"

	"tsinfer/internal/tsbuilder"
)

// ErrMatchingCollapse signals that the forward pass's likelihood map
// collapsed to zero at some site: an internally-inconsistent model given
// the supplied inputs.
var ErrMatchingCollapse = errors.New("matching collapse")

// ErrHaplotypeLength is returned when the target haplotype's length
// doesn't match the tree sequence's site count.
var ErrHaplotypeLength = errors.New("haplotype length mismatch")

// Backend is the interface the driver uses to find a copying path. Two
// implementations are provided: Native (the sparse/compressed-likelihood,
// tree-streaming matcher that is the performance backend) and Reference (a
// simple dense-likelihood matcher used as a cross-check oracle). See
// SPEC_FULL.md §4.5.
type Backend interface {
	// recombinationRate is per-site (length snapshot.NumSites); a scalar
	// rate is simply the same value repeated at every index.
	FindPath(snapshot *tsbuilder.Snapshot, newNode int32, haplotype []uint8, recombinationRate []float64, errorRate float64) (Path, error)
}

// Path is the result of a copying-path search: the edges connecting the new
// node to the tree sequence, plus what each site's chosen parent actually
// carries there. The driver compares Expected against the target haplotype
// to decide where a reconciliation mutation is needed: with errorRate 0 the
// two agree at every site that has a mutation in the snapshot (emission is
// a hard indicator, so mismatches are resolved by recombining rather than
// tolerated), while a site with no mutation reads as 0 on every path.
// errorRate > 0 lets the path accept an occasional mismatch instead of
// fragmenting further.
type Path struct {
	Edges    []tsbuilder.Edge
	Expected []uint8
}

// emission returns the Li-Stephens emission probability of the target state
// given whether the copied-from node is a descendant of the site's mutation
// node. At errorRate 0 this is the hard indicator used by the original
// model; errorRate > 0 softens it so the path can tolerate a mismatch
// instead of always recombining around it.
func emission(matches bool, errorRate float64) float64 {
	if matches {
		return 1 - errorRate
	}
	return errorRate
}

// rates bundles the per-site recombination/no-recombination probabilities
// used by both backends, derived identically from §4.3's formulas.
type rates struct {
	recomb   float64
	noRecomb float64
}

func computeRates(n int, rho float64) rates {
	r := 1 - math.Exp(-rho/float64(n))
	return rates{
		recomb:   r / float64(n),
		noRecomb: 1 - r + r/float64(n),
	}
}

func validateHaplotype(snapshot *tsbuilder.Snapshot, haplotype []uint8) error {
	if len(haplotype) != snapshot.NumSites {
		return fmt.Errorf("%w: got %d sites, tree sequence has %d", ErrHaplotypeLength, len(haplotype), snapshot.NumSites)
	}
	return nil
}
