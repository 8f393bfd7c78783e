// Package ancestors implements the frequency-stratified majority-voting
// ancestor synthesis procedure (the "Ancestor Builder" of the inference
// pipeline).
package ancestors

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"tsinfer/internal/sequence"
)

// ErrInvalidBundle is returned when a focal-site bundle cannot seed an
// ancestor: an empty bundle, or one containing a site with frequency <= 1.
var ErrInvalidBundle = errors.New("invalid focal-site bundle")

// Builder derives ancestor haplotypes from a validated sample matrix.
type Builder struct {
	mat     *sequence.Matrix
	classes []sequence.FrequencyClass
}

// NewBuilder precomputes frequency classes for mat.
func NewBuilder(mat *sequence.Matrix) *Builder {
	return &Builder{mat: mat, classes: mat.FrequencyClasses()}
}

// FrequencyClasses returns the (frequency, bundles) pairs in descending
// frequency order, as computed at construction.
func (b *Builder) FrequencyClasses() []sequence.FrequencyClass {
	return b.classes
}

// MakeAncestor synthesises the haplotype for bundle, following the
// rightward sweep / leftward sweep / gap-fill procedure. The returned slice
// has length NumSites(); a[l] = 1 at every site in bundle.
func (b *Builder) MakeAncestor(bundle sequence.Bundle) ([]uint8, error) {
	if len(bundle) == 0 {
		return nil, fmt.Errorf("%w: empty bundle", ErrInvalidBundle)
	}
	freq := b.mat.Frequency(bundle[0])
	if freq <= 1 {
		return nil, fmt.Errorf("%w: focal frequency %d <= 1", ErrInvalidBundle, freq)
	}
	m := b.mat.NumSites()
	a := make([]uint8, m)
	inBundle := make([]bool, m)
	for _, s := range bundle {
		a[s] = 1
		inBundle[s] = true
	}
	firstFocal, lastFocal := bundle[0], bundle[len(bundle)-1]

	// Rightward sweep, anchored on the rightmost focal site's carriers.
	sigma := b.carriers(lastFocal)
	for l := lastFocal + 1; l < m; l++ {
		if sigma.Count() <= 1 {
			break
		}
		if b.mat.Frequency(l) <= freq {
			continue
		}
		bit, restricted := b.majorityVote(sigma, l)
		a[l] = bit
		sigma = restricted
	}

	// Leftward sweep, anchored on the leftmost focal site's carriers.
	sigma = b.carriers(firstFocal)
	for l := firstFocal - 1; l >= 0; l-- {
		if sigma.Count() <= 1 {
			break
		}
		if b.mat.Frequency(l) <= freq {
			continue
		}
		bit, restricted := b.majorityVote(sigma, l)
		a[l] = bit
		sigma = restricted
	}

	// Gap fill: interior sites not themselves focal, anchored on the
	// rightmost focal site's carriers, without narrowing Σ.
	sigma = b.carriers(lastFocal)
	for l := firstFocal + 1; l < lastFocal; l++ {
		if inBundle[l] {
			continue
		}
		if b.mat.Frequency(l) <= freq {
			continue
		}
		bit, _ := b.majorityVote(sigma, l)
		a[l] = bit
	}
	return a, nil
}

// carriers returns the bitset of samples carrying the derived allele at
// site l (the initial Σ anchor set).
func (b *Builder) carriers(l int) *bitset.BitSet {
	n := b.mat.NumSamples()
	bs := bitset.New(uint(n))
	for j := 0; j < n; j++ {
		if b.mat.At(j, l) == 1 {
			bs.Set(uint(j))
		}
	}
	return bs
}

// majorityVote tallies sigma's alleles at site l, returns the majority bit
// (ties resolve to 1) and the subset of sigma consistent with that bit.
func (b *Builder) majorityVote(sigma *bitset.BitSet, l int) (uint8, *bitset.BitSet) {
	n1, n0 := 0, 0
	for j, ok := sigma.NextSet(0); ok; j, ok = sigma.NextSet(j + 1) {
		if b.mat.At(int(j), l) == 1 {
			n1++
		} else {
			n0++
		}
	}
	bit := uint8(0)
	if n1 >= n0 {
		bit = 1
	}
	restricted := bitset.New(sigma.Len())
	for j, ok := sigma.NextSet(0); ok; j, ok = sigma.NextSet(j + 1) {
		if b.mat.At(int(j), l) == bit {
			restricted.Set(j)
		}
	}
	return bit, restricted
}
