package ancestors

import (
	"errors"
	"reflect"
	"testing"

	"tsinfer/internal/sequence"
)

func mustMatrix(t *testing.T, samples [][]uint8, positions []float64, seqLen float64) *sequence.Matrix {
	t.Helper()
	mat, err := sequence.NewMatrix(samples, positions, seqLen)
	if err != nil {
		t.Fatalf("NewMatrix() unexpected error: %v", err)
	}
	return mat
}

func TestMakeAncestor(t *testing.T) {
	testCases := []struct {
		name    string
		samples [][]uint8
		bundle  sequence.Bundle
		want    []uint8
	}{
		{
			name: "single focal site, all sites decided by sweep",
			samples: [][]uint8{
				{1, 1, 1, 0},
				{1, 1, 0, 0},
				{1, 0, 0, 1},
				{0, 0, 1, 1},
			},
			bundle: sequence.Bundle{1},
			// focal site 1 has carriers {0,1}; site 0 (freq 3 > 2): among
			// {0,1} both are 1 -> bit 1, sigma stays {0,1}; site 2 (freq 2,
			// not > 2) skipped rightwards, left untouched by gap/left sweep.
			want: []uint8{1, 1, 0, 0},
		},
		{
			name: "bundle of two focal sites spans gap",
			samples: [][]uint8{
				{1, 0, 1},
				{1, 1, 1},
				{0, 0, 0},
				{0, 1, 0},
			},
			bundle: sequence.Bundle{0, 2},
			// gap site 1 has frequency 2, equal to f(F)=2, so it is skipped
			// (gap fill only votes on sites with frequency > f(F)) and stays 0.
			want: []uint8{1, 0, 1},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			positions := make([]float64, len(tc.samples[0]))
			for i := range positions {
				positions[i] = float64(i)
			}
			mat := mustMatrix(t, tc.samples, positions, float64(len(positions)))
			b := NewBuilder(mat)
			got, err := b.MakeAncestor(tc.bundle)
			if err != nil {
				t.Fatalf("MakeAncestor() unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("MakeAncestor() = %v, want %v", got, tc.want)
			}
			for _, s := range tc.bundle {
				if got[s] != 1 {
					t.Errorf("MakeAncestor()[%d] = %d, want 1 (focal site)", s, got[s])
				}
			}
		})
	}
}

func TestMakeAncestorRejectsInvalidBundle(t *testing.T) {
	samples := [][]uint8{{1, 0}, {0, 1}}
	positions := []float64{0, 1}
	mat := mustMatrix(t, samples, positions, 2)
	b := NewBuilder(mat)

	if _, err := b.MakeAncestor(sequence.Bundle{}); !errors.Is(err, ErrInvalidBundle) {
		t.Errorf("empty bundle: err = %v, want %v", err, ErrInvalidBundle)
	}
	if _, err := b.MakeAncestor(sequence.Bundle{0}); !errors.Is(err, ErrInvalidBundle) {
		t.Errorf("f<=1 focal: err = %v, want %v", err, ErrInvalidBundle)
	}
}

// Shuffling sample rows that are not in Σ must not change the synthesised
// ancestor (permutation stability, §8 round-trip property).
func TestMakeAncestorPermutationStable(t *testing.T) {
	samples := [][]uint8{
		{1, 1, 1},
		{1, 1, 0},
		{1, 0, 1},
		{0, 0, 0},
		{0, 1, 1},
	}
	shuffled := [][]uint8{
		samples[3], samples[0], samples[4], samples[1], samples[2],
	}
	positions := []float64{0, 1, 2}
	bundle := sequence.Bundle{0}

	mat1 := mustMatrix(t, samples, positions, 3)
	mat2 := mustMatrix(t, shuffled, positions, 3)
	a1, err := NewBuilder(mat1).MakeAncestor(bundle)
	if err != nil {
		t.Fatalf("MakeAncestor() unexpected error: %v", err)
	}
	a2, err := NewBuilder(mat2).MakeAncestor(bundle)
	if err != nil {
		t.Fatalf("MakeAncestor() unexpected error: %v", err)
	}
	if !reflect.DeepEqual(a1, a2) {
		t.Errorf("ancestor differs after shuffling non-Σ rows: %v vs %v", a1, a2)
	}
}
