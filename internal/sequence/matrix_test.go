package sequence

import (
	"errors"
	"testing"
)

func TestNewMatrix(t *testing.T) {
	testCases := []struct {
		name      string
		samples   [][]uint8
		positions []float64
		seqLen    float64
		expectErr error
	}{
		{
			name:      "basic valid",
			samples:   [][]uint8{{1, 0}, {0, 1}, {1, 1}},
			positions: []float64{0, 1},
			seqLen:    2,
			expectErr: nil,
		},
		{
			name:      "invariant column",
			samples:   [][]uint8{{1, 0}, {1, 1}, {1, 1}},
			positions: []float64{0, 1},
			seqLen:    2,
			expectErr: ErrInvariantSite,
		},
		{
			name:      "shape mismatch",
			samples:   [][]uint8{{1, 0}, {0}},
			positions: []float64{0, 1},
			seqLen:    2,
			expectErr: ErrShapeMismatch,
		},
		{
			name:      "non-ascending positions",
			samples:   [][]uint8{{1, 0}, {0, 1}},
			positions: []float64{1, 1},
			seqLen:    2,
			expectErr: ErrShapeMismatch,
		},
		{
			name:      "sequence length too short",
			samples:   [][]uint8{{1, 0}, {0, 1}},
			positions: []float64{0, 5},
			seqLen:    5,
			expectErr: ErrOutOfRange,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewMatrix(tc.samples, tc.positions, tc.seqLen)
			if !errors.Is(err, tc.expectErr) {
				t.Errorf("NewMatrix() error = %v, want wrapping %v", err, tc.expectErr)
			}
		})
	}
}

func TestFrequencyClasses(t *testing.T) {
	// three sites among 5 samples with frequencies (4, 3, 2), matching the
	// frequency-class-ordering scenario.
	samples := [][]uint8{
		{1, 1, 1},
		{1, 1, 1},
		{1, 1, 0},
		{1, 0, 0},
		{0, 0, 0},
	}
	positions := []float64{0, 1, 2}
	mat, err := NewMatrix(samples, positions, 3)
	if err != nil {
		t.Fatalf("NewMatrix() unexpected error: %v", err)
	}
	classes := mat.FrequencyClasses()
	wantFreqs := []int{4, 3, 2}
	if len(classes) != len(wantFreqs) {
		t.Fatalf("got %d classes, want %d", len(classes), len(wantFreqs))
	}
	prevFreq := -1
	for i, c := range classes {
		if c.Frequency != wantFreqs[i] {
			t.Errorf("class %d: frequency = %d, want %d", i, c.Frequency, wantFreqs[i])
		}
		if prevFreq != -1 && c.Frequency >= prevFreq {
			t.Errorf("class %d: frequency %d not strictly decreasing from %d", i, c.Frequency, prevFreq)
		}
		prevFreq = c.Frequency
	}
}

func TestFrequencyClassesBundling(t *testing.T) {
	// sites 0 and 2 share an identical column and must land in one bundle;
	// site 1 has the same frequency but a different column, so it forms a
	// second bundle, ordered after the one starting at site 0.
	samples := [][]uint8{
		{1, 1, 1},
		{1, 0, 1},
		{0, 1, 0},
		{0, 0, 0},
	}
	positions := []float64{0, 1, 2}
	mat, err := NewMatrix(samples, positions, 3)
	if err != nil {
		t.Fatalf("NewMatrix() unexpected error: %v", err)
	}
	classes := mat.FrequencyClasses()
	if len(classes) != 1 {
		t.Fatalf("got %d classes, want 1", len(classes))
	}
	if len(classes[0].Bundles) != 2 {
		t.Fatalf("got %d bundles, want 2 (sites 0 and 2 share a column, site 1 is alone)", len(classes[0].Bundles))
	}
	bundle := classes[0].Bundles[0]
	if len(bundle) != 2 || bundle[0] != 0 || bundle[1] != 2 {
		t.Errorf("bundle = %v, want [0 2]", bundle)
	}
}

func TestFrequencyClassesExcludesLowFrequency(t *testing.T) {
	samples := [][]uint8{
		{1, 0},
		{0, 0},
		{0, 1},
	}
	positions := []float64{0, 1}
	mat, err := NewMatrix(samples, positions, 2)
	if err != nil {
		t.Fatalf("NewMatrix() unexpected error: %v", err)
	}
	classes := mat.FrequencyClasses()
	if len(classes) != 0 {
		t.Errorf("got %d classes, want 0 (all sites have frequency <= 1)", len(classes))
	}
}
