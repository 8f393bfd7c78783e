// Package diagnostics renders optional run diagnostics to disk. It is never
// on the hot path: callers invoke it once, after inference finishes.
package diagnostics

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	barColor = color.RGBA{R: 37, G: 150, B: 190, A: 255}
	plotH    = 4 * vg.Inch
	plotW    = 6 * vg.Inch
)

// PlotFrequencySpectrum writes a bar chart of the derived-allele frequency
// spectrum (how many sites carry the derived allele in exactly k samples,
// for k = 1 up to the largest count present) to prefix.png. It is a diagnostic of the input, not of the
// inferred tree sequence: a spectrum dominated by singletons usually means
// most of the inference work falls on sample-class matching rather than on
// shared ancestor synthesis.
func PlotFrequencySpectrum(siteFrequencies []int, prefix string) error {
	if len(siteFrequencies) == 0 {
		return fmt.Errorf("diagnostics: no sites to plot")
	}
	maxFreq := 0
	for _, f := range siteFrequencies {
		if f > maxFreq {
			maxFreq = f
		}
	}
	counts := make([]float64, maxFreq+1)
	for _, f := range siteFrequencies {
		counts[f]++
	}

	p := plot.New()
	p.Title.Text = "Derived allele frequency spectrum"
	p.X.Label.Text = "Derived allele count"
	p.Y.Label.Text = "Number of sites"

	values := make(plotter.Values, maxFreq)
	for k := 1; k <= maxFreq; k++ {
		values[k-1] = counts[k]
	}
	bars, err := plotter.NewBarChart(values, vg.Points(8))
	if err != nil {
		return err
	}
	bars.Color = barColor
	p.Add(bars)
	return p.Save(plotW, plotH, fmt.Sprintf("%s.png", prefix))
}
