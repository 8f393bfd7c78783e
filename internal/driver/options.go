package driver

import (
	"errors"
	"fmt"
	"log"
	"runtime"

	"tsinfer/internal/match"
	"tsinfer/internal/sequence"
)

// ErrInvalidOption is returned when an Option combination (or value) is
// rejected at MakeOptions time.
var ErrInvalidOption = errors.New("invalid option combination")

// Method selects which match.Backend the driver uses.
type Method string

const (
	MethodNative    Method = "native"
	MethodReference Method = "reference"
)

// LogLevel gates the driver's logging verbosity, mirroring the original
// system's log_level parameter.
type LogLevel int

const (
	LogWarning LogLevel = iota
	LogInfo
	LogDebug
)

// Options configures one Infer call. Build one with MakeOptions and a list
// of Option functions, the same functional-options shape the teacher uses
// for its scorer/quartet-filter configuration.
type Options struct {
	NumThreads        int
	Method            Method
	RecombinationRate []float64 // per-site; a scalar rate is expanded to this at validation time
	ErrorRate         float64
	LogLevel          LogLevel
	Progress          func(class, totalClasses int)
	DiagnosticsPath   string
	BreakPolytomies   bool
	ReplaceRecombs    bool

	recombScalar float64
	recombIsFlat bool
}

// Option mutates an in-progress Options.
type Option func(*Options)

// WithRecombinationRate sets a single recombination rate applied at every
// site.
func WithRecombinationRate(rho float64) Option {
	return func(o *Options) {
		o.recombScalar = rho
		o.recombIsFlat = true
	}
}

// WithRecombinationRates sets a per-site recombination rate; len(rates) must
// equal the number of sites in the Input passed to Infer.
func WithRecombinationRates(rates []float64) Option {
	return func(o *Options) {
		o.RecombinationRate = append([]float64(nil), rates...)
		o.recombIsFlat = false
	}
}

// WithErrorRate sets the per-site copying error tolerance in [0,1].
func WithErrorRate(rate float64) Option {
	return func(o *Options) { o.ErrorRate = rate }
}

// WithNumThreads bounds the intra-class worker pool. <= 0 means "use
// runtime.GOMAXPROCS".
func WithNumThreads(n int) Option {
	return func(o *Options) { o.NumThreads = n }
}

// WithMethod selects the match.Backend.
func WithMethod(m Method) Option {
	return func(o *Options) { o.Method = m }
}

// WithLogLevel sets logging verbosity.
func WithLogLevel(level LogLevel) Option {
	return func(o *Options) { o.LogLevel = level }
}

// WithProgress registers a progress callback invoked after each frequency
// class (including the final implicit sample class) finishes.
func WithProgress(fn func(class, totalClasses int)) Option {
	return func(o *Options) { o.Progress = fn }
}

// WithDiagnosticsPath causes Infer to write an allele-frequency-spectrum
// plot to path once the run completes.
func WithDiagnosticsPath(path string) Option {
	return func(o *Options) { o.DiagnosticsPath = path }
}

// WithRewrites toggles the two optional tsbuilder edge-set rewrites.
func WithRewrites(breakPolytomies, replaceRecombinations bool) Option {
	return func(o *Options) {
		o.BreakPolytomies = breakPolytomies
		o.ReplaceRecombs = replaceRecombinations
	}
}

// MakeOptions applies opts over sensible defaults and validates the result
// against numSites. numSites is 0 before the caller knows M; pass it once
// Input is in hand.
func MakeOptions(numSites int, opts ...Option) (*Options, error) {
	o := &Options{
		NumThreads:   0,
		Method:       MethodNative,
		ErrorRate:    0,
		LogLevel:     LogWarning,
		recombScalar: 1e-8,
		recombIsFlat: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.ErrorRate < 0 || o.ErrorRate > 1 {
		return nil, fmt.Errorf("%w: %w: error_rate %f out of [0,1]", ErrInvalidOption, sequence.ErrOutOfRange, o.ErrorRate)
	}
	if o.recombIsFlat {
		if o.recombScalar < 0 {
			return nil, fmt.Errorf("%w: %w: recombination_rate %f is negative", ErrInvalidOption, sequence.ErrOutOfRange, o.recombScalar)
		}
		rates := make([]float64, numSites)
		for i := range rates {
			rates[i] = o.recombScalar
		}
		o.RecombinationRate = rates
	} else if len(o.RecombinationRate) != numSites {
		return nil, fmt.Errorf("%w: %w: recombination_rate has %d entries, want %d", ErrInvalidOption, sequence.ErrShapeMismatch, len(o.RecombinationRate), numSites)
	} else {
		for _, r := range o.RecombinationRate {
			if r < 0 {
				return nil, fmt.Errorf("%w: %w: recombination_rate %f is negative", ErrInvalidOption, sequence.ErrOutOfRange, r)
			}
		}
	}
	switch o.Method {
	case MethodNative, MethodReference:
	default:
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalidOption, o.Method)
	}
	o.NumThreads = setNumThreads(o.NumThreads)
	return o, nil
}

// backend resolves Method to its match.Backend implementation.
func (o *Options) backend() match.Backend {
	switch o.Method {
	case MethodReference:
		return match.Reference{}
	default:
		return match.Native{}
	}
}

func setNumThreads(n int) int {
	maxProcs := runtime.GOMAXPROCS(0)
	switch {
	case n > maxProcs:
		log.Printf("num_threads %d is greater than available processors (%d); limiting to %d", n, maxProcs, maxProcs)
		return maxProcs
	case n <= 0:
		return maxProcs
	default:
		return n
	}
}

func (o *Options) logf(level LogLevel, format string, args ...any) {
	if o.LogLevel >= level {
		log.Printf(format, args...)
	}
}
