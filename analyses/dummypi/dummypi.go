// Package dummypi is the canonical demo analysis: a Monte Carlo
// estimate of pi that streams intermediate results while it runs.
//
// On connect it draws random points in the unit square and counts how
// many land inside the unit circle. Every ReportEvery draws it emits a
// "log" event with the raw state and a "status" event with the current
// estimate and its uncertainty, then finishes with a final "log"
// carrying {"action": "done"}.
package dummypi

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/databench/databench/pkg/analysis"
)

// Options tunes the simulation. The defaults mirror the classic demo:
// ten thousand draws, one millisecond apart, reporting every hundred.
type Options struct {
	// Draws is the total number of random points.
	Draws int

	// Interval is the pause between draws. Zero disables the pause,
	// which is what tests want.
	Interval time.Duration

	// ReportEvery is how many draws pass between progress reports.
	ReportEvery int

	// Seed makes the point sequence deterministic when non-zero.
	Seed uint64
}

// DefaultOptions returns the classic demo parameters.
func DefaultOptions() Options {
	return Options{
		Draws:       10000,
		Interval:    time.Millisecond,
		ReportEvery: 100,
	}
}

func (o Options) withDefaults() Options {
	if o.Draws <= 0 {
		o.Draws = 10000
	}
	if o.ReportEvery <= 0 {
		o.ReportEvery = 100
	}
	return o
}

// New returns the analysis with default options.
func New() *analysis.Analysis {
	return NewWithOptions(DefaultOptions())
}

// NewWithOptions returns the analysis with custom simulation parameters.
func NewWithOptions(opts Options) *analysis.Analysis {
	opts = opts.withDefaults()

	a := analysis.New("dummypi")
	a.Description = "Calculating pi the simple way, but slowly. " +
		"A Monte Carlo estimate that streams progress while it runs."

	a.On(analysis.SignalConnect, func(e analysis.Emitter, payload map[string]any) {
		run(e, opts)
	})

	return a
}

func run(e analysis.Emitter, opts Options) {
	var randFloat func() float64
	if opts.Seed != 0 {
		rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))
		randFloat = rng.Float64
	} else {
		randFloat = rand.Float64
	}

	inside := 0
	for draws := 1; draws <= opts.Draws; draws++ {
		r1 := randFloat()
		r2 := randFloat()
		if r1*r1+r2*r2 < 1.0 {
			inside++
		}

		if opts.Interval > 0 {
			time.Sleep(opts.Interval)
		}

		if draws%opts.ReportEvery == 0 {
			e.Emit("log", map[string]any{
				"draws":  draws,
				"inside": inside,
				"r1":     r1,
				"r2":     r2,
			})

			p := float64(inside) / float64(draws)
			uncertainty := 4.0 * math.Sqrt(float64(draws)*p*(1.0-p)) / float64(draws)
			e.Emit("status", map[string]any{
				"pi-estimate":    4.0 * p,
				"pi-uncertainty": uncertainty,
			})
		}
	}

	e.Emit("log", map[string]any{"action": "done"})
}
