// Package sysmon streams host CPU and memory readings to the client.
// One "status" event per sample; a bounded number of samples per run so
// an abandoned browser tab cannot leave a goroutine sampling forever.
package sysmon

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/databench/databench/pkg/analysis"
)

// Options tunes the sampling run.
type Options struct {
	// Samples is how many readings one run streams.
	Samples int

	// Interval is the pause between readings.
	Interval time.Duration
}

// DefaultOptions samples once a second for a minute.
func DefaultOptions() Options {
	return Options{
		Samples:  60,
		Interval: time.Second,
	}
}

func (o Options) withDefaults() Options {
	if o.Samples <= 0 {
		o.Samples = 60
	}
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	return o
}

// New returns the analysis with default options.
func New() *analysis.Analysis {
	return NewWithOptions(DefaultOptions())
}

// NewWithOptions returns the analysis with custom sampling parameters.
// The "run" signal starts a sampling loop; "sample" takes one reading.
func NewWithOptions(opts Options) *analysis.Analysis {
	opts = opts.withDefaults()

	a := analysis.New("sysmon")
	a.Description = "Live host CPU and memory monitor."

	a.On("sample", func(e analysis.Emitter, payload map[string]any) {
		emitReading(e)
	})

	a.On("run", func(e analysis.Emitter, payload map[string]any) {
		for i := 0; i < opts.Samples; i++ {
			if i > 0 {
				time.Sleep(opts.Interval)
			}
			emitReading(e)
		}
		e.Emit("log", map[string]any{"action": "done"})
	})

	return a
}

// emitReading takes one CPU and memory reading and emits it as a status
// event. Read failures become a log event rather than killing the run.
func emitReading(e analysis.Emitter) {
	status := map[string]any{
		"time": time.Now().Unix(),
	}

	if percents, err := cpu.Percent(0, false); err != nil {
		e.Emit("log", map[string]any{"error": "cpu read failed"})
	} else if len(percents) > 0 {
		status["cpu-percent"] = percents[0]
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		e.Emit("log", map[string]any{"error": "memory read failed"})
	} else {
		status["mem-percent"] = vm.UsedPercent
		status["mem-used"] = vm.Used
		status["mem-total"] = vm.Total
	}

	e.Emit("status", status)
}
