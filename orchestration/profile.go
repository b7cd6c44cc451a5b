package orchestration

import (
	"sync"
	"time"
)

// profiler accumulates named stage durations across concurrent pipeline
// stages. Durations for the same stage add up.
type profiler struct {
	mu     sync.Mutex
	stages map[string]time.Duration
}

func newProfiler() *profiler {
	return &profiler{stages: make(map[string]time.Duration)}
}

// track returns a stop function that records the elapsed time under name.
func (p *profiler) track(name string) func() {
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		p.mu.Lock()
		p.stages[name] += elapsed
		p.mu.Unlock()
	}
}

// snapshot returns stage durations in milliseconds.
func (p *profiler) snapshot() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.stages) == 0 {
		return nil
	}
	out := make(map[string]float64, len(p.stages))
	for name, d := range p.stages {
		out[name] = float64(d.Microseconds()) / 1000.0
	}
	return out
}
