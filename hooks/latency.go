package hooks

import (
	"fmt"
	"sort"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/Skryldev/image-loader/core"
)

// LatencyTracker keeps per-stage latency quantiles in DDSketches. It is a
// MetricsCollector that only looks at processing times.
type LatencyTracker struct {
	mu               sync.Mutex
	sketches         map[string]*ddsketch.DDSketch
	relativeAccuracy float64
}

// NewLatencyTracker returns a tracker whose quantiles are within
// relativeAccuracy (0.01 = 1%) of the true value.
func NewLatencyTracker(relativeAccuracy float64) *LatencyTracker {
	return &LatencyTracker{
		sketches:         make(map[string]*ddsketch.DDSketch),
		relativeAccuracy: relativeAccuracy,
	}
}

// RecordProcessingTime adds d, in milliseconds, to the stage's sketch.
func (lt *LatencyTracker) RecordProcessingTime(stage string, d interface{ Seconds() float64 }) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	sketch, ok := lt.sketches[stage]
	if !ok {
		var err error
		sketch, err = ddsketch.LogUnboundedDenseDDSketch(lt.relativeAccuracy)
		if err != nil {
			sketch, _ = ddsketch.NewDefaultDDSketch(0.01)
		}
		lt.sketches[stage] = sketch
	}
	_ = sketch.Add(d.Seconds() * 1000)
}

func (lt *LatencyTracker) RecordThroughput(int64)         {}
func (lt *LatencyTracker) RecordMemory(int64)             {}
func (lt *LatencyTracker) RecordError(string, string)     {}
func (lt *LatencyTracker) RecordCacheLookup(string, bool) {}

// LatencyStats summarises one stage, in milliseconds.
type LatencyStats struct {
	Stage string
	Count int64
	Min   float64
	P50   float64
	P90   float64
	P99   float64
	Max   float64
}

// Stats returns the summary for stage.
func (lt *LatencyTracker) Stats(stage string) (LatencyStats, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	sketch, ok := lt.sketches[stage]
	if !ok {
		return LatencyStats{}, fmt.Errorf("hooks: no latency data for stage %q", stage)
	}
	st := LatencyStats{Stage: stage, Count: int64(sketch.GetCount())}
	if st.Count == 0 {
		return st, nil
	}
	st.Min, _ = sketch.GetMinValue()
	st.P50, _ = sketch.GetValueAtQuantile(0.50)
	st.P90, _ = sketch.GetValueAtQuantile(0.90)
	st.P99, _ = sketch.GetValueAtQuantile(0.99)
	st.Max, _ = sketch.GetMaxValue()
	return st, nil
}

// Stages lists the stages seen so far, sorted.
func (lt *LatencyTracker) Stages() []string {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	stages := make([]string, 0, len(lt.sketches))
	for s := range lt.sketches {
		stages = append(stages, s)
	}
	sort.Strings(stages)
	return stages
}

var _ core.MetricsCollector = (*LatencyTracker)(nil)
