package metrics

import "time"

// Window accumulates forward-pass timings across iterations.
type Window struct {
	images  int
	forward time.Duration
	steps   int
	last    time.Duration
}

// Record adds one forward pass over batchSize images.
func (w *Window) Record(batchSize int, forward time.Duration) {
	w.images += batchSize
	w.forward += forward
	w.steps++
	w.last = forward
}

// Steps returns the number of passes recorded since the last snapshot.
func (w *Window) Steps() int {
	return w.steps
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Steps: w.steps}
	if w.forward > 0 {
		snap.ImagesPerSec = float64(w.images) / w.forward.Seconds()
	}
	if w.steps > 0 {
		snap.AvgForwardMS = (w.forward.Seconds() * 1000) / float64(w.steps)
	}
	snap.LastForwardMS = w.last.Seconds() * 1000

	w.images = 0
	w.forward = 0
	w.steps = 0
	w.last = 0
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Steps         int
	ImagesPerSec  float64
	AvgForwardMS  float64
	LastForwardMS float64
}
