package metrics

import (
	"fmt"
	"math"
	"time"
)

// Window accumulates per-batch timings and losses until the next Snapshot.
// Data time is the wait on the prefetch loader; compute time covers forward,
// backward and the optimizer step.
type Window struct {
	pairs   int
	batches int
	data    time.Duration
	compute time.Duration
	lossSum float64
	minLoss float64
	maxLoss float64
	last    float64
}

// Record adds one batch of pairs to the window.
func (w *Window) Record(pairs int, dataTime, computeTime time.Duration, loss float64) {
	if w.batches == 0 {
		w.minLoss, w.maxLoss = loss, loss
	}
	w.pairs += pairs
	w.batches++
	w.data += dataTime
	w.compute += computeTime
	w.lossSum += loss
	w.minLoss = math.Min(w.minLoss, loss)
	w.maxLoss = math.Max(w.maxLoss, loss)
	w.last = loss
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{
		Steps:    w.batches,
		Samples:  w.pairs,
		MinLoss:  w.minLoss,
		MaxLoss:  w.maxLoss,
		LastLoss: w.last,
	}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.pairs) / total.Seconds()
		snap.DataShare = w.data.Seconds() / total.Seconds()
	}
	if w.batches > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.batches)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.batches)
		snap.MeanLoss = w.lossSum / float64(w.batches)
	}
	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics. Losses are per batch.
type Snapshot struct {
	Steps        int
	Samples      int
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	// DataShare is the fraction of wall time spent waiting for batches.
	DataShare float64
	MeanLoss  float64
	MinLoss   float64
	MaxLoss   float64
	LastLoss  float64
}

// Fields formats the timing part of a log line.
func (s Snapshot) Fields() string {
	return fmt.Sprintf("images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f data_share=%.2f",
		s.ImagesPerSec, s.AvgDataMS, s.AvgComputeMS, s.DataShare)
}
