// Package bench times repeated forward passes of a segmentation model.
package bench

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"time"

	"pspnet/internal/metrics"
	"pspnet/internal/model"
	"pspnet/internal/tensor"
)

// RunConfig captures the knobs required by the latency loop.
type RunConfig struct {
	BatchSize  int
	Height     int
	Width      int
	Iterations int
	// Warmup passes are run but excluded from the result.
	Warmup   int
	LogEvery int
	Seed     int64
	// Classes, when positive, attaches random ground truth in [0, Classes)
	// to every pass so training-mode forwards can compute losses.
	Classes int
}

// Result summarises the measured passes.
type Result struct {
	Measured     int
	AvgForwardMS float64
	ImagesPerSec float64
}

// Run executes Iterations forward passes on fresh random input.
func Run(ctx context.Context, seg model.Segmenter, cfg RunConfig) (Result, error) {
	if cfg.Iterations <= 0 {
		return Result{}, errors.New("bench: iterations must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return Result{}, errors.New("bench: batch size must be > 0")
	}
	if cfg.Height <= 0 || cfg.Width <= 0 {
		return Result{}, errors.New("bench: height and width must be > 0")
	}
	if cfg.Warmup < 0 || cfg.Warmup >= cfg.Iterations {
		return Result{}, errors.New("bench: warmup must be in [0, iterations)")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 1
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	var window, total metrics.Window

	for iter := 1; iter <= cfg.Iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		x := tensor.Rand(rng, cfg.BatchSize, 3, cfg.Height, cfg.Width)
		labels := randomLabels(rng, cfg)

		start := time.Now()
		out, err := seg.Forward(x, labels)
		if err != nil {
			return Result{}, err
		}
		elapsed := time.Since(start)

		if iter > cfg.Warmup {
			total.Record(cfg.BatchSize, elapsed)
		}
		window.Record(cfg.BatchSize, elapsed)

		if iter%cfg.LogEvery == 0 {
			snap := window.Snapshot()
			if out.Pred != nil {
				log.Printf("iter=%d forward_ms=%.2f images_per_sec=%.2f main_loss=%.4f aux_loss=%.4f",
					iter, snap.AvgForwardMS, snap.ImagesPerSec, out.MainLoss, out.AuxLoss)
			} else {
				log.Printf("iter=%d forward_ms=%.2f images_per_sec=%.2f logits=%v",
					iter, snap.AvgForwardMS, snap.ImagesPerSec, out.Logits.Shape())
			}
		}
	}

	snap := total.Snapshot()
	return Result{
		Measured:     snap.Steps,
		AvgForwardMS: snap.AvgForwardMS,
		ImagesPerSec: snap.ImagesPerSec,
	}, nil
}

func randomLabels(rng *rand.Rand, cfg RunConfig) *tensor.Labels {
	if cfg.Classes <= 0 {
		return nil
	}
	labels := tensor.NewLabels(cfg.BatchSize, cfg.Height, cfg.Width, 0)
	for i := range labels.Data {
		labels.Data[i] = rng.Intn(cfg.Classes)
	}
	return labels
}
