package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"pspnet/internal/bench"
	"pspnet/internal/config"
	"pspnet/internal/imageio"
	"pspnet/internal/model"
	"pspnet/internal/tensor"
)

func main() {
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to YAML config")
	layers := flag.Int("layers", 0, "Backbone depth (18, 50, 101, 152)")
	classes := flag.Int("classes", 0, "Number of output classes")
	zoom := flag.Int("zoom-factor", 0, "Zoom factor (1, 2, 4, 8)")
	variant := flag.String("variant", "", "Output variant (standard, flow, sd)")
	norm := flag.String("norm", "", "Normalization layer (batch, instance)")
	seed := flag.Int64("seed", 0, "PRNG seed")
	batchSize := flag.Int("batch-size", 0, "Benchmark batch size")
	height := flag.Int("height", 0, "Benchmark input height")
	width := flag.Int("width", 0, "Benchmark input width")
	iterations := flag.Int("iterations", 0, "Benchmark iterations")
	logEvery := flag.Int("log-every", 0, "Log every N iterations")
	image := flag.String("image", "", "Segment this image instead of benchmarking")
	labels := flag.String("labels", "", "Score the segmented image against this gray PNG mask")
	output := flag.String("output", "", "Write the predicted label map PNG here")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		Layers:     *layers,
		Classes:    *classes,
		ZoomFactor: *zoom,
		Variant:    *variant,
		Norm:       *norm,
		Seed:       *seed,
		BatchSize:  *batchSize,
		Height:     *height,
		Width:      *width,
		Iterations: *iterations,
		LogEvery:   *logEvery,
		Image:      *image,
		Labels:     *labels,
		Output:     *output,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	opts, err := cfg.ModelOptions()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	net, err := model.New(opts)
	if err != nil {
		log.Fatalf("build model: %v", err)
	}
	log.Printf("layers=%d classes=%d zoom=%d ppm=%t variant=%s training=%t params=%d",
		net.Backbone.Depth(), opts.Classes, opts.ZoomFactor, opts.UsePPM, net.Variant(), net.Training(), net.NumParameters())

	if cfg.Image != "" {
		if err := segment(net, cfg); err != nil {
			log.Fatalf("segment %s: %v", cfg.Image, err)
		}
		return
	}

	if err := model.CheckInputGeometry(cfg.Height, cfg.Width); err != nil {
		log.Printf("warning: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCfg := bench.RunConfig{
		BatchSize:  cfg.BatchSize,
		Height:     cfg.Height,
		Width:      cfg.Width,
		Iterations: cfg.Iterations,
		Warmup:     *cfg.Warmup,
		LogEvery:   cfg.LogEvery,
		Seed:       cfg.Seed,
	}
	if net.Training() && net.Variant() == model.Standard {
		runCfg.Classes = opts.Classes
	}

	res, err := bench.Run(ctx, net, runCfg)
	if err != nil {
		log.Fatalf("benchmark failed: %v", err)
	}
	log.Printf("measured=%d avg_forward_ms=%.2f images_per_sec=%.2f", res.Measured, res.AvgForwardMS, res.ImagesPerSec)
}

func segment(net *model.PSPNet, cfg *config.Config) error {
	f, err := os.Open(cfg.Image)
	if err != nil {
		return err
	}
	defer f.Close()

	x, err := imageio.DecodeImage(f, imageio.ImageNet)
	if err != nil {
		return err
	}
	s := x.Shape()
	if err := model.CheckInputGeometry(s.H, s.W); err != nil {
		log.Printf("warning: %v", err)
	}

	net.SetTraining(false)
	out, err := net.Forward(x, nil)
	if err != nil {
		return err
	}
	pred := tensor.ArgMax(out.Logits)
	log.Printf("image=%s input=%v logits=%v", cfg.Image, s, out.Logits.Shape())

	if cfg.Labels != "" {
		ev, err := score(out.Logits, cfg.Labels, *cfg.IgnoreIndex)
		if err != nil {
			return fmt.Errorf("score %s: %w", cfg.Labels, err)
		}
		log.Printf("labels=%s loss=%.4f pixel_acc=%.4f pixels=%d", cfg.Labels, ev.Loss, ev.Accuracy, ev.Pixels)
	}

	if cfg.Output == "" {
		return nil
	}
	w, err := os.Create(cfg.Output)
	if err != nil {
		return err
	}
	if err := imageio.EncodeLabels(w, pred, 0); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	log.Printf("wrote %s", cfg.Output)
	return nil
}

func score(logits *tensor.Tensor, path string, ignore int) (*model.Evaluation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	y, err := imageio.DecodeLabels(f)
	if err != nil {
		return nil, err
	}
	return model.Evaluate(logits, y, ignore)
}
