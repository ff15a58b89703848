package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"lumen-forge/internal/config"
	"lumen-forge/internal/dataset"
	"lumen-forge/internal/model"
	"lumen-forge/internal/optim"
	"lumen-forge/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to YAML config")
	lowDir := flag.String("low-dir", "", "Override directory of degraded images")
	highDir := flag.String("high-dir", "", "Override directory of reference images")
	epochs := flag.Int("epochs", 0, "Number of training epochs")
	batchSize := flag.Int("batch-size", 0, "Pairs per optimizer step")
	learningRate := flag.Float64("lr", 0, "Initial learning rate")
	numWorkers := flag.Int("num-workers", 0, "Number of data loader workers")
	seed := flag.Int64("seed", 0, "PRNG seed")
	logEvery := flag.Int("log-every", 0, "Log every N steps")
	checkpoint := flag.String("checkpoint", "", "Where to write the trained parameters")
	device := flag.String("device", "", "Compute device (cpu)")
	sizePolicy := flag.String("size-policy", "", "reject, crop or resize")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		LowDir:       *lowDir,
		HighDir:      *highDir,
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		LearningRate: *learningRate,
		NumWorkers:   *numWorkers,
		Seed:         *seed,
		LogEvery:     *logEvery,
		Checkpoint:   *checkpoint,
		Device:       *device,
		SizePolicy:   *sizePolicy,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	dev, err := model.ParseDevice(cfg.Device)
	if err != nil {
		log.Fatalf("invalid device: %v", err)
	}

	src, err := dataset.NewPairedSource(cfg.LowDir, cfg.HighDir, dataset.Options{
		Size:       cfg.Size(),
		MatchNames: cfg.MatchNames,
	})
	if err != nil {
		log.Fatalf("pair %s with %s: %v", cfg.LowDir, cfg.HighDir, err)
	}
	log.Printf("low_dir=%s high_dir=%s pairs=%d", cfg.LowDir, cfg.HighDir, src.Len())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCfg := trainer.RunConfig{
		Source:        src,
		Device:        dev,
		Epochs:        cfg.Epochs,
		BatchSize:     cfg.BatchSize,
		LearningRate:  cfg.LearningRate,
		LRDecayFactor: cfg.LRDecayFactor,
		LRDecayEvery:  cfg.LRDecayEvery,
		Adam: optim.AdamOptions{
			Beta1: cfg.Beta1,
			Beta2: cfg.Beta2,
			Eps:   cfg.Epsilon,
		},
		NumWorkers: cfg.NumWorkers,
		LogEvery:   cfg.LogEvery,
		Seed:       cfg.Seed,
		Checkpoint: cfg.Checkpoint,
	}

	if _, err := trainer.Run(ctx, runCfg); err != nil {
		log.Fatalf("training failed: %v", err)
	}
}
