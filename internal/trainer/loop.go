package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"lumen-forge/internal/dataset"
	"lumen-forge/internal/metrics"
	"lumen-forge/internal/model"
	"lumen-forge/internal/optim"
)

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Source        dataset.Source
	Device        model.Device
	Epochs        int
	BatchSize     int
	LearningRate  float64
	LRDecayFactor float64
	LRDecayEvery  int
	Adam          optim.AdamOptions
	NumWorkers    int
	LogEvery      int
	Seed          int64
	// Checkpoint is where the final parameters are written. Empty skips it.
	Checkpoint string
}

// Result summarises a completed run.
type Result struct {
	Enhancer *model.Enhancer
	// EpochLosses holds the mean batch loss of every epoch.
	EpochLosses  []float64
	LearningRate float64
	Steps        int
}

// Run trains a fresh Enhancer on cfg.Source. Any failure aborts the run and
// no checkpoint is written.
func Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	if cfg.Source == nil || cfg.Source.Len() == 0 {
		return nil, errors.New("trainer: empty source")
	}
	if cfg.Epochs <= 0 {
		return nil, errors.New("trainer: epochs must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("trainer: batch size must be > 0")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 10
	}
	if cfg.Adam == (optim.AdamOptions{}) {
		cfg.Adam = optim.DefaultAdamOptions()
	}

	enh, err := model.NewEnhancer(cfg.Device, cfg.Seed)
	if err != nil {
		return nil, err
	}
	params := enh.Params()
	adam, err := optim.NewAdam(params, cfg.Adam)
	if err != nil {
		return nil, err
	}
	schedule, err := optim.NewStepSchedule(cfg.LearningRate, cfg.LRDecayFactor, cfg.LRDecayEvery)
	if err != nil {
		return nil, err
	}
	log.Printf("device=%s params=%d pairs=%d batch_size=%d epochs=%d",
		enh.Device(), model.NumValues(params), cfg.Source.Len(), cfg.BatchSize, cfg.Epochs)

	t := &run{cfg: cfg, enh: enh, adam: adam, schedule: schedule}
	rng := rand.New(rand.NewSource(cfg.Seed))
	res := &Result{Enhancer: enh}

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		order := dataset.BatchOrder(cfg.Source.Len(), cfg.BatchSize, rng)
		snap, err := t.epoch(ctx, order)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		rate := schedule.Rate()
		schedule.Advance()
		res.EpochLosses = append(res.EpochLosses, snap.MeanLoss)
		log.Printf("epoch=%d/%d loss=%.4f lr=%g images_per_sec=%.1f",
			epoch, cfg.Epochs, snap.MeanLoss, rate, snap.ImagesPerSec)
	}
	res.LearningRate = schedule.Rate()
	res.Steps = adam.Steps()

	if cfg.Checkpoint != "" {
		meta := model.SnapshotMeta{Epochs: cfg.Epochs, LearningRate: res.LearningRate}
		if err := enh.SaveSnapshot(cfg.Checkpoint, meta); err != nil {
			return nil, err
		}
		log.Printf("checkpoint=%s", cfg.Checkpoint)
	}
	return res, nil
}

// run is the single writer of the parameters and optimizer state.
type run struct {
	cfg      RunConfig
	enh      *model.Enhancer
	adam     *optim.Adam
	schedule *optim.StepSchedule

	steps  metrics.Window
	global int
}

func (r *run) epoch(parent context.Context, order [][]int) (metrics.Snapshot, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	batches, errs, err := dataset.StartLoader(ctx, r.cfg.Source, dataset.LoaderOptions{
		Batches:    order,
		NumWorkers: r.cfg.NumWorkers,
	})
	if err != nil {
		return metrics.Snapshot{}, err
	}

	var window metrics.Window
	for range order {
		startData := time.Now()
		batch, err := nextBatch(ctx, batches, errs)
		if err != nil {
			return metrics.Snapshot{}, err
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		loss, err := r.step(batch)
		if err != nil {
			return metrics.Snapshot{}, err
		}
		computeTime := time.Since(startCompute)

		window.Record(len(batch.Pairs), dataTime, computeTime, loss)
		r.steps.Record(len(batch.Pairs), dataTime, computeTime, loss)
		r.global++
		if r.global%r.cfg.LogEvery == 0 {
			snap := r.steps.Snapshot()
			log.Printf("step=%d %s loss=%.4f loss_range=[%.4f, %.4f]",
				r.global, snap.Fields(), snap.LastLoss, snap.MinLoss, snap.MaxLoss)
		}
	}
	return window.Snapshot(), nil
}

// step runs forward and backward over every pair of the batch and applies
// one optimizer update. The returned loss is the mean absolute error over all
// elements of the batch.
func (r *run) step(batch dataset.Batch) (float64, error) {
	params := r.enh.Params()
	model.ZeroGrads(params)

	total := 0
	for _, p := range batch.Pairs {
		total += p.High.Len()
	}
	scale := 1 / float64(total)

	var loss float64
	for _, p := range batch.Pairs {
		pass, err := r.enh.Forward(p.Low)
		if err != nil {
			return 0, fmt.Errorf("pair %d (%s): %w", p.Index, p.LowName, err)
		}
		l, grad, err := L1Loss(pass.Output(), p.High, scale)
		if err != nil {
			return 0, fmt.Errorf("pair %d (%s): %w", p.Index, p.HighName, err)
		}
		pass.Backward(grad)
		loss += l
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, fmt.Errorf("trainer: non-finite loss %v at step %d", loss, r.adam.Steps()+1)
	}
	if err := r.adam.Step(r.schedule.Rate()); err != nil {
		return 0, err
	}
	return loss, nil
}

func nextBatch(ctx context.Context, batches <-chan dataset.Batch, errs <-chan error) (dataset.Batch, error) {
	select {
	case <-ctx.Done():
		return dataset.Batch{}, ctx.Err()
	case b, ok := <-batches:
		if ok {
			return b, nil
		}
		if err := <-errs; err != nil {
			return dataset.Batch{}, err
		}
		if err := ctx.Err(); err != nil {
			return dataset.Batch{}, err
		}
		return dataset.Batch{}, errors.New("loader closed early")
	}
}
