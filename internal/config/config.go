package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"lumen-forge/internal/dataset"
	"lumen-forge/internal/model"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	LowDir        string  `yaml:"low_dir"`
	HighDir       string  `yaml:"high_dir"`
	Epochs        int     `yaml:"epochs"`
	BatchSize     int     `yaml:"batch_size"`
	LearningRate  float64 `yaml:"learning_rate"`
	LRDecayFactor float64 `yaml:"lr_decay_factor"`
	LRDecayEvery  int     `yaml:"lr_decay_every"`
	Beta1         float64 `yaml:"beta1"`
	Beta2         float64 `yaml:"beta2"`
	Epsilon       float64 `yaml:"epsilon"`
	NumWorkers    int     `yaml:"num_workers"`
	Seed          int64   `yaml:"seed"`
	LogEvery      int     `yaml:"log_every"`
	Checkpoint    string  `yaml:"checkpoint"`
	Device        string  `yaml:"device"`
	SizePolicy    string  `yaml:"size_policy"`
	Width         int     `yaml:"width"`
	Height        int     `yaml:"height"`
	MatchNames    bool    `yaml:"match_names"`
}

// Default returns the config used for keys a file leaves unset.
func Default() *Config {
	return &Config{
		Epochs:        50,
		BatchSize:     8,
		LearningRate:  1e-4,
		LRDecayFactor: 0.5,
		LRDecayEvery:  10,
		Beta1:         0.9,
		Beta2:         0.999,
		Epsilon:       1e-8,
		NumWorkers:    2,
		Seed:          1,
		LogEvery:      10,
		Device:        string(model.CPU),
		SizePolicy:    string(dataset.Reject),
	}
}

// Overrides captures CLI supplied values.
type Overrides struct {
	LowDir       string
	HighDir      string
	Epochs       int
	BatchSize    int
	LearningRate float64
	NumWorkers   int
	Seed         int64
	LogEvery     int
	Checkpoint   string
	Device       string
	SizePolicy   string
}

// Load reads a Config from YAML. Callers apply overrides and then call
// Validate.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.LowDir != "" {
		c.LowDir = o.LowDir
	}
	if o.HighDir != "" {
		c.HighDir = o.HighDir
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.Checkpoint != "" {
		c.Checkpoint = o.Checkpoint
	}
	if o.Device != "" {
		c.Device = o.Device
	}
	if o.SizePolicy != "" {
		c.SizePolicy = o.SizePolicy
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.LowDir == "" || c.HighDir == "" {
		return errors.New("both low_dir and high_dir must be set")
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.LRDecayFactor <= 0 || c.LRDecayFactor > 1 {
		return fmt.Errorf("lr_decay_factor must be in (0, 1] (got %g)", c.LRDecayFactor)
	}
	if c.LRDecayEvery <= 0 {
		return fmt.Errorf("lr_decay_every must be > 0 (got %d)", c.LRDecayEvery)
	}
	if c.Beta1 < 0 || c.Beta1 >= 1 || c.Beta2 < 0 || c.Beta2 >= 1 {
		return fmt.Errorf("beta1 and beta2 must be in [0, 1) (got %g, %g)", c.Beta1, c.Beta2)
	}
	if c.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be > 0 (got %g)", c.Epsilon)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	if _, err := model.ParseDevice(c.Device); err != nil {
		return err
	}
	if err := c.Size().Validate(); err != nil {
		return err
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 10
	}
	return nil
}

// Size returns the decode-time size options. An unparsable policy is passed
// through so that SizeOptions.Validate reports it.
func (c *Config) Size() dataset.SizeOptions {
	policy, err := dataset.ParseSizePolicy(c.SizePolicy)
	if err != nil {
		policy = dataset.SizePolicy(c.SizePolicy)
	}
	return dataset.SizeOptions{Policy: policy, Width: c.Width, Height: c.Height}
}
