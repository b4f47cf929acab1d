// Package tinyformer ties the tensor models and tokenizers into training and
// evaluation pipelines: dataset loading, the optimization loop with learning
// rate scheduling and gradient clipping, and accuracy/perplexity evaluation.
package tinyformer

import "fmt"

// TrainConfig controls a training run.
type TrainConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	MinLR        float64
	WarmupSteps  int
	WeightDecay  float64
	ClipNorm     float64
	LogEvery     int
	Seed         int64
}

// TrainOption mutates a TrainConfig.
type TrainOption func(*TrainConfig)

// NewTrainConfig builds a config with sane defaults, applies the given
// options and validates the result.
func NewTrainConfig(opts ...TrainOption) *TrainConfig {
	cfg := &TrainConfig{
		Epochs:       3,
		BatchSize:    8,
		LearningRate: 3e-4,
		MinLR:        1e-5,
		WarmupSteps:  50,
		WeightDecay:  0.01,
		ClipNorm:     1.0,
		LogEvery:     25,
		Seed:         42,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.validate()
	return cfg
}

func (c *TrainConfig) validate() {
	if c.Epochs <= 0 {
		panic("train config: epochs must be positive")
	}
	if c.BatchSize <= 0 {
		panic("train config: batch size must be positive")
	}
	if c.LearningRate <= 0 {
		panic(fmt.Sprintf("train config: learning rate must be positive, got %g", c.LearningRate))
	}
	if c.MinLR < 0 || c.MinLR > c.LearningRate {
		panic("train config: min learning rate must be in [0, learning rate]")
	}
	if c.WarmupSteps < 0 {
		panic("train config: warmup steps must be non-negative")
	}
	if c.WeightDecay < 0 {
		panic("train config: weight decay must be non-negative")
	}
	if c.LogEvery <= 0 {
		panic("train config: log interval must be positive")
	}
}

// WithEpochs sets the number of passes over the training data.
func WithEpochs(n int) TrainOption {
	return func(c *TrainConfig) { c.Epochs = n }
}

// WithBatchSize sets how many examples accumulate gradients per optimizer
// step.
func WithBatchSize(n int) TrainOption {
	return func(c *TrainConfig) { c.BatchSize = n }
}

// WithLearningRate sets the peak learning rate.
func WithLearningRate(lr float64) TrainOption {
	return func(c *TrainConfig) { c.LearningRate = lr }
}

// WithMinLR sets the floor the cosine decay approaches.
func WithMinLR(lr float64) TrainOption {
	return func(c *TrainConfig) { c.MinLR = lr }
}

// WithWarmupSteps sets how many steps the learning rate ramps up linearly.
func WithWarmupSteps(n int) TrainOption {
	return func(c *TrainConfig) { c.WarmupSteps = n }
}

// WithWeightDecay sets the decoupled weight decay coefficient.
func WithWeightDecay(wd float64) TrainOption {
	return func(c *TrainConfig) { c.WeightDecay = wd }
}

// WithClipNorm sets the global gradient norm ceiling. Zero disables clipping.
func WithClipNorm(norm float64) TrainOption {
	return func(c *TrainConfig) { c.ClipNorm = norm }
}

// WithLogEvery sets how many optimizer steps pass between log lines.
func WithLogEvery(n int) TrainOption {
	return func(c *TrainConfig) { c.LogEvery = n }
}

// WithSeed sets the seed for shuffling and masking.
func WithSeed(seed int64) TrainOption {
	return func(c *TrainConfig) { c.Seed = seed }
}
