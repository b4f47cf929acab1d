package tinyformer

import "math"

// Schedule produces the learning rate for a given optimizer step: linear
// warmup from zero to BaseLR over WarmupSteps, then cosine decay to MinLR at
// TotalSteps.
type Schedule struct {
	BaseLR      float64
	MinLR       float64
	WarmupSteps int
	TotalSteps  int
}

// NewSchedule builds a warmup-plus-cosine schedule from a train config and
// the planned number of optimizer steps.
func NewSchedule(cfg *TrainConfig, totalSteps int) *Schedule {
	warmup := cfg.WarmupSteps
	if warmup >= totalSteps {
		warmup = totalSteps / 10
	}
	return &Schedule{
		BaseLR:      cfg.LearningRate,
		MinLR:       cfg.MinLR,
		WarmupSteps: warmup,
		TotalSteps:  totalSteps,
	}
}

// LR returns the learning rate for step (zero-based).
func (s *Schedule) LR(step int) float64 {
	if s.WarmupSteps > 0 && step < s.WarmupSteps {
		return s.BaseLR * float64(step+1) / float64(s.WarmupSteps)
	}
	if step >= s.TotalSteps {
		return s.MinLR
	}

	progress := float64(step-s.WarmupSteps) / float64(s.TotalSteps-s.WarmupSteps)
	cosine := 0.5 * (1.0 + math.Cos(math.Pi*progress))
	return s.MinLR + (s.BaseLR-s.MinLR)*cosine
}
