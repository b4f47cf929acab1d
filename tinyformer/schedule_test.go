package tinyformer

import (
	"math"
	"testing"
)

func TestScheduleWarmup(t *testing.T) {
	s := &Schedule{BaseLR: 1e-3, MinLR: 1e-5, WarmupSteps: 10, TotalSteps: 100}

	prev := 0.0
	for step := 0; step < 10; step++ {
		lr := s.LR(step)
		if lr <= prev {
			t.Errorf("warmup should be increasing: step %d lr %v <= %v", step, lr, prev)
		}
		prev = lr
	}

	if got := s.LR(9); math.Abs(got-1e-3) > 1e-9 {
		t.Errorf("last warmup step lr = %v, expected peak 1e-3", got)
	}
}

func TestScheduleCosineDecay(t *testing.T) {
	s := &Schedule{BaseLR: 1e-3, MinLR: 1e-5, WarmupSteps: 10, TotalSteps: 100}

	prev := s.LR(10)
	for step := 11; step < 100; step++ {
		lr := s.LR(step)
		if lr > prev {
			t.Errorf("decay should be non-increasing: step %d lr %v > %v", step, lr, prev)
		}
		if lr < s.MinLR-1e-12 {
			t.Errorf("lr %v fell below floor %v", lr, s.MinLR)
		}
		prev = lr
	}
}

func TestScheduleBeyondTotal(t *testing.T) {
	s := &Schedule{BaseLR: 1e-3, MinLR: 1e-5, WarmupSteps: 10, TotalSteps: 100}

	if got := s.LR(100); got != s.MinLR {
		t.Errorf("lr at total steps = %v, expected floor %v", got, s.MinLR)
	}
	if got := s.LR(500); got != s.MinLR {
		t.Errorf("lr past total steps = %v, expected floor %v", got, s.MinLR)
	}
}

func TestNewScheduleClampsWarmup(t *testing.T) {
	cfg := NewTrainConfig(WithWarmupSteps(1000))
	s := NewSchedule(cfg, 20)

	if s.WarmupSteps >= 20 {
		t.Errorf("warmup %d should be clamped below total steps 20", s.WarmupSteps)
	}
}
