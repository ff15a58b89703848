package optim

import (
	"fmt"
	"math"
)

// StepSchedule multiplies the learning rate by Factor after every Every
// completed epochs.
type StepSchedule struct {
	base   float64
	factor float64
	every  int
	epochs int
}

// NewStepSchedule starts a schedule at base with zero completed epochs.
func NewStepSchedule(base, factor float64, every int) (*StepSchedule, error) {
	if base <= 0 {
		return nil, fmt.Errorf("schedule: base rate must be > 0 (got %g)", base)
	}
	if factor <= 0 || factor > 1 {
		return nil, fmt.Errorf("schedule: decay factor must be in (0, 1] (got %g)", factor)
	}
	if every <= 0 {
		return nil, fmt.Errorf("schedule: decay interval must be > 0 (got %d)", every)
	}
	return &StepSchedule{base: base, factor: factor, every: every}, nil
}

// Rate is the learning rate for the next epoch.
func (s *StepSchedule) Rate() float64 {
	return RateAfter(s.base, s.factor, s.every, s.epochs)
}

// Advance records one completed epoch.
func (s *StepSchedule) Advance() {
	s.epochs++
}

// Epochs is the number of epochs recorded by Advance.
func (s *StepSchedule) Epochs() int {
	return s.epochs
}

// RateAfter returns base * factor^floor(epochs/every).
func RateAfter(base, factor float64, every, epochs int) float64 {
	return base * math.Pow(factor, float64(epochs/every))
}
