package training

import (
	"fmt"
	"math"
)

// PlateauScheduler multiplicatively decays the learning rate when the
// monitored validation loss stops improving, never dropping below a floor.
type PlateauScheduler struct {
	factor    float64
	patience  int
	threshold float64
	minLR     float64

	best float64
	wait int
}

// NewPlateauScheduler returns a scheduler that multiplies the learning rate
// by factor after patience epochs without a loss improvement larger than
// threshold, bounded below by minLR.
func NewPlateauScheduler(factor float64, patience int, threshold, minLR float64) (*PlateauScheduler, error) {
	if factor <= 0 || factor >= 1 {
		return nil, fmt.Errorf("decay factor %g outside (0, 1)", factor)
	}
	if patience < 1 {
		return nil, fmt.Errorf("patience must be at least 1, got %d", patience)
	}
	if threshold < 0 {
		return nil, fmt.Errorf("negative threshold: %g", threshold)
	}
	if minLR < 0 {
		return nil, fmt.Errorf("negative learning rate floor: %g", minLR)
	}
	return &PlateauScheduler{
		factor:    factor,
		patience:  patience,
		threshold: threshold,
		minLR:     minLR,
		best:      math.Inf(1),
	}, nil
}

// Step feeds one epoch's validation loss and returns the learning rate to use
// next.
func (s *PlateauScheduler) Step(valLoss, currentLR float64) float64 {
	if valLoss < s.best-s.threshold {
		s.best = valLoss
		s.wait = 0
		return currentLR
	}

	s.wait++
	if s.wait >= s.patience {
		s.wait = 0
		lr := currentLR * s.factor
		if lr < s.minLR {
			lr = s.minLR
		}
		return lr
	}
	return currentLR
}

// Reset clears the plateau tracking, for reuse across training phases.
func (s *PlateauScheduler) Reset() {
	s.best = math.Inf(1)
	s.wait = 0
}
