package training

import (
	"fmt"

	"github.com/tsawler/emotrain/layers"
)

// Phase identifies one stage of the two-phase transfer-learning schedule.
type Phase int

const (
	// WarmUp trains only the classification head while the whole backbone
	// stays frozen.
	WarmUp Phase = iota
	// FineTune additionally trains the top backbone layers at a reduced
	// learning rate.
	FineTune
)

func (p Phase) String() string {
	switch p {
	case WarmUp:
		return "warmup"
	case FineTune:
		return "finetune"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// PhaseConfig holds the per-phase optimization settings.
type PhaseConfig struct {
	Epochs       int
	LearningRate float64
	LRFactor     float64 // plateau decay multiplier
	LRPatience   int     // epochs without improvement before decay
	LRThreshold  float64 // minimum loss delta counted as improvement
	MinLR        float64 // learning rate floor
}

// DefaultWarmUpConfig returns the standard head-only settings.
func DefaultWarmUpConfig() PhaseConfig {
	return PhaseConfig{
		Epochs:       10,
		LearningRate: 1e-3,
		LRFactor:     0.5,
		LRPatience:   2,
		LRThreshold:  1e-4,
		MinLR:        1e-6,
	}
}

// DefaultFineTuneConfig returns the standard partial-unfreeze settings. The
// learning rate is an order of magnitude below warmup so the unfrozen
// backbone features are adjusted, not destroyed.
func DefaultFineTuneConfig() PhaseConfig {
	return PhaseConfig{
		Epochs:       10,
		LearningRate: 1e-4,
		LRFactor:     0.5,
		LRPatience:   2,
		LRThreshold:  1e-4,
		MinLR:        1e-7,
	}
}

func (c PhaseConfig) validate(name string) error {
	if c.Epochs < 1 {
		return fmt.Errorf("%s: epochs must be at least 1, got %d", name, c.Epochs)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("%s: learning rate must be positive, got %g", name, c.LearningRate)
	}
	if c.LRFactor <= 0 || c.LRFactor >= 1 {
		return fmt.Errorf("%s: decay factor %g outside (0, 1)", name, c.LRFactor)
	}
	if c.LRPatience < 1 {
		return fmt.Errorf("%s: patience must be at least 1, got %d", name, c.LRPatience)
	}
	if c.MinLR < 0 || c.MinLR > c.LearningRate {
		return fmt.Errorf("%s: learning rate floor %g outside [0, %g]", name, c.MinLR, c.LearningRate)
	}
	return nil
}

// FrozenLayers returns the layer indices held frozen during a phase, given
// the model spec, the number of leading backbone layers, and how many
// trailing backbone layers the finetune phase unfreezes. The head is always
// trainable; unfreezeTop counts from the end of the backbone.
func FrozenLayers(spec *layers.ModelSpec, backboneLayers, unfreezeTop int, phase Phase) ([]int, error) {
	if backboneLayers < 0 || backboneLayers > len(spec.Layers) {
		return nil, fmt.Errorf("backbone layer count %d outside [0, %d]", backboneLayers, len(spec.Layers))
	}
	if unfreezeTop < 0 {
		return nil, fmt.Errorf("negative unfreeze count: %d", unfreezeTop)
	}

	frozenEnd := backboneLayers
	if phase == FineTune {
		frozenEnd = backboneLayers - unfreezeTop
		if frozenEnd < 0 {
			frozenEnd = 0
		}
	}

	frozen := make([]int, 0, frozenEnd)
	for i := 0; i < frozenEnd; i++ {
		frozen = append(frozen, i)
	}
	return frozen, nil
}
