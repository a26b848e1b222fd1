package engine

import (
	"fmt"
	"math"

	"github.com/tsawler/emotrain/tensor"
)

// AdamConfig holds Adam optimizer hyperparameters.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

// DefaultAdamConfig returns standard Adam hyperparameters.
func DefaultAdamConfig(lr float64) AdamConfig {
	return AdamConfig{
		LearningRate: lr,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Adam implements the Adam update rule over a fixed parameter set.
// Moment buffers are positional, so an Adam instance is bound to the
// parameter slice it was created for; when the trainable set changes
// (e.g. at a phase transition) a fresh optimizer must be created.
type Adam struct {
	cfg AdamConfig
	m   []*tensor.Tensor
	v   []*tensor.Tensor
	t   int
}

// NewAdam creates an Adam optimizer with zeroed moment buffers for params.
func NewAdam(cfg AdamConfig, params []*tensor.Tensor) *Adam {
	a := &Adam{
		cfg: cfg,
		m:   make([]*tensor.Tensor, len(params)),
		v:   make([]*tensor.Tensor, len(params)),
	}
	for i, p := range params {
		a.m[i] = tensor.New(p.Shape...)
		a.v[i] = tensor.New(p.Shape...)
	}
	return a
}

// LearningRate returns the current learning rate.
func (a *Adam) LearningRate() float64 {
	return a.cfg.LearningRate
}

// SetLearningRate adjusts the learning rate without resetting moments.
// Used by the plateau scheduler between epochs.
func (a *Adam) SetLearningRate(lr float64) {
	a.cfg.LearningRate = lr
}

// Step applies one Adam update. params and grads must be the slices the
// optimizer was created for, in the same order.
func (a *Adam) Step(params []*tensor.Tensor, grads []*tensor.Tensor) error {
	if len(params) != len(a.m) {
		return fmt.Errorf("optimizer bound to %d parameters, got %d", len(a.m), len(params))
	}
	if len(grads) != len(params) {
		return fmt.Errorf("got %d gradients for %d parameters", len(grads), len(params))
	}

	a.t++
	bc1 := 1 - math.Pow(a.cfg.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.cfg.Beta2, float64(a.t))

	for i, p := range params {
		g := grads[i]
		m := a.m[i]
		v := a.v[i]

		for j := range p.Data {
			grad := g.Data[j]
			m.Data[j] = a.cfg.Beta1*m.Data[j] + (1-a.cfg.Beta1)*grad
			v.Data[j] = a.cfg.Beta2*v.Data[j] + (1-a.cfg.Beta2)*grad*grad

			mHat := m.Data[j] / bc1
			vHat := v.Data[j] / bc2
			p.Data[j] -= a.cfg.LearningRate * mHat / (math.Sqrt(vHat) + a.cfg.Epsilon)
		}
	}
	return nil
}
