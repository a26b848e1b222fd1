// Package training implements the two-phase transfer-learning loop: class
// weighting, batching, plateau learning-rate decay, best-model tracking, and
// evaluation.
package training

import (
	"fmt"
	"math"

	"github.com/tsawler/emotrain/engine"
	"github.com/tsawler/emotrain/tensor"
)

// NonFiniteLossError reports a NaN or infinite loss, from either a training
// batch or the epoch's validation pass. Training stops immediately; a
// diverged model is never silently kept. Batch is zero for validation
// losses.
type NonFiniteLossError struct {
	Phase Phase
	Epoch int
	Batch int
	Loss  float64
}

func (e *NonFiniteLossError) Error() string {
	if e.Batch == 0 {
		return fmt.Sprintf("non-finite validation loss %g in %s epoch %d", e.Loss, e.Phase, e.Epoch)
	}
	return fmt.Sprintf("non-finite loss %g in %s epoch %d batch %d", e.Loss, e.Phase, e.Epoch, e.Batch)
}

// TrainerConfig holds the full two-phase training configuration.
type TrainerConfig struct {
	NumClasses     int
	BackboneLayers int // leading layers treated as the pretrained extractor
	UnfreezeTop    int // trailing backbone layers unfrozen during finetune
	WarmUp         PhaseConfig
	FineTune       PhaseConfig
	ClassWeights   []float64 // nil for unweighted loss
}

// DefaultTrainerConfig returns the standard schedule for a model with the
// given backbone depth.
func DefaultTrainerConfig(numClasses, backboneLayers int) TrainerConfig {
	return TrainerConfig{
		NumClasses:     numClasses,
		BackboneLayers: backboneLayers,
		UnfreezeTop:    3,
		WarmUp:         DefaultWarmUpConfig(),
		FineTune:       DefaultFineTuneConfig(),
	}
}

func (c TrainerConfig) validate() error {
	if c.NumClasses < 2 {
		return fmt.Errorf("class count must be at least 2, got %d", c.NumClasses)
	}
	if c.BackboneLayers < 0 {
		return fmt.Errorf("negative backbone layer count: %d", c.BackboneLayers)
	}
	if c.UnfreezeTop < 0 {
		return fmt.Errorf("negative unfreeze count: %d", c.UnfreezeTop)
	}
	if c.ClassWeights != nil && len(c.ClassWeights) != c.NumClasses {
		return fmt.Errorf("class weight count %d doesn't match class count %d", len(c.ClassWeights), c.NumClasses)
	}
	if err := c.WarmUp.validate("warmup"); err != nil {
		return err
	}
	return c.FineTune.validate("finetune")
}

// EpochStats describes one completed training epoch.
type EpochStats struct {
	Phase        Phase   `json:"phase"`
	Epoch        int     `json:"epoch"` // 1-based within the phase
	LearningRate float64 `json:"learning_rate"`
	TrainLoss    float64 `json:"train_loss"`
	ValLoss      float64 `json:"val_loss"`
	ValAccuracy  float64 `json:"val_accuracy"`
	IsBest       bool    `json:"is_best"`
}

// Hooks lets callers observe training progress. Either field may be nil.
type Hooks struct {
	// OnEpoch runs after every completed epoch.
	OnEpoch func(EpochStats)
	// OnBest runs whenever validation accuracy strictly improves, with the
	// network holding the new best weights. A returned error aborts
	// training.
	OnBest func(EpochStats, *engine.Network) error
}

// Result summarizes a finished run.
type Result struct {
	BestAccuracy float64      `json:"best_accuracy"`
	BestPhase    Phase        `json:"best_phase"`
	BestEpoch    int          `json:"best_epoch"`
	History      []EpochStats `json:"history"`
}

// Trainer drives the two-phase schedule over one network.
type Trainer struct {
	net   *engine.Network
	cfg   TrainerConfig
	loss  *WeightedCrossEntropy
	hooks Hooks

	best         []*tensor.Tensor
	bestAccuracy float64
}

// NewTrainer validates the configuration and returns a trainer.
func NewTrainer(net *engine.Network, cfg TrainerConfig, hooks Hooks) (*Trainer, error) {
	if net == nil {
		return nil, fmt.Errorf("network is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Trainer{
		net:          net,
		cfg:          cfg,
		loss:         NewWeightedCrossEntropy(cfg.ClassWeights),
		hooks:        hooks,
		bestAccuracy: -1,
	}, nil
}

// Run executes the warmup and finetune phases in order, then restores the
// best weights seen on the validation split. Checkpointing against validation
// accuracy spans both phases, so a finetune epoch that regresses never
// replaces a better warmup model.
func (t *Trainer) Run(trainLoader, valLoader *Loader) (*Result, error) {
	if trainLoader.Len() == 0 {
		return nil, fmt.Errorf("training split is empty")
	}
	if valLoader.Len() == 0 {
		return nil, &EmptyEvaluationError{}
	}

	result := &Result{}
	for _, phase := range []Phase{WarmUp, FineTune} {
		if err := t.runPhase(phase, trainLoader, valLoader, result); err != nil {
			return nil, err
		}
	}

	if t.best != nil {
		if err := t.net.Restore(t.best); err != nil {
			return nil, fmt.Errorf("restoring best weights: %w", err)
		}
	}
	result.BestAccuracy = t.bestAccuracy
	return result, nil
}

func (t *Trainer) runPhase(phase Phase, trainLoader, valLoader *Loader, result *Result) error {
	cfg := t.cfg.WarmUp
	if phase == FineTune {
		cfg = t.cfg.FineTune
	}

	frozen, err := FrozenLayers(t.net.Spec(), t.cfg.BackboneLayers, t.cfg.UnfreezeTop, phase)
	if err != nil {
		return err
	}
	if err := t.net.SetFrozen(frozen); err != nil {
		return err
	}

	// Unfreezing changes the trainable set, so each phase gets fresh
	// optimizer state at its own learning rate.
	params, grads := t.net.TrainableParams()
	if len(params) == 0 {
		return fmt.Errorf("%s: no trainable parameters", phase)
	}
	opt := engine.NewAdam(engine.DefaultAdamConfig(cfg.LearningRate), params)

	sched, err := NewPlateauScheduler(cfg.LRFactor, cfg.LRPatience, cfg.LRThreshold, cfg.MinLR)
	if err != nil {
		return err
	}

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		trainLoss, err := t.trainEpoch(phase, epoch, trainLoader, params, grads, opt)
		if err != nil {
			return err
		}

		valLoss, valAcc, err := t.validate(valLoader)
		if err != nil {
			return err
		}
		if math.IsNaN(valLoss) || math.IsInf(valLoss, 0) {
			return &NonFiniteLossError{Phase: phase, Epoch: epoch, Loss: valLoss}
		}

		stats := EpochStats{
			Phase:        phase,
			Epoch:        epoch,
			LearningRate: opt.LearningRate(),
			TrainLoss:    trainLoss,
			ValLoss:      valLoss,
			ValAccuracy:  valAcc,
		}

		if valAcc > t.bestAccuracy {
			t.bestAccuracy = valAcc
			t.best = t.net.Snapshot()
			stats.IsBest = true
			result.BestPhase = phase
			result.BestEpoch = epoch
			if t.hooks.OnBest != nil {
				if err := t.hooks.OnBest(stats, t.net); err != nil {
					return fmt.Errorf("best-model hook: %w", err)
				}
			}
		}

		opt.SetLearningRate(sched.Step(valLoss, opt.LearningRate()))

		result.History = append(result.History, stats)
		if t.hooks.OnEpoch != nil {
			t.hooks.OnEpoch(stats)
		}
	}
	return nil
}

func (t *Trainer) trainEpoch(phase Phase, epoch int, loader *Loader, params, grads []*tensor.Tensor, opt *engine.Adam) (float64, error) {
	totalLoss := 0.0
	batches := 0
	for {
		batch, done, err := loader.Next()
		if done {
			break
		}
		if err != nil {
			return 0, err
		}
		batches++

		probs, err := t.net.Forward(batch.Data, true)
		if err != nil {
			return 0, err
		}

		loss, grad, err := t.loss.Compute(probs, batch.OneHot)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return 0, &NonFiniteLossError{Phase: phase, Epoch: epoch, Batch: batches, Loss: loss}
		}
		totalLoss += loss

		if err := t.net.Backward(grad); err != nil {
			return 0, err
		}
		if err := opt.Step(params, grads); err != nil {
			return 0, err
		}
	}

	if batches == 0 {
		return 0, fmt.Errorf("training split yielded no batches")
	}
	return totalLoss / float64(batches), nil
}

func (t *Trainer) validate(loader *Loader) (loss, accuracy float64, err error) {
	report, err := Evaluate(t.net, loader, t.loss, nil)
	if err != nil {
		return 0, 0, err
	}
	return report.MeanLoss, report.Accuracy, nil
}
