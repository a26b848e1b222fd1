package training

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/tsawler/emotrain/engine"
	"github.com/tsawler/emotrain/layers"
	"github.com/tsawler/emotrain/tensor"
)

func shortPhase(epochs int, lr float64) PhaseConfig {
	return PhaseConfig{
		Epochs:       epochs,
		LearningRate: lr,
		LRFactor:     0.5,
		LRPatience:   2,
		LRThreshold:  1e-4,
		MinLR:        1e-7,
	}
}

func buildTrainerFixture(t *testing.T, warmEpochs, fineEpochs int) (*engine.Network, TrainerConfig, *Loader, *Loader) {
	t.Helper()

	spec, backbone, err := layers.AssembleClassifier(
		layers.BackboneConfig{Channels: []int{4}, KernelSize: 3, PoolSize: 2},
		layers.ClassifierConfig{
			InputShape:    []int{3, 8, 8},
			NumClasses:    4,
			HeadHidden:    8,
			PoolDropout:   0.0,
			HiddenDropout: 0.0,
		},
	)
	if err != nil {
		t.Fatalf("AssembleClassifier failed: %v", err)
	}

	net, err := engine.NewNetwork(spec, 11)
	if err != nil {
		t.Fatalf("NewNetwork failed: %v", err)
	}

	cfg := TrainerConfig{
		NumClasses:     4,
		BackboneLayers: backbone,
		UnfreezeTop:    1,
		WarmUp:         shortPhase(warmEpochs, 1e-2),
		FineTune:       shortPhase(fineEpochs, 1e-3),
	}

	trainRecords := makeRecords(t, 16, 6, 4)
	valRecords := makeRecords(t, 8, 6, 4)

	trainLoader := newTestLoader(t, trainRecords, LoaderConfig{
		BatchSize: 8, NumClasses: 4, Shuffle: true, Seed: 3, Workers: 2,
	})
	valLoader := newTestLoader(t, valRecords, LoaderConfig{
		BatchSize: 8, NumClasses: 4, Workers: 2,
	})
	return net, cfg, trainLoader, valLoader
}

func TestTrainerRunsBothPhases(t *testing.T) {
	net, cfg, trainLoader, valLoader := buildTrainerFixture(t, 2, 2)

	epochs := []EpochStats{}
	bestCalls := 0
	trainer, err := NewTrainer(net, cfg, Hooks{
		OnEpoch: func(s EpochStats) { epochs = append(epochs, s) },
		OnBest:  func(s EpochStats, n *engine.Network) error { bestCalls++; return nil },
	})
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}

	result, err := trainer.Run(trainLoader, valLoader)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.History) != 4 {
		t.Fatalf("history length = %d, want 4", len(result.History))
	}
	if len(epochs) != 4 {
		t.Errorf("OnEpoch calls = %d, want 4", len(epochs))
	}

	wantPhases := []Phase{WarmUp, WarmUp, FineTune, FineTune}
	for i, s := range result.History {
		if s.Phase != wantPhases[i] {
			t.Errorf("epoch %d phase = %v, want %v", i, s.Phase, wantPhases[i])
		}
		if math.IsNaN(s.TrainLoss) || math.IsInf(s.TrainLoss, 0) {
			t.Errorf("epoch %d train loss = %g", i, s.TrainLoss)
		}
	}

	// The first epoch always improves on the empty baseline.
	if bestCalls < 1 {
		t.Error("OnBest never called")
	}
	if result.BestAccuracy < 0 || result.BestAccuracy > 1 {
		t.Errorf("best accuracy = %g, outside [0, 1]", result.BestAccuracy)
	}
	if !result.History[0].IsBest {
		t.Error("first epoch not marked best")
	}
}

func TestTrainerKeepsFrozenBackbone(t *testing.T) {
	net, cfg, trainLoader, valLoader := buildTrainerFixture(t, 2, 1)
	cfg.UnfreezeTop = 0 // backbone stays frozen through both phases

	before := []float64{}
	for i := 0; i < cfg.BackboneLayers; i++ {
		for _, p := range net.LayerParams(i) {
			before = append(before, p.Data...)
		}
	}

	trainer, err := NewTrainer(net, cfg, Hooks{})
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}
	if _, err := trainer.Run(trainLoader, valLoader); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	after := []float64{}
	for i := 0; i < cfg.BackboneLayers; i++ {
		for _, p := range net.LayerParams(i) {
			after = append(after, p.Data...)
		}
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("frozen backbone weight %d changed: %g -> %g", i, before[i], after[i])
		}
	}
}

func TestTrainerBestCheckpointMonotone(t *testing.T) {
	net, cfg, trainLoader, valLoader := buildTrainerFixture(t, 3, 3)

	var bestSnapshot []*tensor.Tensor
	var bestAccuracy float64
	trainer, err := NewTrainer(net, cfg, Hooks{
		OnBest: func(s EpochStats, n *engine.Network) error {
			bestSnapshot = n.Snapshot()
			bestAccuracy = s.ValAccuracy
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}

	result, err := trainer.Run(trainLoader, valLoader)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The running best accuracy never decreases, and an epoch is marked
	// best exactly when it raises it.
	best := -1.0
	for i, s := range result.History {
		if s.IsBest != (s.ValAccuracy > best) {
			t.Errorf("epoch %d best flag = %v with accuracy %g against running best %g",
				i, s.IsBest, s.ValAccuracy, best)
		}
		if s.ValAccuracy > best {
			best = s.ValAccuracy
		}
	}
	if result.BestAccuracy != best {
		t.Errorf("result best accuracy = %g, want running best %g", result.BestAccuracy, best)
	}
	if bestAccuracy != best {
		t.Errorf("last best hook accuracy = %g, want %g", bestAccuracy, best)
	}

	// Run restored the weights of the epoch that achieved the best
	// accuracy, which the hook snapshotted at that moment.
	if bestSnapshot == nil {
		t.Fatal("OnBest never called")
	}
	final := net.Snapshot()
	if len(final) != len(bestSnapshot) {
		t.Fatalf("parameter counts differ: %d vs %d", len(final), len(bestSnapshot))
	}
	for i := range final {
		if !final[i].Equal(bestSnapshot[i]) {
			t.Fatalf("parameter %d differs from the best epoch's checkpointed state", i)
		}
	}
}

func TestTrainerNonFiniteLossAborts(t *testing.T) {
	net, cfg, trainLoader, valLoader := buildTrainerFixture(t, 2, 1)
	cfg.ClassWeights = []float64{math.Inf(1), 1, 1, 1}

	trainer, err := NewTrainer(net, cfg, Hooks{})
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}

	_, err = trainer.Run(trainLoader, valLoader)
	if err == nil {
		t.Fatal("expected non-finite loss error")
	}
	var nfl *NonFiniteLossError
	if !errors.As(err, &nfl) {
		t.Fatalf("expected NonFiniteLossError, got %T: %v", err, err)
	}
	if nfl.Phase != WarmUp || nfl.Epoch != 1 {
		t.Errorf("error location = %v epoch %d, want warmup epoch 1", nfl.Phase, nfl.Epoch)
	}
}

func TestTrainerNonFiniteValidationLossAborts(t *testing.T) {
	net, cfg, _, _ := buildTrainerFixture(t, 2, 1)

	// Class 2 never appears in training, so the training loss stays finite,
	// but it does appear in validation where its infinite weight surfaces.
	trainRecords := makeRecords(t, 12, 6, 4)
	for i := range trainRecords {
		trainRecords[i].Label = []int{0, 1, 3}[i%3]
	}
	valRecords := makeRecords(t, 8, 6, 4)
	valRecords[0].Label = 2

	trainLoader := newTestLoader(t, trainRecords, LoaderConfig{
		BatchSize: 6, NumClasses: 4, Shuffle: true, Seed: 3, Workers: 2,
	})
	valLoader := newTestLoader(t, valRecords, LoaderConfig{
		BatchSize: 8, NumClasses: 4, Workers: 2,
	})

	cfg.ClassWeights = []float64{1, 1, math.Inf(1), 1}
	trainer, err := NewTrainer(net, cfg, Hooks{})
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}

	_, err = trainer.Run(trainLoader, valLoader)
	if err == nil {
		t.Fatal("expected non-finite validation loss error")
	}
	var nfl *NonFiniteLossError
	if !errors.As(err, &nfl) {
		t.Fatalf("expected NonFiniteLossError, got %T: %v", err, err)
	}
	if nfl.Phase != WarmUp || nfl.Epoch != 1 {
		t.Errorf("error location = %v epoch %d, want warmup epoch 1", nfl.Phase, nfl.Epoch)
	}
	if nfl.Batch != 0 {
		t.Errorf("batch = %d, want 0 for a validation loss", nfl.Batch)
	}
}

func TestTrainerBestHookErrorAborts(t *testing.T) {
	net, cfg, trainLoader, valLoader := buildTrainerFixture(t, 1, 1)

	hookErr := fmt.Errorf("disk full")
	trainer, err := NewTrainer(net, cfg, Hooks{
		OnBest: func(EpochStats, *engine.Network) error { return hookErr },
	})
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}

	if _, err := trainer.Run(trainLoader, valLoader); !errors.Is(err, hookErr) {
		t.Fatalf("expected hook error, got %v", err)
	}
}

func TestTrainerEmptyValidation(t *testing.T) {
	net, cfg, trainLoader, _ := buildTrainerFixture(t, 1, 1)
	emptyLoader := newTestLoader(t, nil, LoaderConfig{BatchSize: 4, NumClasses: 4})

	trainer, err := NewTrainer(net, cfg, Hooks{})
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}

	_, err = trainer.Run(trainLoader, emptyLoader)
	var eee *EmptyEvaluationError
	if !errors.As(err, &eee) {
		t.Fatalf("expected EmptyEvaluationError, got %T: %v", err, err)
	}
}

func TestTrainerConfigValidation(t *testing.T) {
	net, cfg, _, _ := buildTrainerFixture(t, 1, 1)

	tests := []struct {
		name   string
		mutate func(*TrainerConfig)
	}{
		{"single class", func(c *TrainerConfig) { c.NumClasses = 1 }},
		{"negative backbone", func(c *TrainerConfig) { c.BackboneLayers = -1 }},
		{"negative unfreeze", func(c *TrainerConfig) { c.UnfreezeTop = -1 }},
		{"weight count mismatch", func(c *TrainerConfig) { c.ClassWeights = []float64{1, 1} }},
		{"zero warmup epochs", func(c *TrainerConfig) { c.WarmUp.Epochs = 0 }},
		{"bad finetune lr", func(c *TrainerConfig) { c.FineTune.LearningRate = 0 }},
		{"floor above lr", func(c *TrainerConfig) { c.WarmUp.MinLR = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := cfg
			tt.mutate(&bad)
			if _, err := NewTrainer(net, bad, Hooks{}); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}

	if _, err := NewTrainer(nil, cfg, Hooks{}); err == nil {
		t.Error("expected error for nil network")
	}
}
