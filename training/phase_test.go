package training

import (
	"testing"

	"github.com/tsawler/emotrain/layers"
)

func tinySpec(t *testing.T) (*layers.ModelSpec, int) {
	t.Helper()
	spec, backbone, err := layers.AssembleClassifier(
		layers.BackboneConfig{Channels: []int{4, 8}, KernelSize: 3, PoolSize: 2},
		layers.ClassifierConfig{
			InputShape:    []int{3, 16, 16},
			NumClasses:    4,
			HeadHidden:    8,
			PoolDropout:   0.0,
			HiddenDropout: 0.0,
		},
	)
	if err != nil {
		t.Fatalf("AssembleClassifier failed: %v", err)
	}
	return spec, backbone
}

func TestFrozenLayersWarmUp(t *testing.T) {
	spec, backbone := tinySpec(t)

	frozen, err := FrozenLayers(spec, backbone, 3, WarmUp)
	if err != nil {
		t.Fatalf("FrozenLayers failed: %v", err)
	}

	// Warmup freezes the entire backbone.
	if len(frozen) != backbone {
		t.Fatalf("warmup frozen count = %d, want %d", len(frozen), backbone)
	}
	for i, idx := range frozen {
		if idx != i {
			t.Errorf("frozen[%d] = %d, want %d", i, idx, i)
		}
	}
}

func TestFrozenLayersFineTune(t *testing.T) {
	spec, backbone := tinySpec(t)

	frozen, err := FrozenLayers(spec, backbone, 3, FineTune)
	if err != nil {
		t.Fatalf("FrozenLayers failed: %v", err)
	}
	if len(frozen) != backbone-3 {
		t.Errorf("finetune frozen count = %d, want %d", len(frozen), backbone-3)
	}
}

func TestFrozenLayersUnfreezeEverything(t *testing.T) {
	spec, backbone := tinySpec(t)

	frozen, err := FrozenLayers(spec, backbone, backbone+5, FineTune)
	if err != nil {
		t.Fatalf("FrozenLayers failed: %v", err)
	}
	if len(frozen) != 0 {
		t.Errorf("frozen count = %d, want 0 when unfreeze exceeds backbone", len(frozen))
	}
}

func TestFrozenLayersInvalidInput(t *testing.T) {
	spec, _ := tinySpec(t)

	if _, err := FrozenLayers(spec, len(spec.Layers)+1, 0, WarmUp); err == nil {
		t.Error("expected error for backbone count beyond model depth")
	}
	if _, err := FrozenLayers(spec, 2, -1, FineTune); err == nil {
		t.Error("expected error for negative unfreeze count")
	}
}

func TestPhaseString(t *testing.T) {
	if WarmUp.String() != "warmup" || FineTune.String() != "finetune" {
		t.Errorf("phase names = %q, %q", WarmUp.String(), FineTune.String())
	}
}
