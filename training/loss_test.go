package training

import (
	"math"
	"testing"

	"github.com/tsawler/emotrain/tensor"
)

func TestCrossEntropyPerfectPrediction(t *testing.T) {
	probs, err := tensor.FromData([]float64{1, 0, 0, 0, 1, 0}, 2, 3)
	if err != nil {
		t.Fatalf("FromData failed: %v", err)
	}
	oneHot := [][]float64{{1, 0, 0}, {0, 1, 0}}

	loss, grad, err := NewWeightedCrossEntropy(nil).Compute(probs, oneHot)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if math.Abs(loss) > 1e-9 {
		t.Errorf("loss = %g, want ~0 for perfect predictions", loss)
	}
	for i, g := range grad.Data {
		if math.Abs(g) > 1e-9 {
			t.Errorf("grad[%d] = %g, want ~0", i, g)
		}
	}
}

func TestCrossEntropyUniformPrediction(t *testing.T) {
	probs, err := tensor.FromData([]float64{0.25, 0.25, 0.25, 0.25}, 1, 4)
	if err != nil {
		t.Fatalf("FromData failed: %v", err)
	}
	oneHot := [][]float64{{0, 0, 1, 0}}

	loss, grad, err := NewWeightedCrossEntropy(nil).Compute(probs, oneHot)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if math.Abs(loss-math.Log(4)) > 1e-9 {
		t.Errorf("loss = %g, want ln(4) = %g", loss, math.Log(4))
	}

	// Gradient is (p - y) / N.
	want := []float64{0.25, 0.25, -0.75, 0.25}
	for i, g := range grad.Data {
		if math.Abs(g-want[i]) > 1e-9 {
			t.Errorf("grad[%d] = %g, want %g", i, g, want[i])
		}
	}
}

func TestCrossEntropyClassWeights(t *testing.T) {
	probs, err := tensor.FromData([]float64{0.5, 0.5, 0.5, 0.5}, 2, 2)
	if err != nil {
		t.Fatalf("FromData failed: %v", err)
	}
	oneHot := [][]float64{{1, 0}, {0, 1}}

	unweighted, _, err := NewWeightedCrossEntropy(nil).Compute(probs, oneHot)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	weighted, grad, err := NewWeightedCrossEntropy([]float64{1, 3}).Compute(probs, oneHot)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	// Sample 0 keeps weight 1, sample 1 is tripled: mean rises by
	// (1 + 3) / 2 over the unweighted value.
	if math.Abs(weighted-2*unweighted) > 1e-9 {
		t.Errorf("weighted loss = %g, want %g", weighted, 2*unweighted)
	}

	// Second sample's gradient scaled by its class weight.
	if math.Abs(grad.Data[2]/grad.Data[0]) < 2.9 {
		t.Errorf("weighted gradient ratio = %g, want 3", grad.Data[2]/grad.Data[0])
	}
}

func TestCrossEntropyShapeMismatch(t *testing.T) {
	probs, err := tensor.FromData([]float64{0.5, 0.5}, 1, 2)
	if err != nil {
		t.Fatalf("FromData failed: %v", err)
	}

	loss := NewWeightedCrossEntropy(nil)
	if _, _, err := loss.Compute(probs, [][]float64{{1, 0}, {0, 1}}); err == nil {
		t.Error("expected error for batch size mismatch")
	}
	if _, _, err := loss.Compute(probs, [][]float64{{1, 0, 0}}); err == nil {
		t.Error("expected error for class count mismatch")
	}
}
