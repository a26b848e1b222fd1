package training

import (
	"fmt"
	"math"

	"github.com/tsawler/emotrain/tensor"
)

const logEpsilon = 1e-12

// WeightedCrossEntropy computes class-weighted categorical cross-entropy over
// a batch of probability rows, together with its gradient with respect to the
// pre-softmax logits. The softmax layer passes gradients through unchanged,
// so the combined derivative is simply (p - y) scaled per sample.
type WeightedCrossEntropy struct {
	weights []float64
}

// NewWeightedCrossEntropy returns a loss using the given per-class weights.
// Pass nil weights for the unweighted loss.
func NewWeightedCrossEntropy(weights []float64) *WeightedCrossEntropy {
	return &WeightedCrossEntropy{weights: weights}
}

// Compute returns the mean weighted cross-entropy over the batch and the
// logit gradient. probs is [N, K] softmax output; oneHot is the matching
// [N, K] target matrix.
func (l *WeightedCrossEntropy) Compute(probs *tensor.Tensor, oneHot [][]float64) (float64, *tensor.Tensor, error) {
	if len(probs.Shape) != 2 {
		return 0, nil, fmt.Errorf("expected [batch, classes] probabilities, got shape %v", probs.Shape)
	}
	batch, classes := probs.Shape[0], probs.Shape[1]
	if len(oneHot) != batch {
		return 0, nil, fmt.Errorf("batch size mismatch: %d probability rows, %d targets", batch, len(oneHot))
	}

	grad := tensor.New(batch, classes)
	total := 0.0
	invN := 1.0 / float64(batch)

	for i := 0; i < batch; i++ {
		targets := oneHot[i]
		if len(targets) != classes {
			return 0, nil, fmt.Errorf("target row %d has %d classes, want %d", i, len(targets), classes)
		}

		w := 1.0
		if l.weights != nil {
			for c, y := range targets {
				if y > 0 {
					w = l.weights[c]
					break
				}
			}
		}

		for c := 0; c < classes; c++ {
			p := probs.Data[i*classes+c]
			y := targets[c]
			if y > 0 {
				total += -w * y * math.Log(math.Max(p, logEpsilon))
			}
			grad.Data[i*classes+c] = w * (p - y) * invN
		}
	}

	return total * invN, grad, nil
}
