package training

import (
	"fmt"
	"math"

	"github.com/tsawler/emotrain/tensor"
)

// ConfusionMatrix accumulates prediction counts. Rows are true classes,
// columns predicted classes.
type ConfusionMatrix struct {
	numClasses int
	counts     [][]int
	total      int
}

// NewConfusionMatrix returns an empty matrix for numClasses classes.
func NewConfusionMatrix(numClasses int) (*ConfusionMatrix, error) {
	if numClasses < 2 {
		return nil, fmt.Errorf("class count must be at least 2, got %d", numClasses)
	}
	counts := make([][]int, numClasses)
	for i := range counts {
		counts[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{numClasses: numClasses, counts: counts}, nil
}

// Update accumulates one batch of predictions. probs is [N, K] softmax
// output; labels gives the N true classes. The predicted class is the argmax
// of each row, with ties broken toward the lowest index.
func (cm *ConfusionMatrix) Update(probs *tensor.Tensor, labels []int) error {
	if len(probs.Shape) != 2 || probs.Shape[1] != cm.numClasses {
		return fmt.Errorf("expected [batch, %d] probabilities, got shape %v", cm.numClasses, probs.Shape)
	}
	if probs.Shape[0] != len(labels) {
		return fmt.Errorf("batch size mismatch: %d probability rows, %d labels", probs.Shape[0], len(labels))
	}

	for i, label := range labels {
		if label < 0 || label >= cm.numClasses {
			return fmt.Errorf("label %d outside [0, %d)", label, cm.numClasses)
		}
		pred := argmax(probs.Data[i*cm.numClasses : (i+1)*cm.numClasses])
		cm.counts[label][pred]++
		cm.total++
	}
	return nil
}

func argmax(row []float64) int {
	best := 0
	for i := 1; i < len(row); i++ {
		if row[i] > row[best] {
			best = i
		}
	}
	return best
}

// Total returns the number of accumulated samples.
func (cm *ConfusionMatrix) Total() int {
	return cm.total
}

// Counts returns a copy of the raw count matrix.
func (cm *ConfusionMatrix) Counts() [][]int {
	out := make([][]int, cm.numClasses)
	for i, row := range cm.counts {
		out[i] = make([]int, cm.numClasses)
		copy(out[i], row)
	}
	return out
}

// Accuracy returns the fraction of samples whose predicted class matched the
// true class.
func (cm *ConfusionMatrix) Accuracy() float64 {
	if cm.total == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < cm.numClasses; i++ {
		correct += cm.counts[i][i]
	}
	return float64(correct) / float64(cm.total)
}

// Normalized returns the matrix with each row divided by its sum, so row i
// reads as the distribution of predictions for true class i. Rows of classes
// with no samples are all NaN.
func (cm *ConfusionMatrix) Normalized() [][]float64 {
	out := make([][]float64, cm.numClasses)
	for i, row := range cm.counts {
		out[i] = make([]float64, cm.numClasses)
		sum := 0
		for _, c := range row {
			sum += c
		}
		for j, c := range row {
			if sum == 0 {
				out[i][j] = math.NaN()
			} else {
				out[i][j] = float64(c) / float64(sum)
			}
		}
	}
	return out
}

// PerClassAccuracy returns the diagonal of the normalized matrix: the recall
// of each class. Classes with no samples report NaN.
func (cm *ConfusionMatrix) PerClassAccuracy() []float64 {
	out := make([]float64, cm.numClasses)
	for i, row := range cm.counts {
		sum := 0
		for _, c := range row {
			sum += c
		}
		if sum == 0 {
			out[i] = math.NaN()
		} else {
			out[i] = float64(row[i]) / float64(sum)
		}
	}
	return out
}
