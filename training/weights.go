package training

import "fmt"

// ClassImbalanceError reports a class with no training samples, which makes
// an inverse-frequency weight undefined.
type ClassImbalanceError struct {
	Class int
}

func (e *ClassImbalanceError) Error() string {
	return fmt.Sprintf("class %d has no training samples, cannot compute its weight", e.Class)
}

// ComputeClassWeights returns inverse-frequency loss weights from the
// per-class counts of the training split:
//
//	w[c] = total / (numClasses * count[c])
//
// A balanced dataset yields all-ones. Any class with a zero count is an
// error; weights are never computed from validation or test samples.
func ComputeClassWeights(counts []int) ([]float64, error) {
	if len(counts) == 0 {
		return nil, fmt.Errorf("empty class count table")
	}

	total := 0
	for c, n := range counts {
		if n < 0 {
			return nil, fmt.Errorf("negative count %d for class %d", n, c)
		}
		total += n
	}

	numClasses := len(counts)
	weights := make([]float64, numClasses)
	for c, n := range counts {
		if n == 0 {
			return nil, &ClassImbalanceError{Class: c}
		}
		weights[c] = float64(total) / (float64(numClasses) * float64(n))
	}
	return weights, nil
}
