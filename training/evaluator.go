package training

import (
	"github.com/tsawler/emotrain/engine"
)

// EmptyEvaluationError reports an evaluation attempted over zero samples.
type EmptyEvaluationError struct{}

func (e *EmptyEvaluationError) Error() string {
	return "evaluation set is empty"
}

// Report summarizes model performance on one held-out split.
type Report struct {
	Total            int         `json:"total"`
	Accuracy         float64     `json:"accuracy"`
	Confusion        [][]int     `json:"confusion"`
	Normalized       [][]float64 `json:"normalized"`
	PerClassAccuracy []float64   `json:"per_class_accuracy"`
	ClassNames       []string    `json:"class_names,omitempty"`
	MeanLoss         float64     `json:"mean_loss"`
}

// Evaluate runs the network in inference mode over every batch of the loader
// and returns the aggregated report. Augmentation must be disabled on the
// loader; evaluation sees samples exactly as stored.
func Evaluate(net *engine.Network, loader *Loader, loss *WeightedCrossEntropy, classNames []string) (*Report, error) {
	if loader.Len() == 0 {
		return nil, &EmptyEvaluationError{}
	}

	cm, err := NewConfusionMatrix(loader.cfg.NumClasses)
	if err != nil {
		return nil, err
	}

	totalLoss := 0.0
	batches := 0
	for {
		batch, done, err := loader.Next()
		if done {
			break
		}
		if err != nil {
			return nil, err
		}

		probs, err := net.Forward(batch.Data, false)
		if err != nil {
			return nil, err
		}
		if err := cm.Update(probs, batch.Labels); err != nil {
			return nil, err
		}
		if loss != nil {
			l, _, err := loss.Compute(probs, batch.OneHot)
			if err != nil {
				return nil, err
			}
			totalLoss += l
			batches++
		}
	}

	report := &Report{
		Total:            cm.Total(),
		Accuracy:         cm.Accuracy(),
		Confusion:        cm.Counts(),
		Normalized:       cm.Normalized(),
		PerClassAccuracy: cm.PerClassAccuracy(),
		ClassNames:       classNames,
	}
	if batches > 0 {
		report.MeanLoss = totalLoss / float64(batches)
	}
	return report, nil
}
