package model

import (
	"context"
	"fmt"
	"math"
	"sort"

	apperrors "github.com/Brownie44l1/crop-disease-api/internal/errors"
)

// Classifier maps a normalized tensor to one score per class.
type Classifier interface {
	Predict(ctx context.Context, t Tensor) ([]float32, error)
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(ctx context.Context, t Tensor) ([]float32, error)

func (f ClassifierFunc) Predict(ctx context.Context, t Tensor) ([]float32, error) {
	return f(ctx, t)
}

// Rank runs the classifier on t and orders every label by descending score.
func Rank(ctx context.Context, t Tensor, c Classifier, labels LabelSet) (RankedResult, error) {
	scores, err := c.Predict(ctx, t)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInference, "rank", "classifier rejected tensor", err)
	}
	return RankScores(scores, labels)
}

// RankScores pairs scores with labels, highest first. Equal scores keep
// class index order. A vector that does not cover the label set exactly is
// a catalog/model mismatch and yields a label_index error.
func RankScores(scores []float32, labels LabelSet) (RankedResult, error) {
	if len(scores) != len(labels) {
		return nil, apperrors.New(apperrors.KindLabelIndex, "rank",
			fmt.Sprintf("prediction vector has %d scores for %d labels", len(scores), len(labels)))
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return greater(scores[order[a]], scores[order[b]])
	})

	result := make(RankedResult, 0, len(order))
	for _, idx := range order {
		name, err := labels.Name(idx)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindLabelIndex, "rank", "label lookup", err)
		}
		result = append(result, Prediction{Label: name, Confidence: scores[idx]})
	}
	return result, nil
}

// greater orders NaN after every number.
func greater(a, b float32) bool {
	an, bn := math.IsNaN(float64(a)), math.IsNaN(float64(b))
	if an || bn {
		return !an && bn
	}
	return a > b
}
