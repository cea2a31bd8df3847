package inference

import (
	"fmt"
	"math"

	ferrors "github.com/arkilian/churnfeat/internal/errors"
)

// ProbabilityModel returns the positive-class probability of an encoded vector.
type ProbabilityModel interface {
	PredictProbability(x []float64) (float64, error)
}

// DecisionModel returns an unbounded decision score.
type DecisionModel interface {
	DecisionFunction(x []float64) (float64, error)
}

// LabelModel returns a hard class label.
type LabelModel interface {
	Predict(x []float64) (float64, error)
}

// Scoring methods, in the order they are preferred.
const (
	MethodProbability = "probability"
	MethodDecision    = "decision"
	MethodLabel       = "label"
)

// Scorer turns an encoded vector into a churn score in [0, 1].
type Scorer interface {
	Score(x []float64) (float64, error)
	Method() string
}

// NewScorer resolves the best capability of model once. Probabilities are
// used as-is, decision scores pass through a sigmoid, and labels are clipped
// to [0, 1]. A model with none of these is PLAN:UNSUPPORTED_MODEL.
func NewScorer(model any) (Scorer, error) {
	switch m := model.(type) {
	case ProbabilityModel:
		return probabilityScorer{m}, nil
	case DecisionModel:
		return decisionScorer{m}, nil
	case LabelModel:
		return labelScorer{m}, nil
	default:
		return nil, ferrors.NewPlanError(ferrors.CodeUnsupportedModel,
			fmt.Sprintf("model %T exposes no probability, decision or label method", model))
	}
}

type probabilityScorer struct{ m ProbabilityModel }

func (s probabilityScorer) Score(x []float64) (float64, error) { return s.m.PredictProbability(x) }
func (s probabilityScorer) Method() string { return MethodProbability }

type decisionScorer struct{ m DecisionModel }

func (s decisionScorer) Score(x []float64) (float64, error) {
	d, err := s.m.DecisionFunction(x)
	if err != nil {
		return 0, err
	}
	return Sigmoid(d), nil
}

func (s decisionScorer) Method() string { return MethodDecision }

type labelScorer struct{ m LabelModel }

func (s labelScorer) Score(x []float64) (float64, error) {
	y, err := s.m.Predict(x)
	if err != nil {
		return 0, err
	}
	return clip01(y), nil
}

func (s labelScorer) Method() string { return MethodLabel }

// Sigmoid maps a decision score to (0, 1).
func Sigmoid(d float64) float64 {
	if d >= 0 {
		return 1 / (1 + math.Exp(-d))
	}
	e := math.Exp(d)
	return e / (1 + e)
}

func clip01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
