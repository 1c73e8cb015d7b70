package learning

import (
	"sort"

	"sql-guard/internal/model"
)

// PredictErrors estimates which error types a context is likely to hit.
// Each pattern sharing keywords with the context contributes
// overlap/|keywords| * frequency * confidence * freshness to its type, and
// the contributions are normalized to sum to 1. The map is empty when no
// pattern shares a keyword.
func (s *Service) PredictErrors(c Context) map[model.ErrorType]float64 {
	kw := c.keywords()
	out := make(map[model.ErrorType]float64)
	if len(kw) == 0 {
		return out
	}
	now := s.now()

	s.mu.Lock()
	var total float64
	for _, p := range s.patterns {
		overlap := 0
		for _, k := range kw {
			if p.HasKeyword(k) {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		w := float64(overlap) / float64(len(kw)) *
			float64(p.Frequency) * p.Confidence *
			freshness(now.Sub(p.LastSeen), s.cfg.MaxAge)
		if w <= 0 {
			continue
		}
		out[p.ErrorType] += w
		total += w
	}
	s.mu.Unlock()

	if total == 0 {
		return map[model.ErrorType]float64{}
	}
	for t := range out {
		out[t] /= total
	}
	return out
}

// Prediction is one entry of a ranked prediction.
type Prediction struct {
	ErrorType   model.ErrorType `json:"error_type" yaml:"error_type"`
	Probability float64         `json:"probability" yaml:"probability"`
}

// RankPredictions orders a prediction map by probability, highest first.
func RankPredictions(m map[model.ErrorType]float64) []Prediction {
	out := make([]Prediction, 0, len(m))
	for t, p := range m {
		out = append(out, Prediction{ErrorType: t, Probability: p})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Probability != out[j].Probability {
			return out[i].Probability > out[j].Probability
		}
		return out[i].ErrorType < out[j].ErrorType
	})
	return out
}
