// Package reflection closes the answer loop: scoring a drafted answer
// against its sources and refining it a bounded number of times when the
// quality falls short.
package reflection

import (
	"fmt"
	"strings"

	"github.com/sweetpotato0/kbbridge/config"
)

// QualityScores holds the per-dimension scores of one evaluation, each in
// [0, 1].
type QualityScores struct {
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Clarity      float64 `json:"clarity"`
	Relevance    float64 `json:"relevance"`
	Confidence   float64 `json:"confidence"`
}

// Overall combines the dimensions into one weighted score.
func (s QualityScores) Overall() float64 {
	return s.Completeness*config.WeightCompleteness +
		s.Accuracy*config.WeightAccuracy +
		s.Relevance*config.WeightRelevance +
		s.Clarity*config.WeightClarity +
		s.Confidence*config.WeightConfidence
}

// clamp pins every dimension into [0, 1]; model output occasionally drifts
// outside the range.
func (s QualityScores) clamp() QualityScores {
	pin := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}
	return QualityScores{
		Completeness: pin(s.Completeness),
		Accuracy:     pin(s.Accuracy),
		Clarity:      pin(s.Clarity),
		Relevance:    pin(s.Relevance),
		Confidence:   pin(s.Confidence),
	}
}

// Evaluation is the outcome of scoring one answer.
type Evaluation struct {
	Scores                QualityScores `json:"scores"`
	Overall               float64       `json:"overall"`
	Passed                bool          `json:"passed"`
	Feedback              string        `json:"feedback,omitempty"`
	RefinementSuggestions []string      `json:"refinement_suggestions,omitempty"`
}

// Attempt records one answer draft and its evaluation.
type Attempt struct {
	Iteration  int         `json:"iteration"`
	Answer     string      `json:"answer"`
	Evaluation *Evaluation `json:"evaluation,omitempty"`
}

// Report summarises a reflection run for response metadata.
type Report struct {
	Attempts        int      `json:"attempts"`
	FinalScore      float64  `json:"final_score"`
	BestScore       float64  `json:"best_score"`
	Improvement     float64  `json:"improvement,omitempty"`
	Passed          bool     `json:"passed"`
	FeedbackHistory []string `json:"feedback_history,omitempty"`
}

// BuildReport folds attempts into a Report. An empty run yields a zero
// report; improvement is reported only once a refinement actually happened.
func BuildReport(attempts []Attempt) *Report {
	report := &Report{}
	if len(attempts) == 0 {
		return report
	}

	report.Attempts = len(attempts)
	for _, attempt := range attempts {
		eval := attempt.Evaluation
		if eval == nil {
			continue
		}
		if eval.Overall > report.BestScore {
			report.BestScore = eval.Overall
		}
		if feedback := strings.TrimSpace(eval.Feedback); feedback != "" {
			report.FeedbackHistory = append(report.FeedbackHistory, truncateFeedback(feedback))
		}
	}

	last := attempts[len(attempts)-1].Evaluation
	if last != nil {
		report.FinalScore = last.Overall
		report.Passed = last.Passed
	}
	if len(attempts) >= 2 {
		first := attempts[0].Evaluation
		if first != nil && last != nil {
			report.Improvement = last.Overall - first.Overall
		}
	}
	return report
}

func truncateFeedback(feedback string) string {
	runes := []rune(feedback)
	if len(runes) <= config.FeedbackHistoryLimit {
		return feedback
	}
	return fmt.Sprintf("%s...", string(runes[:config.FeedbackHistoryLimit]))
}
