package reflection

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweetpotato0/kbbridge/llm"
	"github.com/sweetpotato0/kbbridge/prompt"
)

// Evaluator scores an answer against the question and its sources with a
// model call.
type Evaluator struct {
	client    llm.Client
	threshold float64
}

// NewEvaluator creates an Evaluator. The client is required; threshold out
// of (0, 1] falls back to the default.
func NewEvaluator(client llm.Client, threshold float64) (*Evaluator, error) {
	if client == nil {
		return nil, fmt.Errorf("evaluator requires a model client")
	}
	if threshold <= 0 || threshold > 1 {
		threshold = defaultThreshold()
	}
	return &Evaluator{client: client, threshold: threshold}, nil
}

type evaluateReply struct {
	Completeness          float64  `json:"completeness"`
	Accuracy              float64  `json:"accuracy"`
	Clarity               float64  `json:"clarity"`
	Relevance             float64  `json:"relevance"`
	Confidence            float64  `json:"confidence"`
	Feedback              string   `json:"feedback"`
	RefinementSuggestions []string `json:"refinement_suggestions"`
}

// Evaluate scores the answer. Sources may be empty.
func (e *Evaluator) Evaluate(ctx context.Context, question, answer string, sources []string) (*Evaluation, error) {
	user := fmt.Sprintf("Question: %s\n\nAnswer:\n%s\n\nSources:\n%s",
		question, answer, formatSources(sources))
	resp, err := e.client.Generate(ctx, &llm.GenerateRequest{
		Messages: []*llm.Message{
			llm.NewMessage(llm.RoleSystem, prompt.ReflectionEvaluate),
			llm.NewMessage(llm.RoleUser, user),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	reply, err := llm.DecodeJSON[evaluateReply](resp.Text())
	if err != nil {
		return nil, fmt.Errorf("evaluation reply: %w", err)
	}

	scores := QualityScores{
		Completeness: reply.Completeness,
		Accuracy:     reply.Accuracy,
		Clarity:      reply.Clarity,
		Relevance:    reply.Relevance,
		Confidence:   reply.Confidence,
	}.clamp()
	overall := scores.Overall()
	return &Evaluation{
		Scores:                scores,
		Overall:               overall,
		Passed:                overall >= e.threshold,
		Feedback:              strings.TrimSpace(reply.Feedback),
		RefinementSuggestions: reply.RefinementSuggestions,
	}, nil
}

func formatSources(sources []string) string {
	trimmed := make([]string, 0, len(sources))
	for _, source := range sources {
		if s := strings.TrimSpace(source); s != "" {
			trimmed = append(trimmed, "- "+s)
		}
	}
	if len(trimmed) == 0 {
		return "No sources"
	}
	return strings.Join(trimmed, "\n")
}
