package reflection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/kbbridge/config"
	"github.com/sweetpotato0/kbbridge/llm"
	"github.com/sweetpotato0/kbbridge/pkg/logging"
	"github.com/sweetpotato0/kbbridge/prompt"
)

func defaultThreshold() float64 { return config.DefaultQualityThreshold }

// Reflector decides whether another refinement round is worth running.
type Reflector struct {
	threshold     float64
	maxIterations int
	logger        *slog.Logger
}

// NewReflector creates a Reflector. maxIterations <= 0 falls back to the
// default and values above the hard cap are clamped.
func NewReflector(threshold float64, maxIterations int) *Reflector {
	if threshold <= 0 || threshold > 1 {
		threshold = defaultThreshold()
	}
	if maxIterations <= 0 {
		maxIterations = config.DefaultReflectionIterations
	}
	if maxIterations > config.MaxReflectionIterations {
		maxIterations = config.MaxReflectionIterations
	}
	return &Reflector{
		threshold:     threshold,
		maxIterations: maxIterations,
		logger:        logging.WithComponent("reflection.reflector"),
	}
}

// MaxIterations returns the effective iteration bound.
func (r *Reflector) MaxIterations() int { return r.maxIterations }

// ShouldRefine reports whether attempt (1-based) should be followed by a
// refinement round. Refinement stops when the answer passed, the iteration
// budget is spent, or the score is so far below the threshold that another
// round cannot close the gap.
func (r *Reflector) ShouldRefine(eval *Evaluation, attempt int) bool {
	if eval == nil {
		return false
	}
	if eval.Passed {
		return false
	}
	if attempt >= r.maxIterations {
		return false
	}
	if r.threshold-eval.Overall > config.RefineScoreGap {
		r.logger.Debug("score gap too large to refine",
			"overall", eval.Overall, "threshold", r.threshold)
		return false
	}
	return true
}

// Integration runs the full reflection loop over a drafted answer. A nil
// model client disables reflection entirely.
type Integration struct {
	client    llm.Client
	evaluator *Evaluator
	reflector *Reflector
	logger    *slog.Logger
}

// NewIntegration wires the loop together. When the evaluator cannot be
// built, reflection is disabled rather than failing the request.
func NewIntegration(client llm.Client, threshold float64, maxIterations int) *Integration {
	integration := &Integration{
		client:    client,
		reflector: NewReflector(threshold, maxIterations),
		logger:    logging.WithComponent("reflection.integration"),
	}
	evaluator, err := NewEvaluator(client, threshold)
	if err != nil {
		integration.logger.Warn("evaluator unavailable, reflection disabled", "error", err)
		return integration
	}
	integration.evaluator = evaluator
	return integration
}

// Process evaluates the answer and refines it until it passes or the budget
// runs out. It returns the final answer and the run report; the report is
// nil when reflection is disabled or the first evaluation fails.
func (i *Integration) Process(ctx context.Context, question, answer string, sources []string) (string, *Report) {
	if i.evaluator == nil {
		return answer, nil
	}

	var attempts []Attempt
	current := answer
	for iteration := 1; ; iteration++ {
		eval, err := i.evaluator.Evaluate(ctx, question, current, sources)
		if err != nil {
			i.logger.Warn("evaluation failed, keeping current answer",
				"iteration", iteration, "error", err)
			if len(attempts) == 0 {
				return current, nil
			}
			break
		}
		attempts = append(attempts, Attempt{Iteration: iteration, Answer: current, Evaluation: eval})

		if !i.reflector.ShouldRefine(eval, iteration) {
			break
		}
		refined, err := i.refine(ctx, question, current, eval)
		if err != nil {
			i.logger.Warn("refinement failed, keeping current answer",
				"iteration", iteration, "error", err)
			break
		}
		current = refined
	}
	return current, BuildReport(attempts)
}

func (i *Integration) refine(ctx context.Context, question, answer string, eval *Evaluation) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\nPrevious answer:\n%s\n", question, answer)
	if eval.Feedback != "" {
		fmt.Fprintf(&sb, "\nEvaluator feedback:\n%s\n", eval.Feedback)
	}
	if len(eval.RefinementSuggestions) > 0 {
		sb.WriteString("\nSuggested edits:\n")
		for _, suggestion := range eval.RefinementSuggestions {
			fmt.Fprintf(&sb, "- %s\n", suggestion)
		}
	}

	resp, err := i.client.Generate(ctx, &llm.GenerateRequest{
		Messages: []*llm.Message{
			llm.NewMessage(llm.RoleSystem, prompt.AnswerRefine),
			llm.NewMessage(llm.RoleUser, sb.String()),
		},
	})
	if err != nil {
		return "", err
	}
	refined := strings.TrimSpace(resp.Text())
	if refined == "" {
		return answer, nil
	}
	return refined, nil
}
