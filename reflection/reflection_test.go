package reflection

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/sweetpotato0/kbbridge/llm"
)

type scriptedClient struct {
	replies []string
	err     error
	calls   int
	users   []string
}

func (c *scriptedClient) Generate(_ context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	for _, msg := range req.Messages {
		if msg.Role == llm.RoleUser {
			c.users = append(c.users, msg.Content)
		}
	}
	if c.calls >= len(c.replies) {
		return nil, errors.New("no more scripted replies")
	}
	reply := c.replies[c.calls]
	c.calls++
	return &llm.GenerateResponse{Message: llm.NewMessage(llm.RoleAssistant, reply)}, nil
}

func TestOverallWeights(t *testing.T) {
	scores := QualityScores{
		Completeness: 1.0,
		Accuracy:     0.5,
		Clarity:      0.8,
		Relevance:    0.6,
		Confidence:   0.4,
	}
	want := 1.0*0.30 + 0.5*0.30 + 0.6*0.20 + 0.8*0.10 + 0.4*0.10
	if got := scores.Overall(); math.Abs(got-want) > 1e-9 {
		t.Errorf("Overall() = %f, want %f", got, want)
	}
}

func TestEvaluateClampsAndScores(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"completeness": 1.4, "accuracy": 0.9, "clarity": 0.8, "relevance": -0.2, "confidence": 0.7, "feedback": "solid", "refinement_suggestions": ["cite the source"]}`,
	}}
	e, err := NewEvaluator(client, 0.7)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	eval, err := e.Evaluate(context.Background(), "q", "a", []string{"policy.pdf"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if eval.Scores.Completeness != 1.0 {
		t.Errorf("completeness not clamped: %f", eval.Scores.Completeness)
	}
	if eval.Scores.Relevance != 0.0 {
		t.Errorf("relevance not clamped: %f", eval.Scores.Relevance)
	}
	if eval.Feedback != "solid" {
		t.Errorf("unexpected feedback: %q", eval.Feedback)
	}
	if len(eval.RefinementSuggestions) != 1 {
		t.Errorf("suggestions lost: %v", eval.RefinementSuggestions)
	}
}

func TestEvaluateNoSources(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"completeness": 0.5, "accuracy": 0.5, "clarity": 0.5, "relevance": 0.5, "confidence": 0.5}`,
	}}
	e, _ := NewEvaluator(client, 0.7)
	if _, err := e.Evaluate(context.Background(), "q", "a", nil); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !strings.Contains(client.users[0], "No sources") {
		t.Errorf("expected 'No sources' marker in prompt: %q", client.users[0])
	}
}

func TestNewEvaluatorRequiresClient(t *testing.T) {
	if _, err := NewEvaluator(nil, 0.7); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestShouldRefine(t *testing.T) {
	r := NewReflector(0.7, 2)
	cases := []struct {
		name    string
		eval    *Evaluation
		attempt int
		want    bool
	}{
		{"nil evaluation", nil, 1, false},
		{"passed", &Evaluation{Overall: 0.8, Passed: true}, 1, false},
		{"within gap", &Evaluation{Overall: 0.5}, 1, true},
		{"budget spent", &Evaluation{Overall: 0.5}, 2, false},
		{"gap too large", &Evaluation{Overall: 0.2}, 1, false},
		{"just inside gap", &Evaluation{Overall: 0.31}, 1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.ShouldRefine(tc.eval, tc.attempt); got != tc.want {
				t.Errorf("ShouldRefine(%+v, %d) = %v, want %v", tc.eval, tc.attempt, got, tc.want)
			}
		})
	}
}

func TestReflectorClampsIterations(t *testing.T) {
	if got := NewReflector(0.7, 99).MaxIterations(); got != 5 {
		t.Errorf("expected clamp to 5, got %d", got)
	}
	if got := NewReflector(0.7, 0).MaxIterations(); got != 2 {
		t.Errorf("expected default 2, got %d", got)
	}
}

func TestBuildReportEmpty(t *testing.T) {
	report := BuildReport(nil)
	if report.Attempts != 0 || report.FinalScore != 0 || len(report.FeedbackHistory) != 0 {
		t.Errorf("expected zero report, got %+v", report)
	}
}

func TestBuildReportImprovementNeedsTwoAttempts(t *testing.T) {
	one := BuildReport([]Attempt{
		{Iteration: 1, Evaluation: &Evaluation{Overall: 0.6, Feedback: "ok"}},
	})
	if one.Improvement != 0 {
		t.Errorf("improvement must need two attempts, got %f", one.Improvement)
	}

	two := BuildReport([]Attempt{
		{Iteration: 1, Evaluation: &Evaluation{Overall: 0.5}},
		{Iteration: 2, Evaluation: &Evaluation{Overall: 0.75, Passed: true}},
	})
	if math.Abs(two.Improvement-0.25) > 1e-9 {
		t.Errorf("unexpected improvement: %f", two.Improvement)
	}
	if !two.Passed || two.FinalScore != 0.75 || two.BestScore != 0.75 {
		t.Errorf("unexpected report: %+v", two)
	}
}

func TestBuildReportTruncatesFeedback(t *testing.T) {
	long := strings.Repeat("x", 250)
	report := BuildReport([]Attempt{
		{Iteration: 1, Evaluation: &Evaluation{Overall: 0.5, Feedback: long}},
	})
	if len(report.FeedbackHistory) != 1 {
		t.Fatalf("expected 1 feedback entry, got %d", len(report.FeedbackHistory))
	}
	if got := report.FeedbackHistory[0]; len(got) != 203 || !strings.HasSuffix(got, "...") {
		t.Errorf("feedback not truncated to 200 chars: len=%d", len(got))
	}
}

func TestIntegrationDisabledWithoutClient(t *testing.T) {
	i := NewIntegration(nil, 0.7, 2)
	answer, report := i.Process(context.Background(), "q", "draft", nil)
	if answer != "draft" {
		t.Errorf("expected untouched answer, got %q", answer)
	}
	if report != nil {
		t.Errorf("expected nil report when reflection disabled, got %+v", report)
	}
}

func TestIntegrationRefinesUntilPass(t *testing.T) {
	client := &scriptedClient{replies: []string{
		// First evaluation: below threshold but within the refine gap.
		`{"completeness": 0.6, "accuracy": 0.6, "clarity": 0.6, "relevance": 0.6, "confidence": 0.6, "feedback": "missing the second clause"}`,
		// Refinement.
		`Improved draft.`,
		// Second evaluation: passes.
		`{"completeness": 0.9, "accuracy": 0.9, "clarity": 0.9, "relevance": 0.9, "confidence": 0.9, "feedback": "good"}`,
	}}
	i := NewIntegration(client, 0.7, 2)

	answer, report := i.Process(context.Background(), "q", "First draft.", []string{"a.pdf"})
	if answer != "Improved draft." {
		t.Errorf("expected refined answer, got %q", answer)
	}
	if report == nil {
		t.Fatal("expected a report")
	}
	if report.Attempts != 2 || !report.Passed {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.Improvement <= 0 {
		t.Errorf("expected positive improvement, got %f", report.Improvement)
	}
}

func TestIntegrationFirstEvaluationFailure(t *testing.T) {
	i := NewIntegration(&scriptedClient{err: errors.New("model down")}, 0.7, 2)
	answer, report := i.Process(context.Background(), "q", "draft", nil)
	if answer != "draft" {
		t.Errorf("expected untouched answer, got %q", answer)
	}
	if report != nil {
		t.Errorf("expected nil report when first evaluation fails, got %+v", report)
	}
}

func TestIntegrationStopsWhenGapTooLarge(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"completeness": 0.1, "accuracy": 0.1, "clarity": 0.1, "relevance": 0.1, "confidence": 0.1, "feedback": "way off"}`,
	}}
	i := NewIntegration(client, 0.7, 2)

	answer, report := i.Process(context.Background(), "q", "draft", nil)
	if answer != "draft" {
		t.Errorf("expected untouched answer, got %q", answer)
	}
	if report == nil || report.Attempts != 1 {
		t.Fatalf("expected a single-attempt report, got %+v", report)
	}
	if client.calls != 1 {
		t.Errorf("no refinement call expected, got %d calls", client.calls)
	}
}
