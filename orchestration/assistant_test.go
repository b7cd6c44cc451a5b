package orchestration

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sweetpotato0/kbbridge/discovery"
	kberrors "github.com/sweetpotato0/kbbridge/errors"
	"github.com/sweetpotato0/kbbridge/llm"
	"github.com/sweetpotato0/kbbridge/retrieval"
	"github.com/sweetpotato0/kbbridge/synthesis"
)

// routedClient answers by matching a marker in the system prompt, which lets
// one client serve every pipeline stage.
type routedClient struct {
	routes map[string]string
}

func (c *routedClient) Generate(_ context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	var system string
	for _, msg := range req.Messages {
		if msg.Role == llm.RoleSystem {
			system = msg.Content
		}
	}
	for marker, reply := range c.routes {
		if strings.Contains(system, marker) {
			return &llm.GenerateResponse{Message: llm.NewMessage(llm.RoleAssistant, reply)}, nil
		}
	}
	return nil, errors.New("no route for prompt")
}

func pipelineRoutes() map[string]string {
	return map[string]string{
		"rewrite strategy":        `{"strategy": "no_change", "confidence": 0.9}`,
		"independent sub-questions": `{"should_decompose": false, "updated_query": "what is the refund window"}`,
		"extract answers":         "The refund window is 30 days.",
		"merge several candidate": "Merged: the refund window is 30 days.",
	}
}

func newAssistant(t *testing.T, backend *fakeBackend, opts ...AssistantOption) *Assistant {
	t.Helper()
	client := &routedClient{routes: pipelineRoutes()}
	extractor := synthesis.NewAnswerExtractor(client, 0)
	processor := NewDatasetProcessor(
		discovery.NewLister(backend, nil, 0),
		NewDirectProcessor(backend, extractor),
		NewAdvancedProcessor(backend, discovery.NewDiscoverer(backend), extractor, nil),
	)
	a, err := NewAssistant(client, processor, discovery.NewLister(backend, nil, 0), opts...)
	if err != nil {
		t.Fatalf("NewAssistant: %v", err)
	}
	return a
}

func TestAskDirectEndToEnd(t *testing.T) {
	backend := &fakeBackend{
		chunks: map[string][]retrieval.ChunkHit{
			"ds-1": {{Content: "Refunds accepted within 30 days.", DocumentName: "policy.pdf", Score: 0.9}},
		},
		files: map[string][]string{"ds-1": {"policy.pdf"}},
	}
	a := newAssistant(t, backend)

	cfg := testConfig()
	cfg.Strategy = StrategyDirect
	answer, err := a.Ask(context.Background(), "what is the refund window", []Resource{{DatasetID: "ds-1"}}, cfg)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer.Answer != "The refund window is 30 days." {
		t.Errorf("unexpected answer: %q", answer.Answer)
	}
	if len(answer.Candidates) != 1 {
		t.Errorf("expected 1 candidate, got %d", len(answer.Candidates))
	}
	if answer.Rewrite == nil || answer.Rewrite.Strategy != "no_change" {
		t.Errorf("rewrite metadata missing: %+v", answer.Rewrite)
	}
	if !answer.Success || answer.TotalSources != 1 {
		t.Errorf("structured fields not populated: success=%v total_sources=%d", answer.Success, answer.TotalSources)
	}
	if len(answer.Sources) != 1 || answer.Sources[0] != "ds-1" {
		t.Errorf("unexpected sources: %v", answer.Sources)
	}
	if len(answer.Profile) == 0 {
		t.Error("expected stage profile in metadata")
	}
}

func TestAskAdvancedProducesPerFileCandidates(t *testing.T) {
	backend := &fakeBackend{
		chunks: map[string][]retrieval.ChunkHit{
			"ds-1": {
				{Content: "alpha", DocumentName: "a.pdf", Score: 0.9},
				{Content: "beta", DocumentName: "b.pdf", Score: 0.7},
			},
		},
		files: map[string][]string{"ds-1": {"a.pdf", "b.pdf"}},
	}
	a := newAssistant(t, backend)

	cfg := testConfig()
	cfg.Strategy = StrategyAdvanced
	answer, err := a.Ask(context.Background(), "what is the refund window", []Resource{{DatasetID: "ds-1"}}, cfg)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(answer.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(answer.Candidates))
	}
	if !strings.Contains(answer.Answer, "30 days") {
		t.Errorf("unexpected answer: %q", answer.Answer)
	}
}

func TestAskNoDatasetsWithFiles(t *testing.T) {
	backend := &fakeBackend{files: map[string][]string{"ds-1": {}}}
	a := newAssistant(t, backend)

	_, err := a.Ask(context.Background(), "anything", []Resource{{DatasetID: "ds-1"}}, testConfig())
	if !errors.Is(err, kberrors.ErrNoDatasetsWithFiles) {
		t.Fatalf("expected ErrNoDatasetsWithFiles, got %v", err)
	}
}

func TestAskEmptyQuestion(t *testing.T) {
	a := newAssistant(t, &fakeBackend{})
	if _, err := a.Ask(context.Background(), "   ", []Resource{{DatasetID: "ds"}}, testConfig()); err == nil {
		t.Fatal("expected error for empty question")
	}
}

func TestAskInvalidConfig(t *testing.T) {
	a := newAssistant(t, &fakeBackend{})
	cfg := testConfig()
	cfg.ScoreThreshold = 2.0
	if _, err := a.Ask(context.Background(), "q", []Resource{{DatasetID: "ds"}}, cfg); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestBroadenQuery(t *testing.T) {
	variants := broadenQuery(`What is the "grace period" for renewals?`)
	if len(variants) == 0 {
		t.Fatal("expected at least one variant")
	}
	first := variants[0]
	if strings.Contains(first, `"`) || strings.HasPrefix(strings.ToLower(first), "what") {
		t.Errorf("first variant not broadened: %q", first)
	}
	for _, v := range variants {
		if strings.HasSuffix(v, "?") {
			t.Errorf("variant keeps trailing punctuation: %q", v)
		}
	}
}

func TestBroadenQueryDeduplicates(t *testing.T) {
	variants := broadenQuery("grace period renewals")
	for _, v := range variants {
		if v == "grace period renewals" {
			t.Errorf("variant equals the original query: %q", v)
		}
	}
}

func TestProcessingConfigValidate(t *testing.T) {
	cfg := ProcessingConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("zero config must normalise to defaults: %v", err)
	}
	if cfg.Strategy != StrategyAll || cfg.TopK != 20 || cfg.MaxWorkers != 4 {
		t.Errorf("defaults not applied: %+v", cfg)
	}

	bad := ProcessingConfig{Strategy: "mystery"}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown strategy")
	}

	deep := ProcessingConfig{ReflectionIterations: 9}
	if err := deep.Validate(); err == nil {
		t.Error("expected error for iterations above the cap")
	}
}
