package orchestration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sweetpotato0/kbbridge/discovery"
	"github.com/sweetpotato0/kbbridge/llm"
	"github.com/sweetpotato0/kbbridge/retrieval"
	"github.com/sweetpotato0/kbbridge/synthesis"
)

// fakeBackend is an in-memory retrieval.Retriever for pipeline tests.
// Chunks are keyed by dataset; a metadata filter narrows them to one file.
type fakeBackend struct {
	mu          sync.Mutex
	chunks      map[string][]retrieval.ChunkHit
	files       map[string][]string
	retrieveErr error
	failFile    string
	listErr     error
}

func (f *fakeBackend) Retrieve(_ context.Context, req retrieval.Request) (*retrieval.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	hits := f.chunks[req.DatasetID]
	if req.Filter != nil && req.Filter.DocumentName != "" {
		if req.Filter.DocumentName == f.failFile {
			return nil, errors.New("file retrieval exploded")
		}
		filtered := make([]retrieval.ChunkHit, 0, len(hits))
		for _, hit := range hits {
			if hit.DocumentName == req.Filter.DocumentName {
				filtered = append(filtered, hit)
			}
		}
		hits = filtered
	}
	return &retrieval.Response{Segments: hits}, nil
}

func (f *fakeBackend) ListFiles(_ context.Context, datasetID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.files[datasetID], nil
}

func (f *fakeBackend) BuildMetadataFilter(documentName string) *retrieval.MetadataFilter {
	if documentName == "" {
		return nil
	}
	return &retrieval.MetadataFilter{DocumentName: documentName}
}

// echoClient answers every generation with a fixed reply.
type echoClient struct {
	reply string
	err   error
}

func (c *echoClient) Generate(_ context.Context, _ *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &llm.GenerateResponse{Message: llm.NewMessage(llm.RoleAssistant, c.reply)}, nil
}

func testConfig() ProcessingConfig {
	cfg := DefaultProcessingConfig()
	cfg.MaxWorkers = 2
	return cfg
}

func TestDirectProcessorSuccess(t *testing.T) {
	backend := &fakeBackend{chunks: map[string][]retrieval.ChunkHit{
		"ds-1": {{Content: "the window is 30 days", DocumentName: "policy.pdf", Score: 0.9}},
	}}
	p := NewDirectProcessor(backend, synthesis.NewAnswerExtractor(&echoClient{reply: "30 days"}, 0))

	result := p.Process(context.Background(), "refund window", Resource{DatasetID: "ds-1"}, testConfig())
	if !result.Success {
		t.Fatal("expected success")
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(result.Candidates))
	}
	c := result.Candidates[0]
	if !c.Success || c.Answer != "30 days" || c.DatasetID != "ds-1" {
		t.Errorf("unexpected candidate: %+v", c)
	}
}

func TestDirectProcessorRetrievalFailure(t *testing.T) {
	backend := &fakeBackend{retrieveErr: errors.New("backend down")}
	p := NewDirectProcessor(backend, synthesis.NewAnswerExtractor(&echoClient{reply: "unused"}, 0))

	result := p.Process(context.Background(), "q", Resource{DatasetID: "ds-1"}, testConfig())
	if result.Success {
		t.Fatal("expected failed pass")
	}
	c := result.Candidates[0]
	if c.Success || c.Error == "" {
		t.Errorf("expected failed candidate with error, got %+v", c)
	}
}

func TestDirectProcessorNoSegments(t *testing.T) {
	backend := &fakeBackend{chunks: map[string][]retrieval.ChunkHit{}}
	p := NewDirectProcessor(backend, synthesis.NewAnswerExtractor(&echoClient{reply: "unused"}, 0))

	result := p.Process(context.Background(), "q", Resource{DatasetID: "ds-1"}, testConfig())
	if !result.Success {
		t.Fatal("an empty dataset is still a successful pass")
	}
	c := result.Candidates[0]
	if !c.Success || c.Answer != "N/A" {
		t.Errorf("expected successful N/A candidate, got %+v", c)
	}
}

func newAdvanced(backend *fakeBackend, client llm.Client) *AdvancedProcessor {
	return NewAdvancedProcessor(
		backend,
		discovery.NewDiscoverer(backend),
		synthesis.NewAnswerExtractor(client, 0),
		nil,
	)
}

func TestAdvancedProcessorPerFileCandidates(t *testing.T) {
	backend := &fakeBackend{chunks: map[string][]retrieval.ChunkHit{
		"ds-1": {
			{Content: "alpha", DocumentName: "a.pdf", Score: 0.9},
			{Content: "beta", DocumentName: "b.pdf", Score: 0.7},
		},
	}}
	p := newAdvanced(backend, &echoClient{reply: "extracted"})

	result := p.Process(context.Background(), "q", Resource{DatasetID: "ds-1"}, testConfig())
	if !result.Success {
		t.Fatal("expected success")
	}
	if len(result.Candidates) != 2 {
		t.Fatalf("expected one candidate per file, got %d", len(result.Candidates))
	}
	for _, c := range result.Candidates {
		if !c.Success || c.FileName == "" {
			t.Errorf("unexpected candidate: %+v", c)
		}
	}
}

func TestAdvancedProcessorNoFilesStillSucceeds(t *testing.T) {
	backend := &fakeBackend{chunks: map[string][]retrieval.ChunkHit{}}
	p := newAdvanced(backend, &echoClient{reply: "unused"})

	result := p.Process(context.Background(), "q", Resource{DatasetID: "ds-1"}, testConfig())
	if !result.Success {
		t.Fatal("zero discovered files must not fail the pass")
	}
	if len(result.Candidates) != 0 {
		t.Errorf("expected no candidates, got %d", len(result.Candidates))
	}
}

func TestAdvancedProcessorFileFailureIsPerCandidate(t *testing.T) {
	backend := &fakeBackend{
		chunks: map[string][]retrieval.ChunkHit{
			"ds-1": {
				{Content: "alpha", DocumentName: "a.pdf", Score: 0.9},
				{Content: "beta", DocumentName: "b.pdf", Score: 0.7},
			},
		},
		failFile: "b.pdf",
	}
	p := newAdvanced(backend, &echoClient{reply: "extracted"})

	result := p.Process(context.Background(), "q", Resource{DatasetID: "ds-1"}, testConfig())
	if !result.Success {
		t.Fatal("per-file failures must not fail the pass")
	}
	var failed, ok int
	for _, c := range result.Candidates {
		if c.Success {
			ok++
		} else if c.Error != "" {
			failed++
		}
	}
	if ok != 1 || failed != 1 {
		t.Errorf("expected 1 ok and 1 failed candidate, got ok=%d failed=%d", ok, failed)
	}
}
