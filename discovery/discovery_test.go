package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sweetpotato0/kbbridge/cache"
	"github.com/sweetpotato0/kbbridge/retrieval"
	"github.com/sweetpotato0/kbbridge/synthesis"
)

// fakeRetriever serves canned chunk hits keyed by query and counts calls.
type fakeRetriever struct {
	mu        sync.Mutex
	hits      map[string][]retrieval.ChunkHit
	files     []string
	failQuery string
	listErr   error
	listCalls int
}

func (f *fakeRetriever) Retrieve(_ context.Context, req retrieval.Request) (*retrieval.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.Query == f.failQuery {
		return nil, errors.New("backend unavailable")
	}
	return &retrieval.Response{Segments: f.hits[req.Query]}, nil
}

func (f *fakeRetriever) ListFiles(_ context.Context, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.files, nil
}

func (f *fakeRetriever) BuildMetadataFilter(documentName string) *retrieval.MetadataFilter {
	if documentName == "" {
		return nil
	}
	return &retrieval.MetadataFilter{DocumentName: documentName}
}

func TestDiscoverAggregatesAcrossKeywordSets(t *testing.T) {
	r := &fakeRetriever{hits: map[string][]retrieval.ChunkHit{
		"refund policy": {
			{Content: "c1", DocumentName: "policy.pdf", Score: 0.9},
			{Content: "c2", DocumentName: "faq.pdf", Score: 0.5},
		},
		"return window": {
			{Content: "c3", DocumentName: "policy.pdf", Score: 0.6},
		},
	}}
	d := NewDiscoverer(r)

	result, err := d.Discover(context.Background(), "what is the refund policy", "ds-1",
		[][]string{{"refund", "policy"}, {"return", "window"}})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(result.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(result.Files))
	}
	// Max aggregation: policy.pdf keeps 0.9 and leads.
	if result.Files[0].FileName != "policy.pdf" || result.Files[0].Score != 0.9 {
		t.Errorf("unexpected top file: %+v", result.Files[0])
	}
	if result.Notice == "" {
		t.Error("expected a notice about skipped reranking without a reranker")
	}
}

func TestDiscoverSkipsFailedKeywordSet(t *testing.T) {
	r := &fakeRetriever{
		hits: map[string][]retrieval.ChunkHit{
			"good": {{Content: "c", DocumentName: "a.pdf", Score: 0.4}},
		},
		failQuery: "bad",
	}
	d := NewDiscoverer(r)

	result, err := d.Discover(context.Background(), "q", "ds-1", [][]string{{"good"}, {"bad"}})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(result.Files) != 1 || result.Files[0].FileName != "a.pdf" {
		t.Errorf("expected the surviving set's file, got %+v", result.Files)
	}
}

func TestDiscoverTruncatesToTopKReturn(t *testing.T) {
	hits := make([]retrieval.ChunkHit, 0, 8)
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for i, name := range names {
		hits = append(hits, retrieval.ChunkHit{
			Content:      "c",
			DocumentName: name + ".pdf",
			Score:        1.0 - float64(i)*0.1,
		})
	}
	r := &fakeRetriever{hits: map[string][]retrieval.ChunkHit{"q": hits}}
	d := NewDiscoverer(r, WithTopK(8, 3))

	result, err := d.Discover(context.Background(), "q", "ds-1", [][]string{{"q"}})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(result.Files) != 3 {
		t.Fatalf("expected 3 files after truncation, got %d", len(result.Files))
	}
	if result.Files[0].FileName != "a.pdf" {
		t.Errorf("unexpected top file: %+v", result.Files[0])
	}
}

func TestDiscoverEmptyKeywordSetsFallBackToQuery(t *testing.T) {
	r := &fakeRetriever{hits: map[string][]retrieval.ChunkHit{
		"raw query": {{Content: "c", DocumentName: "a.pdf", Score: 0.5}},
	}}
	d := NewDiscoverer(r)

	result, err := d.Discover(context.Background(), "raw query", "ds-1", nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(result.Files) != 1 {
		t.Errorf("expected fallback search on the raw query, got %+v", result.Files)
	}
}

func TestDiscoverRerankReorders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results": [{"index": 1, "relevance_score": 0.9}, {"index": 0, "relevance_score": 0.1}]}`))
	}))
	defer server.Close()
	reranker, err := synthesis.NewReranker(server.URL, "m")
	if err != nil {
		t.Fatalf("NewReranker: %v", err)
	}

	r := &fakeRetriever{hits: map[string][]retrieval.ChunkHit{
		"q": {
			{Content: "c", DocumentName: "a.pdf", Score: 0.8},
			{Content: "c", DocumentName: "b.pdf", Score: 0.6},
		},
	}}
	d := NewDiscoverer(r, WithReranker(reranker))

	result, err := d.Discover(context.Background(), "q", "ds-1", [][]string{{"q"}})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if result.Notice != "" {
		t.Errorf("unexpected notice: %q", result.Notice)
	}
	if result.Files[0].FileName != "b.pdf" || result.Files[0].Score != 0.9 {
		t.Errorf("rerank order not applied: %+v", result.Files)
	}
}

func TestDiscoverRerankDocumentsCarryRelevanceLabel(t *testing.T) {
	var docs []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Documents []string `json:"documents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rerank request: %v", err)
		}
		docs = req.Documents
		_, _ = w.Write([]byte(`{"results": [{"index": 0, "relevance_score": 0.9}, {"index": 1, "relevance_score": 0.5}]}`))
	}))
	defer server.Close()
	reranker, err := synthesis.NewReranker(server.URL, "m")
	if err != nil {
		t.Fatalf("NewReranker: %v", err)
	}

	r := &fakeRetriever{hits: map[string][]retrieval.ChunkHit{
		"q": {
			{Content: "c", DocumentName: "a.pdf", Score: 0.8},
			{Content: "c", DocumentName: "b.pdf", Score: 0.3},
		},
	}}
	d := NewDiscoverer(r, WithReranker(reranker))

	result, err := d.Discover(context.Background(), "q", "ds-1", [][]string{{"q"}})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 rerank documents, got %d", len(docs))
	}
	if docs[0] != "a.pdf (high keyword relevance)" || docs[1] != "b.pdf (low keyword relevance)" {
		t.Errorf("rerank documents missing relevance label: %v", docs)
	}
	// The result still carries the bare file names.
	if result.Files[0].FileName != "a.pdf" {
		t.Errorf("unexpected top file: %+v", result.Files[0])
	}
}

func TestDiscoverRerankFailureKeepsOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()
	reranker, _ := synthesis.NewReranker(server.URL, "m")

	r := &fakeRetriever{hits: map[string][]retrieval.ChunkHit{
		"q": {{Content: "c", DocumentName: "a.pdf", Score: 0.8}},
	}}
	d := NewDiscoverer(r, WithReranker(reranker))

	result, err := d.Discover(context.Background(), "q", "ds-1", [][]string{{"q"}})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(result.Files) != 1 || result.Files[0].FileName != "a.pdf" {
		t.Errorf("aggregation order should survive rerank failure: %+v", result.Files)
	}
	if result.Notice == "" {
		t.Error("expected a degradation notice")
	}
}

func TestListFilesCaches(t *testing.T) {
	r := &fakeRetriever{files: []string{"a.pdf", "b.pdf"}}
	l := NewLister(r, cache.NewMemoryStore(), time.Minute)

	for i := 0; i < 3; i++ {
		files, err := l.ListFiles(context.Background(), "ds-1")
		if err != nil {
			t.Fatalf("ListFiles: %v", err)
		}
		if len(files) != 2 {
			t.Fatalf("expected 2 files, got %d", len(files))
		}
	}
	if r.listCalls != 1 {
		t.Errorf("expected 1 backend call with caching, got %d", r.listCalls)
	}
}

func TestHasFiles(t *testing.T) {
	r := &fakeRetriever{files: []string{"a.pdf"}}
	l := NewLister(r, nil, 0)

	has, err := l.HasFiles(context.Background(), "ds-1")
	if err != nil {
		t.Fatalf("HasFiles: %v", err)
	}
	if !has {
		t.Error("expected HasFiles true")
	}

	empty := NewLister(&fakeRetriever{}, nil, 0)
	has, err = empty.HasFiles(context.Background(), "ds-2")
	if err != nil {
		t.Fatalf("HasFiles: %v", err)
	}
	if has {
		t.Error("expected HasFiles false for empty dataset")
	}
}

func TestHasFilesPropagatesError(t *testing.T) {
	r := &fakeRetriever{listErr: errors.New("backend down")}
	l := NewLister(r, nil, 0)

	if _, err := l.HasFiles(context.Background(), "ds-1"); err == nil {
		t.Fatal("expected error from backend")
	}
}
