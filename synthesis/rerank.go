package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/sweetpotato0/kbbridge/pkg/logging"
)

const rerankTimeout = 30 * time.Second

// RankedDocument is one scored entry from a rerank call, referring back to
// the input document by index.
type RankedDocument struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

// Reranker scores documents against a query with an external cross-encoder
// service.
type Reranker struct {
	url        string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// RerankerOption customises the Reranker.
type RerankerOption func(*Reranker)

// WithRerankHTTPClient swaps the HTTP client.
func WithRerankHTTPClient(client *http.Client) RerankerOption {
	return func(r *Reranker) {
		if client != nil {
			r.httpClient = client
		}
	}
}

// NewReranker creates a Reranker for the given service URL and model.
func NewReranker(url, model string, opts ...RerankerOption) (*Reranker, error) {
	if url == "" {
		return nil, fmt.Errorf("rerank URL cannot be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("rerank model cannot be empty")
	}
	r := &Reranker{
		url:        url,
		model:      model,
		httpClient: &http.Client{Timeout: rerankTimeout},
		logger:     logging.WithComponent("synthesis.rerank"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []json.RawMessage `json:"results"`
}

// rerankEntry decodes one result entry. Pointer fields distinguish a null or
// missing value from a real zero, so entries without a usable index and score
// can be dropped instead of ranking as zero.
type rerankEntry struct {
	Index *int     `json:"index"`
	Score *float64 `json:"relevance_score"`
}

// Rerank scores the documents against the query and returns them sorted by
// descending relevance. Entries with an out-of-range index or a malformed
// score are dropped rather than failing the call.
func (r *Reranker) Rerank(ctx context.Context, query string, documents []string) ([]RankedDocument, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("rerank: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rerank: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rerank: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rerank: request failed: status %d", resp.StatusCode)
	}

	var rr rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("rerank: decode response: %w", err)
	}

	ranked := make([]RankedDocument, 0, len(rr.Results))
	for _, raw := range rr.Results {
		var entry rerankEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			r.logger.Warn("dropping malformed rerank entry", "entry", string(raw), "error", err)
			continue
		}
		if entry.Index == nil || entry.Score == nil {
			r.logger.Warn("dropping rerank entry without index or score", "entry", string(raw))
			continue
		}
		if *entry.Index < 0 || *entry.Index >= len(documents) {
			r.logger.Warn("dropping rerank entry with out-of-range index", "index", *entry.Index)
			continue
		}
		ranked = append(ranked, RankedDocument{Index: *entry.Index, Score: *entry.Score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked, nil
}

// RerankCandidates reranks answer candidates by their answer text. The
// returned slice holds the surviving candidates sorted by descending score,
// with Score set from the reranker. Candidates the service dropped do not
// appear in the output.
func (r *Reranker) RerankCandidates(ctx context.Context, query string, candidates []CandidateAnswer) ([]CandidateAnswer, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	documents := make([]string, len(candidates))
	for i, candidate := range candidates {
		documents[i] = candidate.Answer
	}

	ranked, err := r.Rerank(ctx, query, documents)
	if err != nil {
		return nil, err
	}
	out := make([]CandidateAnswer, 0, len(ranked))
	for _, entry := range ranked {
		candidate := candidates[entry.Index]
		candidate.Score = entry.Score
		out = append(out, candidate)
	}
	return out, nil
}
