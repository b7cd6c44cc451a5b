// Package discovery locates the files inside a dataset that are worth
// answering from: fanning keyword searches out over the backend, aggregating
// chunk scores per file, and optionally reranking the file list.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sweetpotato0/kbbridge/config"
	"github.com/sweetpotato0/kbbridge/pkg/logging"
	"github.com/sweetpotato0/kbbridge/retrieval"
	"github.com/sweetpotato0/kbbridge/synthesis"
)

// Result is the outcome of a file discovery pass.
type Result struct {
	Files []retrieval.FileHit `json:"files"`
	// Notice carries a human-readable degradation note, e.g. when
	// reranking was skipped. Empty on a clean pass.
	Notice string `json:"notice,omitempty"`
}

// Discoverer finds relevant files in a dataset from keyword sets.
type Discoverer struct {
	retriever   retrieval.Retriever
	reranker    *synthesis.Reranker
	maxWorkers  int
	topKRecall  int
	topKReturn  int
	aggregation retrieval.Aggregation
	logger      *slog.Logger
}

// DiscovererOption customises a Discoverer.
type DiscovererOption func(*Discoverer)

// WithReranker attaches a file-level reranker. A nil reranker leaves
// aggregation order in place.
func WithReranker(r *synthesis.Reranker) DiscovererOption {
	return func(d *Discoverer) { d.reranker = r }
}

// WithMaxWorkers bounds the concurrent keyword searches.
func WithMaxWorkers(n int) DiscovererOption {
	return func(d *Discoverer) {
		if n > 0 {
			d.maxWorkers = n
		}
	}
}

// WithTopK overrides the recall and return depths.
func WithTopK(recall, ret int) DiscovererOption {
	return func(d *Discoverer) {
		if recall > 0 {
			d.topKRecall = recall
		}
		if ret > 0 {
			d.topKReturn = ret
		}
	}
}

// WithAggregation selects how chunk scores combine into file scores.
func WithAggregation(agg retrieval.Aggregation) DiscovererOption {
	return func(d *Discoverer) { d.aggregation = agg }
}

// NewDiscoverer creates a Discoverer over the given backend.
func NewDiscoverer(retriever retrieval.Retriever, opts ...DiscovererOption) *Discoverer {
	d := &Discoverer{
		retriever:   retriever,
		maxWorkers:  config.DefaultMaxWorkers,
		topKRecall:  config.DefaultFileTopKRecall,
		topKReturn:  config.DefaultFileTopKReturn,
		aggregation: retrieval.Aggregation(config.DefaultFileAggregation),
		logger:      logging.WithComponent("discovery.discover"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover runs one keyword search per set in parallel, aggregates the chunk
// hits into file scores and returns the top files. Individual search
// failures are logged and skipped; the pass fails only when every search
// fails and nothing was collected.
func (d *Discoverer) Discover(ctx context.Context, query, datasetID string, keywordSets [][]string) (*Result, error) {
	if len(keywordSets) == 0 {
		keywordSets = [][]string{{query}}
	}

	var (
		mu     sync.Mutex
		chunks []retrieval.ChunkHit
		wg     sync.WaitGroup
	)
	sem := make(chan struct{}, d.maxWorkers)

	for _, set := range keywordSets {
		searchQuery := joinKeywords(set)
		if searchQuery == "" {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(searchQuery string) {
			defer wg.Done()
			defer func() { <-sem }()

			resp, err := d.retriever.Retrieve(ctx, retrieval.Request{
				Query:     searchQuery,
				DatasetID: datasetID,
				Method:    retrieval.MethodKeyword,
				TopK:      config.DefaultTopKPerKeyword,
			})
			if err != nil {
				d.logger.Warn("keyword search failed, skipping set",
					"dataset_id", datasetID, "keywords", searchQuery, "error", err)
				return
			}
			mu.Lock()
			chunks = append(chunks, resp.Segments...)
			mu.Unlock()
		}(searchQuery)
	}
	wg.Wait()

	files := retrieval.GroupFiles(chunks, d.aggregation)
	if len(files) > d.topKRecall {
		files = files[:d.topKRecall]
	}

	result := &Result{}
	files, result.Notice = d.rerankFiles(ctx, query, files)
	if len(files) > d.topKReturn {
		files = files[:d.topKReturn]
	}
	result.Files = files
	return result, nil
}

// rerankFiles reorders files by cross-encoder relevance to the query. When
// no reranker is configured, or the call fails, aggregation order stands and
// the notice says so.
func (d *Discoverer) rerankFiles(ctx context.Context, query string, files []retrieval.FileHit) ([]retrieval.FileHit, string) {
	if len(files) == 0 {
		return files, ""
	}
	if d.reranker == nil {
		return files, "file reranking skipped: no rerank service configured"
	}

	docs := make([]string, len(files))
	for i, f := range files {
		docs[i] = rerankDocument(f)
	}
	ranked, err := d.reranker.Rerank(ctx, query, docs)
	if err != nil {
		d.logger.Warn("file reranking failed, keeping aggregation order", "error", err)
		return files, "file reranking skipped: " + err.Error()
	}

	out := make([]retrieval.FileHit, 0, len(ranked))
	for _, entry := range ranked {
		out = append(out, retrieval.FileHit{
			FileName: files[entry.Index].FileName,
			Score:    entry.Score,
		})
	}
	return out, ""
}

// rerankDocument renders one file for the cross-encoder. A bare file name
// gives it almost nothing to score, so each carries a short relevance label
// derived from the keyword aggregation.
func rerankDocument(f retrieval.FileHit) string {
	return fmt.Sprintf("%s (%s keyword relevance)", f.FileName, relevanceLabel(f.Score))
}

func relevanceLabel(score float64) string {
	switch {
	case score >= 0.7:
		return "high"
	case score >= 0.4:
		return "medium"
	default:
		return "low"
	}
}

func joinKeywords(set []string) string {
	query := ""
	for _, term := range set {
		if term == "" {
			continue
		}
		if query != "" {
			query += " "
		}
		query += term
	}
	return query
}
