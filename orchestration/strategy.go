package orchestration

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sweetpotato0/kbbridge/config"
	"github.com/sweetpotato0/kbbridge/discovery"
	"github.com/sweetpotato0/kbbridge/pkg/logging"
	"github.com/sweetpotato0/kbbridge/retrieval"
	"github.com/sweetpotato0/kbbridge/synthesis"
)

// FileSearchStrategy turns one query against one resource into answer
// candidates.
type FileSearchStrategy interface {
	Process(ctx context.Context, q string, resource Resource, cfg ProcessingConfig) *FileSearchResult
}

// DirectProcessor runs a single retrieval over the whole dataset and
// extracts one answer from the merged segments.
type DirectProcessor struct {
	retriever retrieval.Retriever
	extractor *synthesis.AnswerExtractor
	logger    *slog.Logger
}

// NewDirectProcessor creates a DirectProcessor.
func NewDirectProcessor(retriever retrieval.Retriever, extractor *synthesis.AnswerExtractor) *DirectProcessor {
	return &DirectProcessor{
		retriever: retriever,
		extractor: extractor,
		logger:    logging.WithComponent("orchestration.direct"),
	}
}

// Process implements FileSearchStrategy. A retrieval failure yields a failed
// candidate; an empty result is still a successful pass with the empty
// answer sentinel.
func (p *DirectProcessor) Process(ctx context.Context, q string, resource Resource, cfg ProcessingConfig) *FileSearchResult {
	candidate := synthesis.CandidateAnswer{
		Source:     string(StrategyDirect),
		DatasetID:  resource.DatasetID,
		SourcePath: resource.SourcePath,
	}

	resp, err := p.retriever.Retrieve(ctx, retrieval.Request{
		Query:          q,
		DatasetID:      resource.DatasetID,
		Method:         cfg.SearchMethod,
		TopK:           cfg.TopK,
		DoesRerank:     cfg.DoesRerank,
		ScoreThreshold: cfg.ScoreThreshold,
	})
	if err != nil {
		p.logger.Warn("direct retrieval failed",
			"dataset_id", resource.DatasetID, "error", err)
		candidate.Error = err.Error()
		return &FileSearchResult{Success: false, Candidates: []synthesis.CandidateAnswer{candidate}}
	}
	if len(resp.Segments) == 0 {
		candidate.Success = true
		candidate.Answer = config.EmptyAnswerSentinel
		return &FileSearchResult{Success: true, Candidates: []synthesis.CandidateAnswer{candidate}}
	}

	answer, err := p.extractor.Extract(ctx, q, resp.Segments)
	if err != nil {
		p.logger.Warn("direct answer extraction failed",
			"dataset_id", resource.DatasetID, "error", err)
		candidate.Error = err.Error()
		return &FileSearchResult{Success: false, Candidates: []synthesis.CandidateAnswer{candidate}}
	}
	candidate.Success = true
	candidate.Answer = answer
	return &FileSearchResult{Success: true, Candidates: []synthesis.CandidateAnswer{candidate}}
}

// AdvancedProcessor discovers relevant files first and extracts one answer
// per file, scoped by a metadata filter.
type AdvancedProcessor struct {
	retriever  retrieval.Retriever
	discoverer *discovery.Discoverer
	extractor  *synthesis.AnswerExtractor
	keywords   func(ctx context.Context, q string) [][]string
	logger     *slog.Logger
}

// NewAdvancedProcessor creates an AdvancedProcessor. keywords derives the
// keyword sets driving file discovery; nil means discovery searches on the
// raw query.
func NewAdvancedProcessor(
	retriever retrieval.Retriever,
	discoverer *discovery.Discoverer,
	extractor *synthesis.AnswerExtractor,
	keywords func(ctx context.Context, q string) [][]string,
) *AdvancedProcessor {
	return &AdvancedProcessor{
		retriever:  retriever,
		discoverer: discoverer,
		extractor:  extractor,
		keywords:   keywords,
		logger:     logging.WithComponent("orchestration.advanced"),
	}
}

// Process implements FileSearchStrategy. The pass succeeds even when
// individual files fail or discovery finds nothing; per-file errors are
// recorded on their candidates.
func (p *AdvancedProcessor) Process(ctx context.Context, q string, resource Resource, cfg ProcessingConfig) *FileSearchResult {
	var keywordSets [][]string
	if p.keywords != nil {
		keywordSets = p.keywords(ctx, q)
	}

	discovered, err := p.discoverer.Discover(ctx, q, resource.DatasetID, keywordSets)
	if err != nil {
		p.logger.Warn("file discovery failed",
			"dataset_id", resource.DatasetID, "error", err)
		return &FileSearchResult{Success: false, Notice: err.Error()}
	}
	result := &FileSearchResult{Success: true, Notice: discovered.Notice}
	if len(discovered.Files) == 0 {
		return result
	}

	candidates := make([]synthesis.CandidateAnswer, len(discovered.Files))
	var wg sync.WaitGroup
	sem := make(chan struct{}, cfg.MaxWorkers)
	for i, file := range discovered.Files {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, file retrieval.FileHit) {
			defer wg.Done()
			defer func() { <-sem }()
			candidates[i] = p.processFile(ctx, q, resource, file, cfg)
		}(i, file)
	}
	wg.Wait()

	result.Candidates = candidates
	return result
}

func (p *AdvancedProcessor) processFile(ctx context.Context, q string, resource Resource, file retrieval.FileHit, cfg ProcessingConfig) synthesis.CandidateAnswer {
	candidate := synthesis.CandidateAnswer{
		Source:     string(StrategyAdvanced),
		DatasetID:  resource.DatasetID,
		FileName:   file.FileName,
		SourcePath: resource.SourcePath,
		Score:      file.Score,
	}

	resp, err := p.retriever.Retrieve(ctx, retrieval.Request{
		Query:          q,
		DatasetID:      resource.DatasetID,
		Method:         cfg.SearchMethod,
		TopK:           cfg.TopK,
		DoesRerank:     cfg.DoesRerank,
		ScoreThreshold: cfg.ScoreThreshold,
		Filter:         p.retriever.BuildMetadataFilter(file.FileName),
	})
	if err != nil {
		p.logger.Warn("file retrieval failed",
			"dataset_id", resource.DatasetID, "file", file.FileName, "error", err)
		candidate.Error = err.Error()
		return candidate
	}

	answer, err := p.extractor.Extract(ctx, q, resp.Segments)
	if err != nil {
		p.logger.Warn("file answer extraction failed",
			"dataset_id", resource.DatasetID, "file", file.FileName, "error", err)
		candidate.Error = err.Error()
		return candidate
	}
	candidate.Success = true
	candidate.Answer = answer
	return candidate
}
