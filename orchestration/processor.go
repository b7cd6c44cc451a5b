package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sweetpotato0/kbbridge/discovery"
	kberrors "github.com/sweetpotato0/kbbridge/errors"
	"github.com/sweetpotato0/kbbridge/pkg/logging"
	"github.com/sweetpotato0/kbbridge/synthesis"
)

// DatasetProcessor fans retrieval out over every resource and sub-query,
// running both retrieval strategies unless the request restricts to one.
type DatasetProcessor struct {
	lister   *discovery.Lister
	direct   FileSearchStrategy
	advanced FileSearchStrategy
	logger   *slog.Logger
}

// NewDatasetProcessor creates a DatasetProcessor.
func NewDatasetProcessor(lister *discovery.Lister, direct, advanced FileSearchStrategy) *DatasetProcessor {
	return &DatasetProcessor{
		lister:   lister,
		direct:   direct,
		advanced: advanced,
		logger:   logging.WithComponent("orchestration.processor"),
	}
}

// Process runs every query against every resource that holds files and
// returns the merged candidates. When the existence check fails for a
// resource, the resource is assumed to have content rather than dropped.
// When no resource holds files the run fails with ErrNoDatasetsWithFiles.
func (p *DatasetProcessor) Process(ctx context.Context, queries []string, resources []Resource, cfg ProcessingConfig) ([]synthesis.CandidateAnswer, error) {
	if len(queries) == 0 || len(resources) == 0 {
		return nil, fmt.Errorf("queries and resources are required: %w", kberrors.ErrInvalidInput)
	}

	live := p.filterResources(ctx, resources)
	if len(live) == 0 {
		return nil, kberrors.ErrNoDatasetsWithFiles
	}

	strategies := p.selectStrategies(cfg.Strategy)

	type job struct {
		query    string
		resource Resource
		strategy FileSearchStrategy
	}
	jobs := make([]job, 0, len(queries)*len(live)*len(strategies))
	for _, q := range queries {
		for _, resource := range live {
			for _, strategy := range strategies {
				jobs = append(jobs, job{query: q, resource: resource, strategy: strategy})
			}
		}
	}

	// Worker width tracks roughly half the fan-out so small requests do
	// not burst the backend.
	workers := cfg.MaxWorkers
	if half := (len(jobs) + 1) / 2; workers > half {
		workers = half
	}

	results := make([]*FileSearchResult, len(jobs))
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, j := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, j job) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = j.strategy.Process(ctx, j.query, j.resource, cfg)
		}(i, j)
	}
	wg.Wait()

	subQueried := len(queries) > 1
	var candidates []synthesis.CandidateAnswer
	for i, result := range results {
		if result == nil {
			continue
		}
		if !result.Success {
			p.logger.Warn("search pass failed",
				"dataset_id", jobs[i].resource.DatasetID,
				"query", jobs[i].query,
				"notice", result.Notice)
		}
		for _, candidate := range result.Candidates {
			if subQueried {
				candidate.SubQuery = jobs[i].query
			}
			candidates = append(candidates, candidate)
		}
	}
	return candidates, nil
}

// selectStrategies resolves the strategy restriction. The default runs both
// passes per resource, since broad retrieval and file-scoped retrieval catch
// different answers.
func (p *DatasetProcessor) selectStrategies(s Strategy) []FileSearchStrategy {
	switch s {
	case StrategyDirect:
		return []FileSearchStrategy{p.direct}
	case StrategyAdvanced:
		return []FileSearchStrategy{p.advanced}
	default:
		return []FileSearchStrategy{p.direct, p.advanced}
	}
}

// filterResources drops resources whose datasets are empty. An existence
// check failure keeps the resource: a flaky backend must not silently shrink
// the search surface.
func (p *DatasetProcessor) filterResources(ctx context.Context, resources []Resource) []Resource {
	live := make([]Resource, 0, len(resources))
	for _, resource := range resources {
		has, err := p.lister.HasFiles(ctx, resource.DatasetID)
		if err != nil {
			p.logger.Warn("file existence check failed, assuming dataset has content",
				"dataset_id", resource.DatasetID, "error", err)
			live = append(live, resource)
			continue
		}
		if !has {
			p.logger.Debug("skipping dataset without files", "dataset_id", resource.DatasetID)
			continue
		}
		live = append(live, resource)
	}
	return live
}
