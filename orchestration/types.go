// Package orchestration runs the full question answering pipeline: preparing
// the query, fanning retrieval out across datasets, and synthesising one
// final answer from the candidates.
package orchestration

import (
	"github.com/sweetpotato0/kbbridge/config"
	"github.com/sweetpotato0/kbbridge/query"
	"github.com/sweetpotato0/kbbridge/reflection"
	"github.com/sweetpotato0/kbbridge/retrieval"
	"github.com/sweetpotato0/kbbridge/synthesis"
)

// Strategy selects how a dataset with files is searched.
type Strategy string

const (
	// StrategyDirect runs one retrieval over the whole dataset.
	StrategyDirect Strategy = "direct"
	// StrategyAdvanced discovers relevant files first and extracts one
	// answer per file.
	StrategyAdvanced Strategy = "advanced"
	// StrategyAll runs both and merges their candidates. A broad direct
	// pass and file-scoped passes surface different answers, so this is
	// the default; the single-strategy values exist to restrict a request.
	StrategyAll Strategy = "all"
)

// Resource names one knowledge base to search. SourcePath is an optional
// human-readable origin carried through to the answer attribution.
type Resource struct {
	DatasetID  string `json:"dataset_id"`
	SourcePath string `json:"source_path,omitempty"`
}

// ProcessingConfig carries the per-request pipeline knobs.
type ProcessingConfig struct {
	Strategy       Strategy               `json:"strategy"`
	SearchMethod   retrieval.SearchMethod `json:"search_method"`
	TopK           int                    `json:"top_k"`
	ScoreThreshold float64                `json:"score_threshold"`
	DoesRerank     bool                   `json:"does_rerank"`
	MaxWorkers     int                    `json:"max_workers"`
	MaxSubQueries  int                    `json:"max_sub_queries"`
	Aggregation    retrieval.Aggregation  `json:"aggregation"`

	EnableReflection     bool    `json:"enable_reflection"`
	QualityThreshold     float64 `json:"quality_threshold"`
	ReflectionIterations int     `json:"reflection_iterations"`
}

// DefaultProcessingConfig returns the standard knobs.
func DefaultProcessingConfig() ProcessingConfig {
	return ProcessingConfig{
		Strategy:             StrategyAll,
		SearchMethod:         retrieval.SearchMethod(config.DefaultSearchMethod),
		TopK:                 config.DefaultTopK,
		ScoreThreshold:       config.DefaultScoreThreshold,
		MaxWorkers:           config.DefaultMaxWorkers,
		MaxSubQueries:        config.DefaultMaxSubQueries,
		Aggregation:          retrieval.Aggregation(config.DefaultFileAggregation),
		QualityThreshold:     config.DefaultQualityThreshold,
		ReflectionIterations: config.DefaultReflectionIterations,
	}
}

// Validate checks the knobs and normalises blanks to defaults.
func (c *ProcessingConfig) Validate() error {
	if c.Strategy == "" {
		c.Strategy = StrategyAll
	}
	if c.SearchMethod == "" {
		c.SearchMethod = retrieval.SearchMethod(config.DefaultSearchMethod)
	}
	if c.TopK == 0 {
		c.TopK = config.DefaultTopK
	}
	if c.MaxWorkers == 0 {
		c.MaxWorkers = config.DefaultMaxWorkers
	}
	if c.MaxSubQueries == 0 {
		c.MaxSubQueries = config.DefaultMaxSubQueries
	}
	if c.QualityThreshold == 0 {
		c.QualityThreshold = config.DefaultQualityThreshold
	}
	if c.ReflectionIterations == 0 {
		c.ReflectionIterations = config.DefaultReflectionIterations
	}

	v := config.NewValidator().
		RequirePositive("top_k", c.TopK).
		RequirePositive("max_workers", c.MaxWorkers).
		RequirePositive("max_sub_queries", c.MaxSubQueries).
		ValidateFloatRange("score_threshold", c.ScoreThreshold, 0, 1).
		ValidateFloatRange("quality_threshold", c.QualityThreshold, 0, 1).
		ValidateRange("reflection_iterations", c.ReflectionIterations, 1, config.MaxReflectionIterations)
	if c.Strategy != StrategyDirect && c.Strategy != StrategyAdvanced && c.Strategy != StrategyAll {
		v.RequireNonEmpty("strategy", "")
	}
	return v.Err()
}

// DatasetResult is the outcome of processing one resource, possibly holding
// several per-file candidates.
type DatasetResult struct {
	DatasetID  string                      `json:"dataset_id"`
	Candidates []synthesis.CandidateAnswer `json:"candidates"`
}

// FileSearchResult is the outcome of one file search strategy pass over one
// dataset.
type FileSearchResult struct {
	Success    bool                        `json:"success"`
	Candidates []synthesis.CandidateAnswer `json:"candidates"`
	Notice     string                      `json:"notice,omitempty"`
}

// Answer is the full pipeline output for one question.
type Answer struct {
	Query        string                      `json:"query"`
	Answer       string                      `json:"answer"`
	Success      bool                        `json:"success"`
	Sources      []string                    `json:"sources,omitempty"`
	TotalSources int                         `json:"total_sources"`
	Confidence   float64                     `json:"confidence"`
	Candidates   []synthesis.CandidateAnswer `json:"candidates,omitempty"`
	Rewrite      *query.RewriteResult        `json:"rewrite,omitempty"`
	Intent       *query.Intent               `json:"intent,omitempty"`
	Reflection   *reflection.Report          `json:"reflection,omitempty"`
	RerankErr    string                      `json:"rerank_error,omitempty"`
	Profile      map[string]float64          `json:"profile_ms,omitempty"`
}
