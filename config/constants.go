package config

import "time"

// Assistant pipeline defaults.
const (
	DefaultMaxWorkers        = 4
	DefaultMaxSubQueries     = 3
	DefaultScoreThreshold    = 0.5
	DefaultLLMTemperature    = 0.0
	DefaultRequestTimeout    = 30 * time.Second
	DefaultGenerationTimeout = 60 * time.Second
)

// Retriever defaults.
const (
	DefaultSearchMethod = "hybrid_search"
	DefaultTopK         = 20
	DefaultDoesRerank   = false
)

// File discovery defaults.
const (
	DefaultMaxKeywordSets          = 3
	DefaultTopKPerKeyword          = 10
	DefaultFileTopKRecall          = 30
	DefaultFileTopKReturn          = 10
	DefaultFileAggregation         = "max"
	DefaultRelevanceScoreThreshold = 0.2
	DefaultFileListCacheTTL        = 5 * time.Minute
)

// Reflection defaults. MaxReflectionIterations is a hard cap; configured
// values above it are clamped.
const (
	DefaultQualityThreshold     = 0.7
	DefaultReflectionIterations = 2
	MaxReflectionIterations     = 5
	RefineScoreGap              = 0.4
	FeedbackHistoryLimit        = 200
)

// Quality score weights; they sum to 1.0.
const (
	WeightCompleteness = 0.30
	WeightAccuracy     = 0.30
	WeightRelevance    = 0.20
	WeightClarity      = 0.10
	WeightConfidence   = 0.10
)

// Answer sentinels.
const (
	EmptyAnswerSentinel = "N/A"
	NoAnswerFallback    = "N/A - No relevant information found"
)
