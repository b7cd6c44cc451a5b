// Package retrieval defines the contract between the orchestration pipeline
// and the knowledge-base backends that actually perform retrieval.
package retrieval

import "context"

// SearchMethod selects the backend search mode.
type SearchMethod string

const (
	MethodHybrid   SearchMethod = "hybrid_search"
	MethodSemantic SearchMethod = "semantic_search"
	MethodKeyword  SearchMethod = "keyword_search"
	MethodFullText SearchMethod = "full_text_search"
)

// ChunkHit is one scored content segment returned by a backend. Owned by the
// call that fetched it; never mutated.
type ChunkHit struct {
	Content      string  `json:"content"`
	DocumentName string  `json:"document_name"`
	Score        float64 `json:"score"`
}

// FileHit is a file-level aggregate of chunk scores. The score is the chosen
// aggregate and is not re-derived downstream.
type FileHit struct {
	FileName string  `json:"file_name"`
	Score    float64 `json:"score"`
}

// MetadataFilter restricts a retrieval call, typically to one document.
type MetadataFilter struct {
	DocumentName string `json:"document_name,omitempty"`
}

// Request carries the parameters of one retrieval call.
type Request struct {
	Query          string
	DatasetID      string
	Method         SearchMethod
	TopK           int
	DoesRerank     bool
	ScoreThreshold float64
	Filter         *MetadataFilter
}

// Response is the normalized result of one retrieval call.
type Response struct {
	Segments []ChunkHit
}

// Retriever is the backend contract the pipeline consumes. Implementations
// wrap one concrete knowledge-base service; they must be safe for concurrent
// use and must honor the context deadline on every call.
type Retriever interface {
	// Retrieve runs one search against the dataset.
	Retrieve(ctx context.Context, req Request) (*Response, error)

	// ListFiles returns the document names present in the dataset.
	ListFiles(ctx context.Context, datasetID string) ([]string, error)

	// BuildMetadataFilter builds a backend filter scoped to one document.
	// Returns nil when documentName is empty.
	BuildMetadataFilter(documentName string) *MetadataFilter
}
