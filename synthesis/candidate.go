// Package synthesis turns retrieved segments into answers: extracting an
// answer per source, reranking candidates against the question, and
// formatting the winners into the final reply.
package synthesis

// CandidateAnswer is one answer candidate produced from a single source
// (a dataset, or one file within a dataset).
type CandidateAnswer struct {
	Source     string  `json:"source"`
	DatasetID  string  `json:"dataset_id"`
	FileName   string  `json:"file_name,omitempty"`
	SourcePath string  `json:"source_path,omitempty"`
	Answer     string  `json:"answer"`
	Success    bool    `json:"success"`
	Score      float64 `json:"score,omitempty"`
	Error      string  `json:"error,omitempty"`
	SubQuery   string  `json:"sub_query,omitempty"`
}
