package config

import (
	"fmt"
	"os"
	"strings"

	kberrors "github.com/sweetpotato0/kbbridge/errors"
)

// Credentials groups everything the pipeline needs to reach its external
// collaborators. Built once per request from the environment; read-only
// thereafter.
type Credentials struct {
	// Retrieval backend.
	BackendType       string
	RetrievalEndpoint string
	RetrievalAPIKey   string

	// Text generation.
	LLMAPIURL   string
	LLMModel    string
	LLMAPIToken string

	// Cross-encoder reranking. Optional: reranking is transparently
	// skipped when either field is empty.
	RerankURL   string
	RerankModel string

	// Optional infrastructure.
	RedisAddr   string
	PostgresDSN string
}

// FromEnv builds credentials from environment variables.
func FromEnv() Credentials {
	backend := os.Getenv("KB_BACKEND_TYPE")
	if backend == "" {
		backend = "dify"
	}
	return Credentials{
		BackendType:       backend,
		RetrievalEndpoint: os.Getenv("KB_RETRIEVAL_ENDPOINT"),
		RetrievalAPIKey:   os.Getenv("KB_RETRIEVAL_API_KEY"),
		LLMAPIURL:         os.Getenv("LLM_API_URL"),
		LLMModel:          os.Getenv("LLM_MODEL"),
		LLMAPIToken:       os.Getenv("LLM_API_TOKEN"),
		RerankURL:         os.Getenv("RERANK_URL"),
		RerankModel:       os.Getenv("RERANK_MODEL"),
		RedisAddr:         os.Getenv("KB_REDIS_ADDR"),
		PostgresDSN:       os.Getenv("KB_POSTGRES_DSN"),
	}
}

// Validate checks the required fields. Configuration errors are fatal for
// the request, so the returned error names the violated field.
func (c Credentials) Validate() error {
	v := NewValidator().
		RequireNonEmpty("retrieval_endpoint", c.RetrievalEndpoint).
		RequireNonEmpty("retrieval_api_key", c.RetrievalAPIKey).
		RequireNonEmpty("llm_model", c.LLMModel)
	if err := v.Err(); err != nil {
		return fmt.Errorf("%w: %s", kberrors.ErrInvalidCredentials, err)
	}
	return nil
}

// RerankConfigured reports whether the cross-encoder endpoint is usable.
func (c Credentials) RerankConfigured() bool {
	return strings.TrimSpace(c.RerankURL) != "" && strings.TrimSpace(c.RerankModel) != ""
}

// MaskedSummary returns a log-safe view of the credentials.
func (c Credentials) MaskedSummary() map[string]string {
	return map[string]string{
		"backend_type":       c.BackendType,
		"retrieval_endpoint": maskValue(c.RetrievalEndpoint),
		"retrieval_api_key":  maskValue(c.RetrievalAPIKey),
		"llm_api_url":        c.LLMAPIURL,
		"llm_model":          c.LLMModel,
		"llm_api_token":      maskValue(c.LLMAPIToken),
		"rerank_url":         c.RerankURL,
		"rerank_model":       c.RerankModel,
	}
}

func maskValue(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "***"
	}
	return value[:4] + "***" + value[len(value)-4:]
}
