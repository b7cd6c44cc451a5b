// Package dify adapts the Dify knowledge-base API to the retrieval.Retriever
// contract. Registered under the "dify" backend tag.
package dify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sweetpotato0/kbbridge/config"
	"github.com/sweetpotato0/kbbridge/retrieval"
)

const (
	defaultTimeout = 30 * time.Second

	// Dify requires a provider/model pair whenever reranking is enabled.
	defaultRerankProvider = "cohere"
	defaultRerankModel    = "rerank-english-v3.0"
)

func init() {
	retrieval.Register("dify", func(creds config.Credentials) (retrieval.Retriever, error) {
		return New(creds.RetrievalEndpoint, creds.RetrievalAPIKey)
	})
}

// Client implements retrieval.Retriever against a Dify deployment.
type Client struct {
	endpoint       string
	apiKey         string
	httpClient     *http.Client
	rerankProvider string
	rerankModel    string
}

// Option customises the Dify client.
type Option func(*Client)

// WithHTTPClient swaps the HTTP client (useful for timeouts or proxies).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRerankModel overrides the reranking provider/model pair sent to Dify.
func WithRerankModel(provider, model string) Option {
	return func(c *Client) {
		if provider != "" {
			c.rerankProvider = provider
		}
		if model != "" {
			c.rerankModel = model
		}
	}
}

// New creates a Dify retriever client.
func New(endpoint, apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("dify endpoint cannot be empty")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("dify api key cannot be empty")
	}
	c := &Client{
		endpoint:       strings.TrimRight(endpoint, "/"),
		apiKey:         apiKey,
		httpClient:     &http.Client{Timeout: defaultTimeout},
		rerankProvider: defaultRerankProvider,
		rerankModel:    defaultRerankModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type retrievalModel struct {
	SearchMethod          string          `json:"search_method"`
	RerankingEnable       bool            `json:"reranking_enable"`
	RerankingModel        *rerankingModel `json:"reranking_model,omitempty"`
	TopK                  int             `json:"top_k"`
	ScoreThresholdEnabled bool            `json:"score_threshold_enabled"`
	ScoreThreshold        float64         `json:"score_threshold,omitempty"`
	MetadataFilter        *metadataFilter `json:"metadata_filtering_conditions,omitempty"`
}

type rerankingModel struct {
	RerankingProviderName string `json:"reranking_provider_name"`
	RerankingModelName    string `json:"reranking_model_name"`
}

type metadataFilter struct {
	LogicalOperator string              `json:"logical_operator"`
	Conditions      []metadataCondition `json:"conditions"`
}

type metadataCondition struct {
	Name               string `json:"name"`
	ComparisonOperator string `json:"comparison_operator"`
	Value              string `json:"value"`
}

type retrieveRequest struct {
	Query          string         `json:"query"`
	RetrievalModel retrievalModel `json:"retrieval_model"`
}

type retrieveResponse struct {
	Records []struct {
		Segment *struct {
			Content  string `json:"content"`
			Document *struct {
				Name string `json:"name"`
			} `json:"document"`
		} `json:"segment"`
		Score float64 `json:"score"`
	} `json:"records"`
}

// Retrieve implements retrieval.Retriever.
func (c *Client) Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Response, error) {
	method := string(req.Method)
	if method == "" {
		method = config.DefaultSearchMethod
	}
	topK := req.TopK
	if topK <= 0 {
		topK = config.DefaultTopK
	}

	model := retrievalModel{
		SearchMethod:    method,
		RerankingEnable: req.DoesRerank,
		TopK:            topK,
	}
	if req.DoesRerank {
		model.RerankingModel = &rerankingModel{
			RerankingProviderName: c.rerankProvider,
			RerankingModelName:    c.rerankModel,
		}
	}
	if req.ScoreThreshold > 0 {
		model.ScoreThresholdEnabled = true
		model.ScoreThreshold = req.ScoreThreshold
	}
	if req.Filter != nil && req.Filter.DocumentName != "" {
		model.MetadataFilter = &metadataFilter{
			LogicalOperator: "and",
			Conditions: []metadataCondition{{
				Name:               "document_name",
				ComparisonOperator: "is",
				Value:              req.Filter.DocumentName,
			}},
		}
	}

	body, err := json.Marshal(retrieveRequest{Query: req.Query, RetrievalModel: model})
	if err != nil {
		return nil, fmt.Errorf("dify: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/datasets/%s/retrieve", c.endpoint, url.PathEscape(req.DatasetID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("dify: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dify: retrieve failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("dify: retrieve failed: status %d", resp.StatusCode)
	}

	var rr retrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("dify: decode response: %w", err)
	}

	segments := make([]retrieval.ChunkHit, 0, len(rr.Records))
	for _, record := range rr.Records {
		if record.Segment == nil {
			continue
		}
		hit := retrieval.ChunkHit{
			Content: record.Segment.Content,
			Score:   record.Score,
		}
		if record.Segment.Document != nil {
			hit.DocumentName = record.Segment.Document.Name
		}
		segments = append(segments, hit)
	}
	return &retrieval.Response{Segments: segments}, nil
}

type listDocumentsResponse struct {
	Data []struct {
		Name string `json:"name"`
	} `json:"data"`
	HasMore bool `json:"has_more"`
	Page    int  `json:"page"`
}

// ListFiles implements retrieval.Retriever.
func (c *Client) ListFiles(ctx context.Context, datasetID string) ([]string, error) {
	var names []string
	for page := 1; ; page++ {
		endpoint := fmt.Sprintf("%s/datasets/%s/documents?page=%d&limit=100",
			c.endpoint, url.PathEscape(datasetID), page)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("dify: build request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("dify: list files failed: %w", err)
		}
		var lr listDocumentsResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&lr)
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("dify: list files failed: status %d", resp.StatusCode)
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("dify: decode response: %w", decodeErr)
		}

		for _, doc := range lr.Data {
			if doc.Name != "" {
				names = append(names, doc.Name)
			}
		}
		if !lr.HasMore {
			break
		}
	}
	return names, nil
}

// BuildMetadataFilter implements retrieval.Retriever.
func (c *Client) BuildMetadataFilter(documentName string) *retrieval.MetadataFilter {
	if strings.TrimSpace(documentName) == "" {
		return nil
	}
	return &retrieval.MetadataFilter{DocumentName: documentName}
}
