// Package server exposes the answering pipeline over the Model Context
// Protocol. One Server instance serves both the stdio and streamable HTTP
// transports.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweetpotato0/kbbridge/config"
	"github.com/sweetpotato0/kbbridge/discovery"
	"github.com/sweetpotato0/kbbridge/orchestration"
	"github.com/sweetpotato0/kbbridge/pkg/logging"
	"github.com/sweetpotato0/kbbridge/query"
	"github.com/sweetpotato0/kbbridge/retrieval"
)

// Version is the protocol-visible server version.
const Version = "0.1.0"

// Deps bundles the pipeline components the tools delegate to.
type Deps struct {
	Assistant  *orchestration.Assistant
	Retriever  retrieval.Retriever
	Discoverer *discovery.Discoverer
	Keywords   *query.KeywordGenerator
	// RerankEnabled reports whether rerank credentials are configured.
	// Backend-side reranking is only requested when they are.
	RerankEnabled bool
}

// NewServer builds the MCP server with every tool registered.
func NewServer(name string, deps Deps) (*mcp.Server, error) {
	if deps.Assistant == nil || deps.Retriever == nil || deps.Discoverer == nil || deps.Keywords == nil {
		return nil, fmt.Errorf("all tool dependencies are required")
	}
	server := mcp.NewServer(&mcp.Implementation{
		Name:    name,
		Version: Version,
		Title:   "knowledge base answering server",
	}, nil)

	logger := logging.WithComponent("server")
	addAssistantTool(server, deps.Assistant, deps.RerankEnabled, logger)
	addRetrieverTool(server, deps.Retriever, deps.RerankEnabled, logger)
	addFileDiscoverTool(server, deps.Discoverer, deps.Keywords, logger)
	addKeywordTool(server, deps.Keywords, logger)
	return server, nil
}

// textResult wraps a JSON-encodable payload into a tool result.
func textResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}, nil
}

// guard converts a handler panic into a tool error so a bad request can
// never tear the transport down.
func guard(logger *slog.Logger, tool string, err *error) {
	if r := recover(); r != nil {
		logger.Error("tool handler panicked", "tool", tool, "panic", r)
		*err = fmt.Errorf("%s: internal error", tool)
	}
}

type assistantArgs struct {
	Query            string   `json:"query" jsonschema:"Question to answer from the knowledge bases"`
	DatasetIDs       []string `json:"dataset_ids" jsonschema:"Knowledge base dataset IDs to search"`
	Strategy         string   `json:"strategy,omitempty" jsonschema:"Search strategy: direct, advanced or all (default all)"`
	SearchMethod     string   `json:"search_method,omitempty" jsonschema:"Backend search method (default hybrid_search)"`
	TopK             int      `json:"top_k,omitempty" jsonschema:"Segments to retrieve per search"`
	ScoreThreshold   float64  `json:"score_threshold,omitempty" jsonschema:"Minimum segment score in [0,1]"`
	EnableReflection bool     `json:"enable_reflection,omitempty" jsonschema:"Run the answer quality loop"`
}

// assistantConfig resolves tool arguments into a pipeline config. Backend
// reranking follows the credential state, never the caller.
func assistantConfig(a assistantArgs, rerankEnabled bool) orchestration.ProcessingConfig {
	cfg := orchestration.DefaultProcessingConfig()
	if a.Strategy != "" {
		cfg.Strategy = orchestration.Strategy(a.Strategy)
	}
	if a.SearchMethod != "" {
		cfg.SearchMethod = retrieval.SearchMethod(a.SearchMethod)
	}
	if a.TopK > 0 {
		cfg.TopK = a.TopK
	}
	if a.ScoreThreshold > 0 {
		cfg.ScoreThreshold = a.ScoreThreshold
	}
	cfg.DoesRerank = rerankEnabled
	cfg.EnableReflection = a.EnableReflection
	return cfg
}

func addAssistantTool(server *mcp.Server, assistant *orchestration.Assistant, rerankEnabled bool, logger *slog.Logger) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "assistant",
		Description: "Answer a question from one or more knowledge base datasets",
	}, func(ctx context.Context, req *mcp.CallToolRequest, a assistantArgs) (result *mcp.CallToolResult, _ any, err error) {
		defer guard(logger, "assistant", &err)

		if len(a.DatasetIDs) == 0 {
			return nil, nil, fmt.Errorf("dataset_ids is required")
		}
		cfg := assistantConfig(a, rerankEnabled)

		resources := make([]orchestration.Resource, 0, len(a.DatasetIDs))
		for _, id := range a.DatasetIDs {
			if id = strings.TrimSpace(id); id != "" {
				resources = append(resources, orchestration.Resource{DatasetID: id})
			}
		}

		answer, err := assistant.Ask(ctx, a.Query, resources, cfg)
		if err != nil {
			return nil, nil, err
		}
		result, err = textResult(answer)
		return result, nil, err
	})
}

func addRetrieverTool(server *mcp.Server, retriever retrieval.Retriever, rerankEnabled bool, logger *slog.Logger) {
	type args struct {
		Query          string  `json:"query" jsonschema:"Search query"`
		DatasetID      string  `json:"dataset_id" jsonschema:"Knowledge base dataset ID"`
		SearchMethod   string  `json:"search_method,omitempty" jsonschema:"Backend search method (default hybrid_search)"`
		TopK           int     `json:"top_k,omitempty" jsonschema:"Segments to return"`
		ScoreThreshold float64 `json:"score_threshold,omitempty" jsonschema:"Minimum segment score in [0,1]"`
		DocumentName   string  `json:"document_name,omitempty" jsonschema:"Restrict the search to one document"`
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "retriever",
		Description: "Run one raw retrieval against a dataset and return the scored segments",
	}, func(ctx context.Context, req *mcp.CallToolRequest, a args) (result *mcp.CallToolResult, _ any, err error) {
		defer guard(logger, "retriever", &err)

		if a.DatasetID == "" {
			return nil, nil, fmt.Errorf("dataset_id is required")
		}
		method := retrieval.SearchMethod(a.SearchMethod)
		if method == "" {
			method = retrieval.SearchMethod(config.DefaultSearchMethod)
		}
		resp, err := retriever.Retrieve(ctx, retrieval.Request{
			Query:          a.Query,
			DatasetID:      a.DatasetID,
			Method:         method,
			TopK:           a.TopK,
			DoesRerank:     rerankEnabled,
			ScoreThreshold: a.ScoreThreshold,
			Filter:         retriever.BuildMetadataFilter(a.DocumentName),
		})
		if err != nil {
			return nil, nil, err
		}
		result, err = textResult(resp)
		return result, nil, err
	})
}

func addFileDiscoverTool(server *mcp.Server, discoverer *discovery.Discoverer, keywords *query.KeywordGenerator, logger *slog.Logger) {
	type args struct {
		Query     string `json:"query" jsonschema:"Question used to rank files"`
		DatasetID string `json:"dataset_id" jsonschema:"Knowledge base dataset ID"`
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "file_discover",
		Description: "Discover which files in a dataset are most relevant to a question",
	}, func(ctx context.Context, req *mcp.CallToolRequest, a args) (result *mcp.CallToolResult, _ any, err error) {
		defer guard(logger, "file_discover", &err)

		if a.DatasetID == "" {
			return nil, nil, fmt.Errorf("dataset_id is required")
		}
		sets := keywords.Generate(ctx, a.Query)
		discovered, err := discoverer.Discover(ctx, a.Query, a.DatasetID, sets)
		if err != nil {
			return nil, nil, err
		}
		result, err = textResult(discovered)
		return result, nil, err
	})
}

func addKeywordTool(server *mcp.Server, keywords *query.KeywordGenerator, logger *slog.Logger) {
	type args struct {
		Query string `json:"query" jsonschema:"Question to derive keyword sets from"`
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "keyword_generator",
		Description: "Generate alternative keyword sets for file discovery",
	}, func(ctx context.Context, req *mcp.CallToolRequest, a args) (result *mcp.CallToolResult, _ any, err error) {
		defer guard(logger, "keyword_generator", &err)

		if strings.TrimSpace(a.Query) == "" {
			return nil, nil, fmt.Errorf("query is required")
		}
		result, err = textResult(map[string]any{
			"keyword_sets": keywords.Generate(ctx, a.Query),
		})
		return result, nil, err
	})
}
