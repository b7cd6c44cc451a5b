// Package query prepares a raw user question for retrieval: rewriting it for
// recall, splitting it into sub-queries, and deriving keyword sets for file
// discovery. Every stage degrades to a pass-through when the model call or
// its output fails, so a broken planner never blocks retrieval.
package query

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/kbbridge/llm"
	"github.com/sweetpotato0/kbbridge/pkg/logging"
	"github.com/sweetpotato0/kbbridge/prompt"
)

// Rewrite strategies.
const (
	StrategyNoChange   = "no_change"
	StrategyExpansion  = "expansion"
	StrategyRelaxation = "relaxation"
)

// RewriteResult is the outcome of a rewrite pass.
type RewriteResult struct {
	Strategy       string  `json:"strategy"`
	OriginalQuery  string  `json:"original_query"`
	RewrittenQuery string  `json:"rewritten_query"`
	Confidence     float64 `json:"confidence"`
	Reason         string  `json:"reason,omitempty"`
}

// Rewriter classifies a query and rewrites it when expansion or relaxation
// would improve recall.
type Rewriter struct {
	client llm.Client
	logger *slog.Logger
}

// NewRewriter creates a Rewriter backed by the given client.
func NewRewriter(client llm.Client) *Rewriter {
	return &Rewriter{
		client: client,
		logger: logging.WithComponent("query.rewriter"),
	}
}

type analyzeReply struct {
	Strategy   string  `json:"strategy"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

type rewriteReply struct {
	RewrittenQuery string `json:"rewritten_query"`
}

// Rewrite analyzes the query and applies the selected strategy. Any failure
// degrades to a pass-through result carrying the original query.
func (r *Rewriter) Rewrite(ctx context.Context, query string) *RewriteResult {
	query = strings.TrimSpace(query)
	passthrough := &RewriteResult{
		Strategy:       StrategyNoChange,
		OriginalQuery:  query,
		RewrittenQuery: query,
	}
	if query == "" {
		return passthrough
	}

	analysis, err := r.analyze(ctx, query)
	if err != nil {
		r.logger.Warn("query analysis failed, passing query through", "error", err)
		return passthrough
	}
	result := &RewriteResult{
		Strategy:       analysis.Strategy,
		OriginalQuery:  query,
		RewrittenQuery: query,
		Confidence:     analysis.Confidence,
		Reason:         analysis.Reason,
	}

	var tmpl string
	switch analysis.Strategy {
	case StrategyExpansion:
		tmpl = prompt.QueryExpand
	case StrategyRelaxation:
		tmpl = prompt.QueryRelax
	case StrategyNoChange:
		return result
	default:
		r.logger.Warn("unknown rewrite strategy, passing query through", "strategy", analysis.Strategy)
		result.Strategy = StrategyNoChange
		return result
	}

	rewritten, err := r.applyStrategy(ctx, tmpl, query)
	if err != nil {
		r.logger.Warn("query rewrite failed, passing query through",
			"strategy", analysis.Strategy, "error", err)
		result.Strategy = StrategyNoChange
		result.Confidence = 0.5
		return result
	}
	if rewritten != "" {
		result.RewrittenQuery = rewritten
	}
	return result
}

func (r *Rewriter) analyze(ctx context.Context, query string) (*analyzeReply, error) {
	resp, err := r.client.Generate(ctx, &llm.GenerateRequest{
		Messages: []*llm.Message{
			llm.NewMessage(llm.RoleSystem, prompt.QueryAnalyze),
			llm.NewMessage(llm.RoleUser, query),
		},
	})
	if err != nil {
		return nil, err
	}
	return llm.DecodeJSON[analyzeReply](resp.Text())
}

func (r *Rewriter) applyStrategy(ctx context.Context, tmpl, query string) (string, error) {
	resp, err := r.client.Generate(ctx, &llm.GenerateRequest{
		Messages: []*llm.Message{
			llm.NewMessage(llm.RoleSystem, tmpl),
			llm.NewMessage(llm.RoleUser, query),
		},
	})
	if err != nil {
		return "", err
	}
	reply, err := llm.DecodeJSON[rewriteReply](resp.Text())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply.RewrittenQuery), nil
}
