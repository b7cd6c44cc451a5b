package query

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sweetpotato0/kbbridge/config"
	"github.com/sweetpotato0/kbbridge/llm"
	"github.com/sweetpotato0/kbbridge/pkg/logging"
	"github.com/sweetpotato0/kbbridge/prompt"
)

// Intent is the decomposition decision for a query.
type Intent struct {
	ShouldDecompose bool     `json:"should_decompose"`
	SubQueries      []string `json:"sub_queries,omitempty"`
	UpdatedQuery    string   `json:"updated_query"`
}

// IntentExtractor decides whether a question should be split into
// independently answerable sub-questions before retrieval.
type IntentExtractor struct {
	client        llm.Client
	maxSubQueries int
	logger        *slog.Logger
}

// NewIntentExtractor creates an IntentExtractor. maxSubQueries <= 0 falls
// back to the default.
func NewIntentExtractor(client llm.Client, maxSubQueries int) *IntentExtractor {
	if maxSubQueries <= 0 {
		maxSubQueries = config.DefaultMaxSubQueries
	}
	return &IntentExtractor{
		client:        client,
		maxSubQueries: maxSubQueries,
		logger:        logging.WithComponent("query.intent"),
	}
}

// completenessMarkers tag queries that ask for exhaustive coverage. Splitting
// those narrows each retrieval pass and loses items, so they always go
// through whole.
var completenessMarkers = []string{
	"list all",
	"enumerate all",
	"name all",
	"what are all",
	"show all",
	"complete list",
	"how many",
}

var everyWordRe = regexp.MustCompile(`\bevery\b`)

// isCompletenessQuery reports whether the query asks for an exhaustive
// enumeration rather than a specific fact.
func isCompletenessQuery(query string) bool {
	lower := strings.ToLower(query)
	for _, marker := range completenessMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return everyWordRe.MatchString(lower)
}

// Extract returns the decomposition decision for the query. documents is an
// optional list of known file names that hints at how content is partitioned.
// Any failure degrades to "do not decompose".
func (e *IntentExtractor) Extract(ctx context.Context, query string, documents []string) *Intent {
	query = strings.TrimSpace(query)
	passthrough := &Intent{ShouldDecompose: false, UpdatedQuery: query}
	if query == "" {
		return passthrough
	}
	if isCompletenessQuery(query) {
		e.logger.Debug("completeness query, skipping decomposition", "query", query)
		return passthrough
	}

	docList := "(none known)"
	if len(documents) > 0 {
		docList = "- " + strings.Join(documents, "\n- ")
	}
	system := prompt.Render(prompt.IntentExtract, map[string]string{
		"documents":       docList,
		"max_sub_queries": fmt.Sprintf("%d", e.maxSubQueries),
	})

	resp, err := e.client.Generate(ctx, &llm.GenerateRequest{
		Messages: []*llm.Message{
			llm.NewMessage(llm.RoleSystem, system),
			llm.NewMessage(llm.RoleUser, query),
		},
	})
	if err != nil {
		e.logger.Warn("intent extraction failed, skipping decomposition", "error", err)
		return passthrough
	}
	intent, err := llm.DecodeJSON[Intent](resp.Text())
	if err != nil {
		e.logger.Warn("intent reply was not valid JSON, skipping decomposition", "error", err)
		return passthrough
	}

	if intent.UpdatedQuery == "" {
		intent.UpdatedQuery = query
	}
	intent.SubQueries = cleanSubQueries(intent.SubQueries, e.maxSubQueries)
	if len(intent.SubQueries) < 2 {
		// A single sub-query is just the query again.
		intent.ShouldDecompose = false
		intent.SubQueries = nil
	}
	return intent
}

func cleanSubQueries(subQueries []string, limit int) []string {
	cleaned := make([]string, 0, len(subQueries))
	for _, sq := range subQueries {
		sq = strings.TrimSpace(sq)
		if sq == "" {
			continue
		}
		cleaned = append(cleaned, sq)
		if len(cleaned) == limit {
			break
		}
	}
	return cleaned
}
