package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/kbbridge/config"
	"github.com/sweetpotato0/kbbridge/llm"
	"github.com/sweetpotato0/kbbridge/pkg/logging"
	"github.com/sweetpotato0/kbbridge/prompt"
)

// KeywordGenerator derives alternative keyword sets for file discovery, each
// set attacking the topic from a different angle.
type KeywordGenerator struct {
	client  llm.Client
	maxSets int
	logger  *slog.Logger
}

// NewKeywordGenerator creates a KeywordGenerator. maxSets <= 0 falls back to
// the default.
func NewKeywordGenerator(client llm.Client, maxSets int) *KeywordGenerator {
	if maxSets <= 0 {
		maxSets = config.DefaultMaxKeywordSets
	}
	return &KeywordGenerator{
		client:  client,
		maxSets: maxSets,
		logger:  logging.WithComponent("query.keywords"),
	}
}

// Generate returns keyword sets for the query. Failures degrade to a single
// set containing the raw query, which keeps discovery functional.
func (g *KeywordGenerator) Generate(ctx context.Context, query string) [][]string {
	query = strings.TrimSpace(query)
	fallback := [][]string{{query}}
	if query == "" {
		return nil
	}

	system := prompt.Render(prompt.KeywordGenerate, map[string]string{
		"max_sets": fmt.Sprintf("%d", g.maxSets),
	})
	resp, err := g.client.Generate(ctx, &llm.GenerateRequest{
		Messages: []*llm.Message{
			llm.NewMessage(llm.RoleSystem, system),
			llm.NewMessage(llm.RoleUser, query),
		},
	})
	if err != nil {
		g.logger.Warn("keyword generation failed, using query as keywords", "error", err)
		return fallback
	}

	sets, err := llm.DecodeJSON[[][]string](resp.Text())
	if err != nil {
		g.logger.Warn("keyword reply was not valid JSON, using query as keywords", "error", err)
		return fallback
	}

	cleaned := make([][]string, 0, g.maxSets)
	for _, set := range *sets {
		terms := make([]string, 0, len(set))
		for _, term := range set {
			term = strings.TrimSpace(term)
			if term != "" {
				terms = append(terms, term)
			}
		}
		if len(terms) == 0 {
			continue
		}
		cleaned = append(cleaned, terms)
		if len(cleaned) == g.maxSets {
			break
		}
	}
	if len(cleaned) == 0 {
		return fallback
	}
	return cleaned
}
