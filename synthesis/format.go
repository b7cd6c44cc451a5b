package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	kbconfig "github.com/sweetpotato0/kbbridge/config"
	"github.com/sweetpotato0/kbbridge/llm"
	"github.com/sweetpotato0/kbbridge/pkg/logging"
	"github.com/sweetpotato0/kbbridge/prompt"
)

// NoValidCandidates is the error carried by a structured answer when nothing
// usable survived filtering.
const NoValidCandidates = "No valid candidates found"

var enumeratedItemRe = regexp.MustCompile(`(?m)^\s*\d+\.\s`)

// ResultFormatter turns ranked candidates into the final reply text. A nil
// model client disables summarised merging; formatting still works.
type ResultFormatter struct {
	client llm.Client
	logger *slog.Logger
}

// NewResultFormatter creates a ResultFormatter. client may be nil.
func NewResultFormatter(client llm.Client) *ResultFormatter {
	return &ResultFormatter{
		client: client,
		logger: logging.WithComponent("synthesis.format"),
	}
}

// usable reports whether a candidate carries a real answer.
func usable(c CandidateAnswer) bool {
	answer := strings.TrimSpace(c.Answer)
	return c.Success && answer != "" && answer != kbconfig.EmptyAnswerSentinel
}

// FilterUsable returns the candidates that carry real answers, in order.
func FilterUsable(candidates []CandidateAnswer) []CandidateAnswer {
	out := make([]CandidateAnswer, 0, len(candidates))
	for _, c := range candidates {
		if usable(c) {
			out = append(out, c)
		}
	}
	return out
}

// FormatFinalAnswer builds the reply for the query from ranked candidates.
// A single surviving candidate is returned bare; several are merged.
func (f *ResultFormatter) FormatFinalAnswer(ctx context.Context, query string, candidates []CandidateAnswer) string {
	valid := FilterUsable(candidates)
	if len(valid) == 0 {
		return kbconfig.NoAnswerFallback
	}
	if len(valid) == 1 {
		return strings.TrimSpace(valid[0].Answer)
	}
	if isDefinitionListQuery(query) {
		return strings.TrimSpace(pickMostEnumerated(valid).Answer)
	}
	return f.combineCandidates(ctx, query, valid)
}

// StructuredAnswer is the machine-readable answer surface: the merged answer
// plus where it came from and how confident the ranking was.
type StructuredAnswer struct {
	Success      bool     `json:"success"`
	Answer       string   `json:"answer,omitempty"`
	Sources      []string `json:"sources,omitempty"`
	TotalSources int      `json:"total_sources"`
	Confidence   float64  `json:"confidence"`
	Error        string   `json:"error,omitempty"`
}

// FormatStructuredAnswer builds the structured reply for the query. Blank and
// sentinel answers are filtered before the merge; an empty surviving set
// reports a failure rather than an error.
func (f *ResultFormatter) FormatStructuredAnswer(ctx context.Context, query string, candidates []CandidateAnswer) *StructuredAnswer {
	valid := FilterUsable(candidates)
	if len(valid) == 0 {
		return &StructuredAnswer{Success: false, Error: NoValidCandidates}
	}
	return &StructuredAnswer{
		Success:      true,
		Answer:       f.FormatFinalAnswer(ctx, query, candidates),
		Sources:      SourceLabels(valid),
		TotalSources: len(valid),
		Confidence:   maxScore(valid),
	}
}

// FormatCandidateListing renders every usable candidate with its source,
// one per line.
func FormatCandidateListing(candidates []CandidateAnswer) string {
	valid := FilterUsable(candidates)
	if len(valid) == 0 {
		return NoValidCandidates
	}
	lines := make([]string, 0, len(valid))
	for _, c := range valid {
		lines = append(lines, FormatCandidate(c))
	}
	return strings.Join(lines, "\n\n")
}

// SourceLabels returns the distinct source attributions of the candidates in
// order.
func SourceLabels(candidates []CandidateAnswer) []string {
	seen := map[string]bool{}
	labels := make([]string, 0, len(candidates))
	for _, c := range candidates {
		var label string
		switch {
		case c.DatasetID != "" && c.FileName != "":
			label = c.DatasetID + "/" + c.FileName
		case c.DatasetID != "":
			label = c.DatasetID
		default:
			continue
		}
		if !seen[label] {
			seen[label] = true
			labels = append(labels, label)
		}
	}
	return labels
}

func maxScore(candidates []CandidateAnswer) float64 {
	best := 0.0
	for _, c := range candidates {
		if c.Score > best {
			best = c.Score
		}
	}
	return best
}

// SourceNaive marks candidates from a plain single-shot search; they render
// without attribution.
const SourceNaive = "naive"

// FormatCandidate renders one candidate with its source attribution.
func FormatCandidate(c CandidateAnswer) string {
	answer := strings.TrimSpace(c.Answer)
	if c.Source == SourceNaive {
		return answer
	}
	switch {
	case c.DatasetID != "" && c.FileName != "":
		return fmt.Sprintf("**%s/%s**: %s", c.DatasetID, c.FileName, answer)
	case c.DatasetID != "" && c.SourcePath != "":
		return fmt.Sprintf("**%s (%s)**: %s", c.DatasetID, c.SourcePath, answer)
	case c.DatasetID != "":
		return fmt.Sprintf("**%s**: %s", c.DatasetID, answer)
	default:
		return answer
	}
}

// isDefinitionListQuery tags queries that ask for a glossary-style listing.
// Those answers are enumerations, and merging two partial enumerations
// produces duplicates, so the richest single candidate wins instead.
func isDefinitionListQuery(query string) bool {
	return strings.Contains(strings.ToLower(query), "terms and definitions")
}

// pickMostEnumerated returns the candidate whose answer carries the most
// enumerated items. Answers that arrive with literal \n sequences instead of
// newlines still count.
func pickMostEnumerated(candidates []CandidateAnswer) CandidateAnswer {
	best := candidates[0]
	bestCount := countEnumeratedItems(best.Answer)
	for _, c := range candidates[1:] {
		if count := countEnumeratedItems(c.Answer); count > bestCount {
			best = c
			bestCount = count
		}
	}
	return best
}

func countEnumeratedItems(answer string) int {
	normalized := strings.ReplaceAll(answer, `\n`, "\n")
	return len(enumeratedItemRe.FindAllString(normalized, -1))
}

// combineCandidates merges several answers into one. With a model client the
// merge is summarised; without one the candidates are listed with sources.
func (f *ResultFormatter) combineCandidates(ctx context.Context, query string, valid []CandidateAnswer) string {
	listing := FormatCandidateListing(valid)
	if f.client == nil {
		return listing
	}

	user := fmt.Sprintf("Question: %s\n\nCandidate answers:\n%s", query, listing)
	resp, err := f.client.Generate(ctx, &llm.GenerateRequest{
		Messages: []*llm.Message{
			llm.NewMessage(llm.RoleSystem, prompt.StructuredSummarize),
			llm.NewMessage(llm.RoleUser, user),
		},
	})
	if err != nil {
		f.logger.Warn("candidate merge failed, returning structured listing", "error", err)
		return listing
	}
	merged := strings.TrimSpace(resp.Text())
	if merged == "" {
		return listing
	}
	return merged
}
