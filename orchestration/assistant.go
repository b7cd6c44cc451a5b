package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/sweetpotato0/kbbridge/config"
	"github.com/sweetpotato0/kbbridge/discovery"
	"github.com/sweetpotato0/kbbridge/llm"
	"github.com/sweetpotato0/kbbridge/pkg/logging"
	"github.com/sweetpotato0/kbbridge/pkg/telemetry"
	"github.com/sweetpotato0/kbbridge/query"
	"github.com/sweetpotato0/kbbridge/reflection"
	"github.com/sweetpotato0/kbbridge/synthesis"
)

// Assistant is the full question answering service: query preparation,
// dataset fan-out, candidate selection and the reflection loop.
type Assistant struct {
	rewriter   *query.Rewriter
	intents    *query.IntentExtractor
	processor  *DatasetProcessor
	lister     *discovery.Lister
	reranker   *synthesis.Reranker
	formatter  *synthesis.ResultFormatter
	reflection *reflection.Integration
	tracer     trace.Tracer
	logger     *slog.Logger
}

// AssistantOption customises the Assistant.
type AssistantOption func(*Assistant)

// WithCandidateReranker attaches a cross-encoder for candidate selection.
// Without one, candidates keep their processing order.
func WithCandidateReranker(r *synthesis.Reranker) AssistantOption {
	return func(a *Assistant) { a.reranker = r }
}

// WithReflection attaches the reflection loop.
func WithReflection(integration *reflection.Integration) AssistantOption {
	return func(a *Assistant) { a.reflection = integration }
}

// NewAssistant wires the service together. client drives query preparation
// and answer merging; processor and lister are required.
func NewAssistant(client llm.Client, processor *DatasetProcessor, lister *discovery.Lister, opts ...AssistantOption) (*Assistant, error) {
	if client == nil {
		return nil, fmt.Errorf("assistant requires a model client")
	}
	if processor == nil || lister == nil {
		return nil, fmt.Errorf("assistant requires a processor and a lister")
	}
	a := &Assistant{
		rewriter:  query.NewRewriter(client),
		intents:   query.NewIntentExtractor(client, 0),
		processor: processor,
		lister:    lister,
		formatter: synthesis.NewResultFormatter(client),
		tracer:    telemetry.Tracer("orchestration"),
		logger:    logging.WithComponent("orchestration.assistant"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Ask answers the question from the given resources.
func (a *Assistant) Ask(ctx context.Context, question string, resources []Resource, cfg ProcessingConfig) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question cannot be empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, span := a.tracer.Start(ctx, "assistant.ask")
	var askErr error
	defer func() { telemetry.End(span, askErr) }()

	a.logger.Info("question received",
		"question", trimForLog(question, 120), "resources", len(resources), "strategy", cfg.Strategy)
	prof := newProfiler()
	answer := &Answer{Query: question}

	stop := prof.track("rewrite")
	answer.Rewrite = a.rewriter.Rewrite(ctx, question)
	stop()
	effective := answer.Rewrite.RewrittenQuery

	stop = prof.track("intent")
	answer.Intent = a.intents.Extract(ctx, effective, a.knownFiles(ctx, resources))
	stop()
	queries := []string{answer.Intent.UpdatedQuery}
	if answer.Intent.ShouldDecompose {
		queries = answer.Intent.SubQueries
	}

	stop = prof.track("process")
	candidates, err := a.processor.Process(ctx, queries, resources, cfg)
	stop()
	if err != nil {
		askErr = err
		return nil, err
	}

	if len(synthesis.FilterUsable(candidates)) == 0 {
		stop = prof.track("fallback")
		fallback := a.retryBroadened(ctx, effective, resources, cfg)
		stop()
		if len(fallback) > 0 {
			candidates = append(candidates, fallback...)
		}
	}

	stop = prof.track("rerank")
	candidates, answer.RerankErr = a.rankCandidates(ctx, effective, candidates)
	stop()
	answer.Candidates = candidates

	stop = prof.track("format")
	structured := a.formatter.FormatStructuredAnswer(ctx, effective, candidates)
	stop()
	answer.Success = structured.Success
	answer.Sources = structured.Sources
	answer.TotalSources = structured.TotalSources
	answer.Confidence = structured.Confidence
	final := structured.Answer
	if final == "" {
		final = config.NoAnswerFallback
	}

	if a.reflection != nil && cfg.EnableReflection {
		stop = prof.track("reflection")
		final, answer.Reflection = a.reflection.Process(ctx, effective, final, structured.Sources)
		stop()
	}

	answer.Answer = final
	answer.Profile = prof.snapshot()
	a.logger.Info("question answered",
		"question", trimForLog(question, 120),
		"candidates", len(candidates),
		"reflected", answer.Reflection != nil)
	return answer, nil
}

// knownFiles gathers file names from the first resource as decomposition
// hints. Best effort only.
func (a *Assistant) knownFiles(ctx context.Context, resources []Resource) []string {
	if len(resources) == 0 {
		return nil
	}
	files, err := a.lister.ListFiles(ctx, resources[0].DatasetID)
	if err != nil {
		a.logger.Debug("file hint listing failed", "dataset_id", resources[0].DatasetID, "error", err)
		return nil
	}
	return files
}

// rankCandidates orders usable candidates by cross-encoder relevance. On
// failure the original order stands and the error is carried in metadata.
func (a *Assistant) rankCandidates(ctx context.Context, q string, candidates []synthesis.CandidateAnswer) ([]synthesis.CandidateAnswer, string) {
	usable := synthesis.FilterUsable(candidates)
	if a.reranker == nil || len(usable) < 2 {
		return candidates, ""
	}
	ranked, err := a.reranker.RerankCandidates(ctx, q, usable)
	if err != nil {
		a.logger.Warn("candidate reranking failed, keeping processing order", "error", err)
		return candidates, err.Error()
	}
	// Failed candidates stay behind the ranked ones so error detail survives
	// into the response.
	for _, candidate := range candidates {
		if !candidate.Success || strings.TrimSpace(candidate.Answer) == "" {
			ranked = append(ranked, candidate)
		}
	}
	return ranked, ""
}

// retryBroadened reruns processing with progressively broader query
// variants after a pass produced nothing usable.
func (a *Assistant) retryBroadened(ctx context.Context, q string, resources []Resource, cfg ProcessingConfig) []synthesis.CandidateAnswer {
	for _, variant := range broadenQuery(q) {
		a.logger.Info("retrying with broadened query", "query", variant)
		candidates, err := a.processor.Process(ctx, []string{variant}, resources, cfg)
		if err != nil {
			a.logger.Warn("broadened retry failed", "query", variant, "error", err)
			continue
		}
		if len(synthesis.FilterUsable(candidates)) > 0 {
			return candidates
		}
	}
	return nil
}

var (
	quotedRe   = regexp.MustCompile(`["'` + "`" + `]`)
	questionRe = regexp.MustCompile(`(?i)^(what|which|who|whom|whose|when|where|why|how|is|are|was|were|do|does|did|can|could|should|would|will|list|show|tell me about)\b`)
)

// broadenQuery derives up to two progressively looser variants: first the
// query stripped of quoting and the interrogative prefix, then just its
// longest words.
func broadenQuery(q string) []string {
	var variants []string
	seen := map[string]bool{q: true}
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v != "" && !seen[v] {
			seen[v] = true
			variants = append(variants, v)
		}
	}

	stripped := quotedRe.ReplaceAllString(q, "")
	stripped = questionRe.ReplaceAllString(stripped, "")
	stripped = strings.TrimRight(strings.TrimSpace(stripped), "?.!")
	add(stripped)

	words := strings.Fields(stripped)
	keywords := make([]string, 0, len(words))
	for _, word := range words {
		if len([]rune(word)) >= 4 {
			keywords = append(keywords, word)
		}
	}
	add(strings.Join(keywords, " "))
	return variants
}

func trimForLog(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
