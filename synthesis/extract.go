package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	kbconfig "github.com/sweetpotato0/kbbridge/config"
	"github.com/sweetpotato0/kbbridge/llm"
	"github.com/sweetpotato0/kbbridge/pkg/logging"
	"github.com/sweetpotato0/kbbridge/preprocess"
	"github.com/sweetpotato0/kbbridge/prompt"
	"github.com/sweetpotato0/kbbridge/retrieval"
)

const (
	defaultContextTokenBudget = 6000
	tokenEncoding             = "cl100k_base"
)

// AnswerExtractor derives an answer to a question from retrieved segments.
// Segments are cleaned and packed into a token budget before the model call.
type AnswerExtractor struct {
	client      llm.Client
	tokenBudget int
	encoder     *tiktoken.Tiktoken
	logger      *slog.Logger
}

// NewAnswerExtractor creates an AnswerExtractor. tokenBudget <= 0 falls back
// to the default.
func NewAnswerExtractor(client llm.Client, tokenBudget int) *AnswerExtractor {
	if tokenBudget <= 0 {
		tokenBudget = defaultContextTokenBudget
	}
	extractor := &AnswerExtractor{
		client:      client,
		tokenBudget: tokenBudget,
		logger:      logging.WithComponent("synthesis.extract"),
	}
	encoder, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		// Rune-count fallback keeps the budget approximate but safe.
		extractor.logger.Warn("token encoder unavailable, falling back to rune counting", "error", err)
	} else {
		extractor.encoder = encoder
	}
	return extractor
}

func (e *AnswerExtractor) countTokens(text string) int {
	if e.encoder == nil {
		return len([]rune(text))
	}
	return len(e.encoder.Encode(text, nil, nil))
}

// Extract answers the question from the segments. It returns the empty
// answer sentinel when there are no segments or the model finds nothing.
func (e *AnswerExtractor) Extract(ctx context.Context, question string, segments []retrieval.ChunkHit) (string, error) {
	if len(segments) == 0 {
		return kbconfig.EmptyAnswerSentinel, nil
	}

	var sb strings.Builder
	used := 0
	packed := 0
	for i, segment := range segments {
		cleaned := preprocess.CleanSegment(segment.Content)
		if cleaned == "" {
			continue
		}
		block := fmt.Sprintf("[Segment %d", i+1)
		if segment.DocumentName != "" {
			block += " from " + segment.DocumentName
		}
		block += "]\n" + cleaned + "\n\n"

		cost := e.countTokens(block)
		if used+cost > e.tokenBudget && packed > 0 {
			break
		}
		sb.WriteString(block)
		used += cost
		packed++
	}
	if packed == 0 {
		return kbconfig.EmptyAnswerSentinel, nil
	}

	user := fmt.Sprintf("Question: %s\n\nRetrieved segments:\n%s", question, sb.String())
	resp, err := e.client.Generate(ctx, &llm.GenerateRequest{
		Messages: []*llm.Message{
			llm.NewMessage(llm.RoleSystem, prompt.AnswerExtract),
			llm.NewMessage(llm.RoleUser, user),
		},
	})
	if err != nil {
		return "", fmt.Errorf("answer extraction failed: %w", err)
	}

	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		return kbconfig.EmptyAnswerSentinel, nil
	}
	return answer, nil
}
