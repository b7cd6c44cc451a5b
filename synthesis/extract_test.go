package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sweetpotato0/kbbridge/llm"
	"github.com/sweetpotato0/kbbridge/retrieval"
)

type stubClient struct {
	reply    string
	err      error
	lastUser string
}

func (c *stubClient) Generate(_ context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	for _, msg := range req.Messages {
		if msg.Role == llm.RoleUser {
			c.lastUser = msg.Content
		}
	}
	return &llm.GenerateResponse{Message: llm.NewMessage(llm.RoleAssistant, c.reply)}, nil
}

func TestExtractNoSegments(t *testing.T) {
	e := NewAnswerExtractor(&stubClient{reply: "unused"}, 0)

	answer, err := e.Extract(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if answer != "N/A" {
		t.Errorf("expected N/A for no segments, got %q", answer)
	}
}

func TestExtractPacksSegments(t *testing.T) {
	client := &stubClient{reply: "The refund window is 30 days."}
	e := NewAnswerExtractor(client, 0)

	answer, err := e.Extract(context.Background(), "what is the refund window", []retrieval.ChunkHit{
		{Content: "Refunds are accepted within 30 days of purchase.", DocumentName: "policy.pdf", Score: 0.9},
		{Content: "  ", Score: 0.1},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if answer != "The refund window is 30 days." {
		t.Errorf("unexpected answer: %q", answer)
	}
	if !strings.Contains(client.lastUser, "policy.pdf") {
		t.Errorf("prompt missing document name: %q", client.lastUser)
	}
	if !strings.Contains(client.lastUser, "Refunds are accepted") {
		t.Errorf("prompt missing segment content: %q", client.lastUser)
	}
}

func TestExtractRespectsTokenBudget(t *testing.T) {
	client := &stubClient{reply: "ok"}
	e := NewAnswerExtractor(client, 40)

	long := strings.Repeat("background detail ", 50)
	_, err := e.Extract(context.Background(), "q", []retrieval.ChunkHit{
		{Content: "first segment fits"},
		{Content: long},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(client.lastUser, "first segment fits") {
		t.Errorf("first segment must always be packed")
	}
	if strings.Contains(client.lastUser, long) {
		t.Errorf("over-budget segment should have been dropped")
	}
}

func TestExtractEmptySegmentsOnly(t *testing.T) {
	e := NewAnswerExtractor(&stubClient{reply: "unused"}, 0)

	answer, err := e.Extract(context.Background(), "q", []retrieval.ChunkHit{
		{Content: "   "},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if answer != "N/A" {
		t.Errorf("expected N/A when all segments clean to empty, got %q", answer)
	}
}

func TestExtractGenerateError(t *testing.T) {
	e := NewAnswerExtractor(&stubClient{err: errors.New("model down")}, 0)

	_, err := e.Extract(context.Background(), "q", []retrieval.ChunkHit{{Content: "text"}})
	if err == nil {
		t.Fatal("expected error when generation fails")
	}
}

func TestExtractBlankReply(t *testing.T) {
	e := NewAnswerExtractor(&stubClient{reply: "  \n "}, 0)

	answer, err := e.Extract(context.Background(), "q", []retrieval.ChunkHit{{Content: "text"}})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if answer != "N/A" {
		t.Errorf("blank reply should become N/A, got %q", answer)
	}
}
