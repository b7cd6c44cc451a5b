package llm

import "context"

// Role represents the role of the message sender
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message represents a single message in a generation request
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewMessage creates a new message with the given role and content
func NewMessage(role Role, content string) *Message {
	return &Message{Role: role, Content: content}
}

// GenerateRequest bundles inputs for a non-streaming text generation call.
type GenerateRequest struct {
	Messages    []*Message
	Temperature float64
	MaxTokens   int64
}

// GenerateResponse captures the model reply.
type GenerateResponse struct {
	Message *Message
}

// Text returns the reply content, or an empty string for a nil response.
func (r *GenerateResponse) Text() string {
	if r == nil || r.Message == nil {
		return ""
	}
	return r.Message.Content
}

// Client is the opaque text-generation capability the pipeline depends on.
// Implementations must be stateless between calls and may fail transiently;
// callers are expected to degrade rather than retry unboundedly.
type Client interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}
