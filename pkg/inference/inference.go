// Package inference produces the assistant's reply to a conversation.
//
// Provider hides the service behind one Chat call. Client speaks the
// OpenAI-compatible chat completions API, Gemini uses the genai SDK, and
// Chain fails over between them. IsQuotaExceeded separates an exhausted
// account, which callers answer with offline replies, from every other
// failure.
//
//	resp, err := client.Chat(ctx, &inference.ChatRequest{
//	    Messages: inference.FromTurns(inference.SystemPrompt(name), turns),
//	})
package inference

import (
	"context"
	"strings"

	"github.com/teslashibe/echospeak/pkg/conversation"
)

type Provider interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	Health(ctx context.Context) error
	Close() error
}

// Role reuses the conversation roles so turns map onto messages directly.
type Role = conversation.Role

const (
	RoleSystem    = conversation.RoleSystem
	RoleUser      = conversation.RoleUser
	RoleAssistant = conversation.RoleAssistant
)

type Message struct {
	Role    Role
	Content string
}

func NewSystemMessage(content string) Message    { return Message{RoleSystem, content} }
func NewUserMessage(content string) Message      { return Message{RoleUser, content} }
func NewAssistantMessage(content string) Message { return Message{RoleAssistant, content} }

// ChatRequest fields left zero fall back to the provider's Config.
type ChatRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

type ChatResponse struct {
	Message      Message
	FinishReason string
	Usage        Usage
	Model        string
	LatencyMs    int64
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// FromTurns prepends a non-empty system prompt and drops blank turns.
func FromTurns(system string, turns []conversation.Turn) []Message {
	msgs := make([]Message, 0, len(turns)+1)
	if s := strings.TrimSpace(system); s != "" {
		msgs = append(msgs, NewSystemMessage(s))
	}
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		msgs = append(msgs, Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}

// SystemPrompt carries the user's identity into every request.
func SystemPrompt(userName string) string {
	prompt := "You are a helpful voice assistant. Keep answers short and conversational; they will be spoken aloud."
	if name := strings.TrimSpace(userName); name != "" {
		prompt += " The user's name is " + name + "."
	}
	return prompt
}
