package llm

import (
	"context"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/TyanRL/telegram-bot/services/bot/conversation"
)

// Usage is the token accounting for one completion call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add returns the element-wise sum of two usage records.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
	}
}

// ToolCall is a model-issued request to invoke a named capability instead
// of answering directly. Arguments is the raw JSON argument object.
type ToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Completion is one model response: either plain text or a tool call,
// plus the usage for the call.
type Completion struct {
	Text     string    `json:"text"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
	Usage    Usage     `json:"usage"`
}

// ToolDefinition advertises one callable capability to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  jsonschema.Definition
}

// CompletionClient defines the standard interface for the completion backend.
//
// Complete sends the message list for the given model and returns the
// model's answer. When tools is empty the request advertises no callable
// capabilities; callers must pre-strip system messages for models that do
// not support tool calling (see Catalog).
type CompletionClient interface {
	Complete(ctx context.Context, model string, messages []conversation.Message,
		tools []ToolDefinition) (Completion, error)

	// GenerateImage renders prompt with the given style ("vivid" or
	// "natural") and returns the image URL.
	GenerateImage(ctx context.Context, prompt, style string) (string, error)

	// Transcribe converts a voice recording to text. filename carries the
	// original extension so the backend can detect the container format.
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}
