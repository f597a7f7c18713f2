package llm

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/TyanRL/telegram-bot/services/bot/conversation"
)

// OpenAIClient implements CompletionClient on top of the OpenAI API.
// It also serves image generation (DALL-E) and voice transcription
// (Whisper), which share the same credentials.
type OpenAIClient struct {
	client             *openai.Client
	catalog            *Catalog
	transcriptionModel string
}

// NewOpenAIClient creates a client from the OPENAI_API_KEY environment
// variable, falling back to the Podman secret mount when unset.
func NewOpenAIClient(catalog *Catalog) (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from Podman Secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found",
				"path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}

	transcriptionModel := os.Getenv("OPENAI_TRANSCRIPTION_MODEL")
	if transcriptionModel == "" {
		transcriptionModel = openai.Whisper1
	}

	slog.Info("Initializing OpenAI client",
		"default_model", catalog.Default(),
		"transcription_model", transcriptionModel)
	return &OpenAIClient{
		client:             openai.NewClient(apiKey),
		catalog:            catalog,
		transcriptionModel: transcriptionModel,
	}, nil
}

// TranscriptionModel returns the model used for voice recognition.
func (o *OpenAIClient) TranscriptionModel() string {
	return o.transcriptionModel
}

// Complete implements the CompletionClient interface.
func (o *OpenAIClient) Complete(ctx context.Context, model string,
	messages []conversation.Message, tools []ToolDefinition) (Completion, error) {

	spec := o.catalog.Lookup(model)
	slog.Debug("Requesting chat completion via OpenAI",
		"model", spec.Name, "num_messages", len(messages), "num_tools", len(tools))

	req := openai.ChatCompletionRequest{
		Model:    spec.Name,
		Messages: toOpenAIMessages(messages),
	}
	if spec.SupportsTools {
		req.MaxTokens = spec.MaxTokens
		req.Tools = toOpenAITools(tools)
	} else {
		// Reasoning-style models reject max_tokens and take the extended
		// parameter instead. They also reject tools; the orchestrator
		// strips system messages before calling here.
		req.MaxCompletionTokens = spec.MaxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", "model", spec.Name, "error", err)
		return Completion{}, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return Completion{}, fmt.Errorf("OpenAI returned no choices")
	}

	out := Completion{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	if calls := resp.Choices[0].Message.ToolCalls; len(calls) > 0 {
		// The orchestrator resolves one call per round trip; additional
		// parallel calls are not requested and are ignored if they appear.
		out.ToolCall = &ToolCall{
			Name:      calls[0].Function.Name,
			Arguments: calls[0].Function.Arguments,
		}
	}

	slog.Debug("Received response from OpenAI",
		"finish_reason", resp.Choices[0].FinishReason,
		"has_tool_call", out.ToolCall != nil,
		"prompt_tokens", out.Usage.PromptTokens,
		"completion_tokens", out.Usage.CompletionTokens)
	return out, nil
}

// imageStyleFor maps a requested style to the API constant. Anything
// other than "natural" renders as "vivid".
func imageStyleFor(style string) string {
	if style == "natural" {
		return openai.CreateImageStyleNatural
	}
	return openai.CreateImageStyleVivid
}

// GenerateImage implements the CompletionClient interface.
func (o *OpenAIClient) GenerateImage(ctx context.Context, prompt, style string) (string, error) {
	imageStyle := imageStyleFor(style)

	resp, err := o.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          openai.CreateImageModelDallE3,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		Style:          imageStyle,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		slog.Error("OpenAI image generation failed", "error", err)
		return "", fmt.Errorf("OpenAI image generation failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("OpenAI image generation returned no image")
	}

	slog.Info("Generated image", "style", imageStyle)
	return resp.Data[0].URL, nil
}

// Transcribe implements the CompletionClient interface. It returns an
// empty string alongside the error when recognition fails.
func (o *OpenAIClient) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.transcriptionModel,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		slog.Error("OpenAI transcription failed", "error", err)
		return "", fmt.Errorf("OpenAI transcription failed: %w", err)
	}
	return resp.Text, nil
}

func toOpenAIMessages(messages []conversation.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		oc := openai.ChatCompletionMessage{Role: msg.Role}
		if len(msg.Parts) > 0 {
			for _, part := range msg.Parts {
				switch part.Type {
				case "image_url":
					oc.MultiContent = append(oc.MultiContent, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: part.ImageURL},
					})
				default:
					oc.MultiContent = append(oc.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: part.Text,
					})
				}
			}
		} else {
			oc.Content = msg.Content
		}
		out = append(out, oc)
	}
	return out
}

func toOpenAITools(tools []ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// Compile-time interface compliance.
var _ CompletionClient = (*OpenAIClient)(nil)
