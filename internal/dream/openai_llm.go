package dream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
)

var llmTracer = otel.Tracer("boyeodream.internal.dream.llm")

const defaultCompletionTimeout = 30 * time.Second

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAILLMClient implements LLMClient over the OpenAI chat completion API.
type OpenAILLMClient struct {
	client  chatClient
	model   string
	timeout time.Duration
}

// NewOpenAILLMClient returns an OpenAI-backed LLM client.
func NewOpenAILLMClient(client chatClient, model string) *OpenAILLMClient {
	if client == nil {
		panic("dream: chat client cannot be nil")
	}
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAILLMClient{
		client:  client,
		model:   model,
		timeout: defaultCompletionTimeout,
	}
}

// Complete sends one completion request and returns the trimmed output text.
func (c *OpenAILLMClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	ctx, span := llmTracer.Start(ctx, "dream.openai_complete")
	defer span.End()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, chatReq)
	if err != nil {
		span.RecordError(err)
		return CompletionResponse{}, fmt.Errorf("dream: openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		err := errors.New("dream: openai returned no choices")
		span.RecordError(err)
		return CompletionResponse{}, err
	}

	return CompletionResponse{
		Text:  strings.TrimSpace(resp.Choices[0].Message.Content),
		Model: resp.Model,
	}, nil
}
