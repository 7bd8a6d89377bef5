package dream

import "context"

// CompletionRequest is the single chat primitive the report generator and the
// prompt synthesizer are built on.
type CompletionRequest struct {
	System      string
	User        string
	JSONMode    bool
	Temperature float32
	MaxTokens   int
}

// CompletionResponse carries the raw model output.
type CompletionResponse struct {
	Text  string
	Model string
}

// LLMClient abstracts a chat-completion provider.
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}
