// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local chat-completion API (e.g., OpenAI,
// OpenRouter, Anthropic, or a local Ollama instance) and exposes a uniform
// interface for the analysis pipeline to request a single completion, estimate
// token counts, and inspect model capabilities without coupling to any
// specific SDK.
//
// Providers issue exactly one upstream request per Complete call. They never
// retry: every attempt is a billed call and retry policy belongs to the caller.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"fmt"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message.
type Message struct {
	Role    string
	Content string
}

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between providers
// for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and system
	// prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction sent before
	// Messages as a "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation. For transcript analysis this is a
	// single user message.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// leaves the provider default in place.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// ResponseSchema, when non-nil, asks the backend to constrain its output
	// to this JSON Schema (structured output). Backends whose
	// Capabilities().SupportsStructuredOutput is false ignore it.
	ResponseSchema map[string]any

	// SchemaName names ResponseSchema in the upstream request.
	SchemaName string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the text of the first candidate. Backends fall back to
	// other fields when the message content is absent; see the backend
	// documentation. It may be empty.
	Content string

	// Model is the model identifier reported by the backend, if any.
	Model string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// ModelCapabilities describes static properties of a provider's model.
type ModelCapabilities struct {
	// ContextWindow is the maximum number of tokens (prompt + completion)
	// the model accepts.
	ContextWindow int

	// MaxOutputTokens is the maximum number of completion tokens.
	MaxOutputTokens int

	// SupportsStructuredOutput reports whether the backend honours
	// [CompletionRequest.ResponseSchema].
	SupportsStructuredOutput bool
}

// APIError is returned (possibly wrapped) when the completion endpoint
// answers with a non-success HTTP status. Body holds the raw response body,
// which callers must truncate before showing it to users.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: %s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines and
// must return promptly when ctx is cancelled.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Non-success HTTP responses are reported as *[APIError].
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens that the given message list would
	// consume in the model's context window. The result need not be exact but
	// should not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata describing the model. The result
	// is constant for the lifetime of the Provider.
	Capabilities() ModelCapabilities
}

// EstimateTokens is the character-based approximation shared by backends
// without a tokenizer: about four characters per token plus a small
// per-message overhead for role and formatting.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}

// RequestMessages returns the messages of req with SystemPrompt prepended
// as a system message when set.
func RequestMessages(req CompletionRequest) []Message {
	if req.SystemPrompt == "" {
		return req.Messages
	}
	out := make([]Message, 0, len(req.Messages)+1)
	out = append(out, Message{Role: RoleSystem, Content: req.SystemPrompt})
	return append(out, req.Messages...)
}
