package domain

import "context"

// LLMClient defines the capability to send prompts to an LLM and receive textual responses.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (*LLMResponse, error)

	// GenerateStructured constrains the model output to the supplied JSON
	// schema. The returned text is the raw JSON payload.
	GenerateStructured(ctx context.Context, prompt string, format map[string]interface{}, maxTokens int) (*LLMResponse, error)

	// GenerateStream emits response fragments in order. The chunk channel is
	// closed when generation finishes; a send on the error channel terminates
	// the stream.
	GenerateStream(ctx context.Context, prompt string, maxTokens int) (<-chan LLMStreamChunk, <-chan error, error)

	Version() string
}

// LLMResponse carries the LLM output and whether the generation finished.
type LLMResponse struct {
	Text string
	Done bool
}

// LLMStreamChunk is a single fragment of a streamed generation.
type LLMStreamChunk struct {
	Response string
	Done     bool
}
