package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sourcemind/internal/domain"
)

const generationKeepAlive = -1

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string                 `json:"model"`
	Messages  []chatMessage          `json:"messages"`
	Stream    bool                   `json:"stream"`
	KeepAlive int                    `json:"keep_alive"`
	Format    map[string]interface{} `json:"format,omitempty"`
	Options   map[string]interface{} `json:"options,omitempty"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Generator sends prompts to Ollama's chat endpoint.
type Generator struct {
	BaseURL     string
	Model       string
	Temperature float64
	Client      *http.Client
}

// NewGenerator constructs a generator using the provided endpoint and model name.
func NewGenerator(baseURL, model string, temperature float64, timeoutSeconds int) *Generator {
	timeout := 120 * time.Second
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	return &Generator{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Model:       model,
		Temperature: temperature,
		Client:      &http.Client{Timeout: timeout},
	}
}

// Generate sends the prompt and returns the assistant message.
func (g *Generator) Generate(ctx context.Context, prompt string, maxTokens int) (*domain.LLMResponse, error) {
	return g.generate(ctx, prompt, nil, maxTokens)
}

// GenerateStructured constrains the output to the supplied JSON schema.
func (g *Generator) GenerateStructured(ctx context.Context, prompt string, format map[string]interface{}, maxTokens int) (*domain.LLMResponse, error) {
	return g.generate(ctx, prompt, format, maxTokens)
}

func (g *Generator) generate(ctx context.Context, prompt string, format map[string]interface{}, maxTokens int) (*domain.LLMResponse, error) {
	reqBody := g.buildRequest(prompt, format, maxTokens, false)

	jsonPayload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", g.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonPayload))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call generation endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("generation endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}

	return &domain.LLMResponse{
		Text: strings.TrimSpace(chatResp.Message.Content),
		Done: chatResp.Done,
	}, nil
}

// GenerateStream issues a streaming chat request and forwards NDJSON fragments
// as they arrive. The chunk channel closes when the final fragment is seen.
func (g *Generator) GenerateStream(ctx context.Context, prompt string, maxTokens int) (<-chan domain.LLMStreamChunk, <-chan error, error) {
	reqBody := g.buildRequest(prompt, nil, maxTokens, true)

	jsonPayload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", g.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonPayload))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Per-request timeouts come from ctx; the client timeout would cut the
	// stream short.
	streamClient := &http.Client{Transport: g.Client.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to call generation endpoint: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, nil, fmt.Errorf("generation endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	chunkCh := make(chan domain.LLMStreamChunk, 8)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)
		defer close(errCh)
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var fragment chatResponse
			if err := json.Unmarshal(line, &fragment); err != nil {
				errCh <- fmt.Errorf("failed to decode stream fragment: %w", err)
				return
			}
			select {
			case <-ctx.Done():
				return
			case chunkCh <- domain.LLMStreamChunk{Response: fragment.Message.Content, Done: fragment.Done}:
			}
			if fragment.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- fmt.Errorf("stream read failed: %w", err)
		}
	}()

	return chunkCh, errCh, nil
}

func (g *Generator) buildRequest(prompt string, format map[string]interface{}, maxTokens int, stream bool) chatRequest {
	reqBody := chatRequest{
		Model:     g.Model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		Stream:    stream,
		KeepAlive: generationKeepAlive,
		Format:    format,
		Options: map[string]interface{}{
			"temperature": g.Temperature,
		},
	}
	if maxTokens > 0 {
		reqBody.Options["num_predict"] = maxTokens
	}
	return reqBody
}

// Version returns the wrapped model name.
func (g *Generator) Version() string {
	return g.Model
}

var _ domain.LLMClient = (*Generator)(nil)
