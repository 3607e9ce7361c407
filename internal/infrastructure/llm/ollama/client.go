package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
	"github.com/mickgian/pratikoai-retrieval/internal/infrastructure/llm"
)

const providerName = "ollama"

// Client talks to a local Ollama daemon for chat completions and query
// embeddings. Per-call deadlines come from the caller's context.
type Client struct {
	baseURL    string
	embedModel string
	httpClient *http.Client
}

func New(baseURL, embedModel string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *Client) Name() string { return providerName }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	payload := chatRequest{
		Model:    req.Model,
		Messages: make([]chatMessage, 0, len(req.Messages)),
		Stream:   false,
		Options:  map[string]any{"temperature": req.Temperature},
	}
	for _, msg := range req.Messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: msg.Role, Content: msg.Content})
	}
	if req.MaxTokens > 0 {
		payload.Options["num_predict"] = req.MaxTokens
	}
	if req.JSON {
		payload.Format = "json"
	}

	var resp chatResponse
	if err := c.do(ctx, "chat", http.MethodPost, "/api/chat", payload, &resp); err != nil {
		return domain.ChatResponse{}, err
	}
	content := strings.TrimSpace(resp.Message.Content)
	if content == "" {
		return domain.ChatResponse{}, domain.WrapError(domain.ErrMalformedResponse, "ollama chat", fmt.Errorf("empty message content"))
	}
	return domain.ChatResponse{
		Content:          content,
		Model:            resp.Model,
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
	}, nil
}

// Ping lists local models; a reachable daemon is considered healthy.
func (c *Client) Ping(ctx context.Context) error {
	var resp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	return c.do(ctx, "tags", http.MethodGet, "/api/tags", nil, &resp)
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ollama embed", fmt.Errorf("empty text"))
	}
	request := map[string]any{
		"model": c.embedModel,
		"input": []string{text},
	}
	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := c.do(ctx, "embed", http.MethodPost, "/api/embed", request, &response); err != nil {
		return nil, err
	}
	if len(response.Embeddings) == 0 || len(response.Embeddings[0]) == 0 {
		return nil, domain.WrapError(domain.ErrMalformedResponse, "ollama embed", fmt.Errorf("empty embedding result"))
	}
	return response.Embeddings[0], nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, payload, out any) error {
	err := llm.DoJSON(ctx, c.httpClient, llm.Request{
		Provider:  providerName,
		Operation: operation,
		Method:    method,
		URL:       c.baseURL + path,
		Payload:   payload,
	}, out)
	return llm.WrapTemporaryIfNeeded("ollama "+operation, err)
}
