package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
	"github.com/mickgian/pratikoai-retrieval/internal/infrastructure/llm"
)

const (
	providerName     = "anthropic"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1024
)

// Client calls the Anthropic Messages API. System messages are lifted into
// the top-level system field as the API requires.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *Client) Name() string { return providerName }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	payload := messagesRequest{
		Model:       req.Model,
		Messages:    make([]message, 0, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if payload.MaxTokens <= 0 {
		payload.MaxTokens = defaultMaxTokens
	}

	var system []string
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
			continue
		}
		payload.Messages = append(payload.Messages, message{Role: msg.Role, Content: msg.Content})
	}
	if req.JSON {
		system = append(system, "Respond with a single JSON object and nothing else.")
	}
	payload.System = strings.Join(system, "\n\n")
	if len(payload.Messages) == 0 {
		payload.Messages = append(payload.Messages, message{Role: "user", Content: "Proceed."})
	}

	var resp messagesResponse
	if err := c.do(ctx, "messages", http.MethodPost, "/v1/messages", payload, &resp); err != nil {
		return domain.ChatResponse{}, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(text.String())
	if content == "" {
		return domain.ChatResponse{}, domain.WrapError(domain.ErrMalformedResponse, "anthropic messages", fmt.Errorf("no text content"))
	}
	return domain.ChatResponse{
		Content:          content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "models", http.MethodGet, "/v1/models", nil, nil)
}

func (c *Client) do(ctx context.Context, operation, method, path string, payload, out any) error {
	err := llm.DoJSON(ctx, c.httpClient, llm.Request{
		Provider:  providerName,
		Operation: operation,
		Method:    method,
		URL:       c.baseURL + path,
		Headers: map[string]string{
			"x-api-key":         c.apiKey,
			"anthropic-version": apiVersion,
		},
		Payload: payload,
	}, out)
	return llm.WrapTemporaryIfNeeded("anthropic "+operation, err)
}
