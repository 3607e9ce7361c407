package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
	"github.com/mickgian/pratikoai-retrieval/internal/infrastructure/llm"
)

const providerName = "openai"

// Client is a minimal chat-completions client for OpenAI-compatible APIs.
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

type responseFormat struct {
	Type string `json:"type"`
}

type completionRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	payload := completionRequest{
		Model:       req.Model,
		Messages:    make([]message, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, msg := range req.Messages {
		payload.Messages = append(payload.Messages, message{Role: msg.Role, Content: msg.Content})
	}
	if req.JSON {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var resp completionResponse
	if err := c.do(ctx, "chat", http.MethodPost, "/v1/chat/completions", payload, &resp); err != nil {
		return domain.ChatResponse{}, err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return domain.ChatResponse{}, domain.WrapError(domain.ErrMalformedResponse, "openai chat", fmt.Errorf("no choices in response"))
	}
	return domain.ChatResponse{
		Content:          strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Ping lists models, which checks both reachability and the API key.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "models", http.MethodGet, "/v1/models", nil, nil)
}

func (c *Client) do(ctx context.Context, operation, method, path string, payload, out any) error {
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}
	err := llm.DoJSON(ctx, c.httpClient, llm.Request{
		Provider:  providerName,
		Operation: operation,
		Method:    method,
		URL:       c.baseURL + path,
		Headers:   headers,
		Payload:   payload,
	}, out)
	return llm.WrapTemporaryIfNeeded("openai "+operation, err)
}
