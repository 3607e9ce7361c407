package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

func TestChatSendsBearerAndResponseFormat(t *testing.T) {
	var (
		auth    string
		payload map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"gpt-4o-mini","choices":[{"message":{"role":"assistant","content":"{\"lexical\":\"IVA\"}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":30,"completion_tokens":8}}`))
	}))
	defer server.Close()

	resp, err := New(server.URL, "sk-test").Chat(context.Background(), domain.ChatRequest{
		Model:       "gpt-4o-mini",
		Messages:    []domain.ChatMessage{{Role: "user", Content: "espandi"}},
		Temperature: 0.3,
		MaxTokens:   500,
		JSON:        true,
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if auth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	format, _ := payload["response_format"].(map[string]any)
	if format["type"] != "json_object" || payload["max_tokens"] != float64(500) {
		t.Fatalf("unexpected payload %v", payload)
	}
	if resp.Content != `{"lexical":"IVA"}` || resp.PromptTokens != 30 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestChatOmitsResponseFormatForText(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"testo"}}]}`))
	}))
	defer server.Close()

	if _, err := New(server.URL, "").Chat(context.Background(), domain.ChatRequest{Model: "gpt-4o"}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if _, ok := payload["response_format"]; ok {
		t.Fatalf("expected no response_format, got %v", payload)
	}
}

func TestChatRateLimitIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := New(server.URL, "k").Chat(context.Background(), domain.ChatRequest{Model: "gpt-4o"})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestChatEmptyChoicesIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	_, err := New(server.URL, "k").Chat(context.Background(), domain.ChatRequest{Model: "gpt-4o"})
	if !domain.IsKind(err, domain.ErrMalformedResponse) {
		t.Fatalf("expected malformed response, got %v", err)
	}
}

func TestPingUnauthorizedIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer server.Close()

	err := New(server.URL, "bad").Ping(context.Background())
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent ping error, got %v", err)
	}
}
