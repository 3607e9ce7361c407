package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

func TestChatLiftsSystemMessagesAndSetsHeaders(t *testing.T) {
	var (
		headers http.Header
		payload messagesRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"claude-3-5-sonnet-latest","content":[{"type":"text","text":"Secondo la "},{"type":"text","text":"circolare 9/E..."}],"usage":{"input_tokens":100,"output_tokens":20}}`))
	}))
	defer server.Close()

	resp, err := New(server.URL, "key-1").Chat(context.Background(), domain.ChatRequest{
		Model: "claude-3-5-sonnet-latest",
		Messages: []domain.ChatMessage{
			{Role: "system", Content: "Contesto normativo"},
			{Role: "user", Content: "Quando si versa l'IVA?"},
		},
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if headers.Get("x-api-key") != "key-1" || headers.Get("anthropic-version") != apiVersion {
		t.Fatalf("unexpected headers %v", headers)
	}
	if payload.System != "Contesto normativo" || len(payload.Messages) != 1 || payload.Messages[0].Role != "user" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.MaxTokens != defaultMaxTokens {
		t.Fatalf("expected default max tokens, got %d", payload.MaxTokens)
	}
	if resp.Content != "Secondo la circolare 9/E..." || resp.CompletionTokens != 20 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestChatJSONAddsInstruction(t *testing.T) {
	var payload messagesRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{}"}]}`))
	}))
	defer server.Close()

	_, err := New(server.URL, "k").Chat(context.Background(), domain.ChatRequest{
		Model:    "claude-3-5-haiku-latest",
		Messages: []domain.ChatMessage{{Role: "user", Content: "x"}},
		JSON:     true,
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if !strings.Contains(payload.System, "JSON") {
		t.Fatalf("expected JSON instruction in system prompt, got %q", payload.System)
	}
}

func TestChatOverloadedIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error"}}`))
	}))
	defer server.Close()

	_, err := New(server.URL, "k").Chat(context.Background(), domain.ChatRequest{Model: "m", Messages: []domain.ChatMessage{{Role: "user", Content: "x"}}})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestChatWithoutTextIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[{"type":"tool_use"}]}`))
	}))
	defer server.Close()

	_, err := New(server.URL, "k").Chat(context.Background(), domain.ChatRequest{Model: "m"})
	if !domain.IsKind(err, domain.ErrMalformedResponse) {
		t.Fatalf("expected malformed response, got %v", err)
	}
}
