package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

type embedderFake struct {
	err   error
	texts []string
}

func (e *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.texts = append(e.texts, text)
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1, 0.2}, nil
}

func TestSearcherMapsPayloadToHits(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/collections/legal_documents/points/search" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"result":[{"score":0.87,"payload":{"doc_id":"circ-9","content":"Versamenti IVA","source_type":"circolare","source_name":"Circolare 9/E","published_at":"2025-03-13T00:00:00Z","url":"https://example.test/c9"}}]}`))
	}))
	defer server.Close()

	embedder := &embedderFake{}
	searcher := NewSearcher(embedder, New(server.URL, "legal_documents"))
	hits, err := searcher.Search(context.Background(), domain.SearchRequest{Query: "scadenze IVA", Limit: 30})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	hit := hits[0]
	if hit.DocumentID != "circ-9" || hit.Score != 0.87 || hit.SourceType != "circolare" {
		t.Fatalf("unexpected hit %+v", hit)
	}
	if hit.PublishedAt == nil || hit.PublishedAt.Year() != 2025 {
		t.Fatalf("expected parsed publication date, got %v", hit.PublishedAt)
	}
	if hit.Metadata["url"] != "https://example.test/c9" {
		t.Fatalf("expected url metadata, got %v", hit.Metadata)
	}
	if captured["limit"] != float64(30) || captured["with_payload"] != true {
		t.Fatalf("unexpected search body %v", captured)
	}
	if embedder.texts[0] != "scadenze IVA" {
		t.Fatalf("unexpected embedded text %q", embedder.texts[0])
	}
}

func TestSearcherEmptyQuerySkipsBackend(t *testing.T) {
	embedder := &embedderFake{}
	hits, err := NewSearcher(embedder, New("http://127.0.0.1:1", "docs")).Search(context.Background(), domain.SearchRequest{Query: "  "})
	if err != nil || len(hits) != 0 || len(embedder.texts) != 0 {
		t.Fatalf("expected empty result without calls, got %v %v", hits, err)
	}
}

func TestSearcherPropagatesEmbedError(t *testing.T) {
	embedder := &embedderFake{err: errors.New("ollama down")}
	_, err := NewSearcher(embedder, New("http://127.0.0.1:1", "docs")).Search(context.Background(), domain.SearchRequest{Query: "x"})
	if err == nil || !strings.Contains(err.Error(), "ollama down") {
		t.Fatalf("expected embed error, got %v", err)
	}
}

func TestIndexEnsuresCollectionOnceAndUsesStableIDs(t *testing.T) {
	var (
		ensureCalls int32
		pointIDs    []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs":
			atomic.AddInt32(&ensureCalls, 1)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs/points":
			var body struct {
				Points []point `json:"points"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			for _, p := range body.Points {
				pointIDs = append(pointIDs, p.ID)
			}
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	searcher := NewSearcher(&embedderFake{}, New(server.URL, "docs"))
	docs := []domain.LegalDocument{{ID: "legge-207-2024", Content: "Legge di bilancio 2025", SourceType: "legge"}}
	for i := 0; i < 2; i++ {
		if err := searcher.Index(context.Background(), docs); err != nil {
			t.Fatalf("Index() error = %v", err)
		}
	}
	if got := atomic.LoadInt32(&ensureCalls); got != 1 {
		t.Fatalf("expected ensure collection called once, got %d", got)
	}
	if len(pointIDs) != 2 || pointIDs[0] != pointIDs[1] {
		t.Fatalf("expected stable point ids, got %v", pointIDs)
	}
}

func TestEnsureCollectionIncludesResponseBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/collections/docs" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	err := New(server.URL, "docs").Upsert(context.Background(), []domain.LegalDocument{{ID: "a", Content: "a"}}, [][]float32{{0.1}})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected error to include body, got %v", err)
	}
}

func TestEnsureCollectionToleratesConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/docs" {
			w.WriteHeader(http.StatusConflict)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	if err := New(server.URL, "docs").Upsert(context.Background(), []domain.LegalDocument{{ID: "a", Content: "a"}}, [][]float32{{0.1}}); err != nil {
		t.Fatalf("expected conflict to be treated as existing collection, got %v", err)
	}
}
