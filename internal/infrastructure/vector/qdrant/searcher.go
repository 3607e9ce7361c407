package qdrant

import (
	"context"
	"fmt"
	"strings"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
	"github.com/mickgian/pratikoai-retrieval/internal/core/ports"
)

// Searcher is the semantic search backend: it embeds the query text and
// asks the collection for its nearest neighbours.
type Searcher struct {
	embedder ports.Embedder
	client   *Client
}

func NewSearcher(embedder ports.Embedder, client *Client) *Searcher {
	return &Searcher{embedder: embedder, client: client}
}

func (s *Searcher) Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchHit, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return []domain.SearchHit{}, nil
	}
	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.client.Search(ctx, vector, req.Limit)
}

// Index embeds each document's title and content and upserts the points.
func (s *Searcher) Index(ctx context.Context, docs []domain.LegalDocument) error {
	vectors := make([][]float32, 0, len(docs))
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			return err
		}
		text := strings.TrimSpace(doc.Title + "\n" + doc.Content)
		vector, err := s.embedder.EmbedQuery(ctx, text)
		if err != nil {
			return fmt.Errorf("embed document %s: %w", doc.ID, err)
		}
		vectors = append(vectors, vector)
	}
	return s.client.Upsert(ctx, docs, vectors)
}
