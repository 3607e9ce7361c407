// Package keyword provides an embedded Bleve index as an alternative lexical
// backend for deployments without Postgres.
package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/lang/it"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

const titleBoost = 2.0

type BleveIndex struct {
	index bleve.Index
}

type indexedDocument struct {
	Title         string `json:"title"`
	Content       string `json:"content"`
	ReferenceCode string `json:"reference_code"`
	SourceType    string `json:"source_type"`
	SourceName    string `json:"source_name"`
	SourceEntity  string `json:"source_entity"`
	URL           string `json:"url"`
	PublishedAt   string `json:"published_at"`
}

// NewBleveIndex opens the index at path, creating it when missing. An empty
// path builds an in-memory index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if strings.TrimSpace(path) == "" {
		index, err := bleve.NewMemOnly(buildMapping())
		if err != nil {
			return nil, fmt.Errorf("create in-memory bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("open bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, buildMapping())
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func buildMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = it.AnalyzerName
	docMapping.AddFieldMappingsAt("title", text)
	docMapping.AddFieldMappingsAt("content", text)

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keywordanalyzer.Name
	docMapping.AddFieldMappingsAt("source_type", exact)

	refs := bleve.NewTextFieldMapping()
	refs.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("reference_code", refs)
	docMapping.AddFieldMappingsAt("source_name", refs)

	stored := bleve.NewTextFieldMapping()
	stored.Index = false
	for _, field := range []string{"source_entity", "url", "published_at"} {
		docMapping.AddFieldMappingsAt(field, stored)
	}

	im.AddDocumentMapping("document", docMapping)
	im.DefaultType = "document"
	im.DefaultMapping = docMapping
	return im
}

func (b *BleveIndex) Index(ctx context.Context, docs []domain.LegalDocument) error {
	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := doc.Validate(); err != nil {
			return err
		}
		entry := indexedDocument{
			Title:         doc.Title,
			Content:       doc.Content,
			ReferenceCode: doc.ReferenceCode,
			SourceType:    doc.SourceType,
			SourceName:    doc.SourceName,
			SourceEntity:  doc.SourceEntity,
			URL:           doc.URL,
		}
		if doc.PublishedAt != nil {
			entry.PublishedAt = doc.PublishedAt.UTC().Format(time.RFC3339)
		}
		if err := batch.Index(doc.ID, entry); err != nil {
			return fmt.Errorf("batch document %s: %w", doc.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("apply bleve batch: %w", err)
	}
	return nil
}

func (b *BleveIndex) Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchHit, error) {
	var queries []blevequery.Query
	for _, text := range []string{req.Query, req.EntityQuery} {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		title := bleve.NewMatchQuery(text)
		title.SetField("title")
		title.SetBoost(titleBoost)
		content := bleve.NewMatchQuery(text)
		content.SetField("content")
		reference := bleve.NewMatchQuery(text)
		reference.SetField("reference_code")
		reference.SetBoost(titleBoost)
		queries = append(queries, title, content, reference)
	}
	if len(queries) == 0 {
		return []domain.SearchHit{}, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 30
	}
	search := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(queries...), limit, 0, false)
	search.Fields = []string{"*"}
	results, err := b.index.SearchInContext(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	hits := make([]domain.SearchHit, 0, len(results.Hits))
	for _, hit := range results.Hits {
		doc := domain.LegalDocument{
			ID:            hit.ID,
			Title:         fieldString(hit.Fields, "title"),
			Content:       fieldString(hit.Fields, "content"),
			SourceType:    fieldString(hit.Fields, "source_type"),
			SourceName:    fieldString(hit.Fields, "source_name"),
			ReferenceCode: fieldString(hit.Fields, "reference_code"),
			SourceEntity:  fieldString(hit.Fields, "source_entity"),
			URL:           fieldString(hit.Fields, "url"),
		}
		if raw := fieldString(hit.Fields, "published_at"); raw != "" {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				doc.PublishedAt = &t
			}
		}
		hits = append(hits, doc.Hit(hit.Score))
	}
	return hits, nil
}

func (b *BleveIndex) Close() error {
	return b.index.Close()
}

func fieldString(fields map[string]interface{}, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
