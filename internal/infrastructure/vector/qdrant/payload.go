package qdrant

import (
	"fmt"
	"time"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

func documentPayload(doc domain.LegalDocument) map[string]any {
	payload := map[string]any{
		"doc_id":      doc.ID,
		"title":       doc.Title,
		"content":     doc.Content,
		"source_type": doc.SourceType,
		"source_name": doc.SourceName,
	}
	if doc.PublishedAt != nil {
		payload["published_at"] = doc.PublishedAt.UTC().Format(time.RFC3339)
	}
	if doc.URL != "" {
		payload["url"] = doc.URL
	}
	if doc.ReferenceCode != "" {
		payload["reference_code"] = doc.ReferenceCode
	}
	if doc.SourceEntity != "" {
		payload["source_entity"] = doc.SourceEntity
	}
	return payload
}

func hitFromPayload(payload map[string]any, score float64) domain.SearchHit {
	doc := domain.LegalDocument{
		ID:            getStringPayload(payload, "doc_id"),
		Title:         getStringPayload(payload, "title"),
		Content:       getStringPayload(payload, "content"),
		SourceType:    getStringPayload(payload, "source_type"),
		SourceName:    getStringPayload(payload, "source_name"),
		URL:           getStringPayload(payload, "url"),
		ReferenceCode: getStringPayload(payload, "reference_code"),
		SourceEntity:  getStringPayload(payload, "source_entity"),
		PublishedAt:   parsePublished(getStringPayload(payload, "published_at")),
	}
	return doc.Hit(score)
}

func parsePublished(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
