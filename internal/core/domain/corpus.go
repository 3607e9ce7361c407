package domain

import (
	"fmt"
	"strings"
	"time"
)

// LegalDocument is one corpus entry as loaded into the search backends.
type LegalDocument struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	SourceType    string     `json:"source_type"`
	SourceName    string     `json:"source_name"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	URL           string     `json:"url,omitempty"`
	ReferenceCode string     `json:"reference_code,omitempty"`
	SourceEntity  string     `json:"source_entity,omitempty"`
}

func (d LegalDocument) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return WrapError(ErrInvalidInput, "validate document", fmt.Errorf("id is required"))
	}
	if strings.TrimSpace(d.Content) == "" {
		return WrapError(ErrInvalidInput, "validate document", fmt.Errorf("document %s has no content", d.ID))
	}
	return nil
}

// Hit converts the document into a search hit carrying its descriptive
// fields as metadata.
func (d LegalDocument) Hit(score float64) SearchHit {
	metadata := map[string]any{}
	if d.Title != "" {
		metadata["title"] = d.Title
	}
	if d.URL != "" {
		metadata["url"] = d.URL
	}
	if d.ReferenceCode != "" {
		metadata["reference_code"] = d.ReferenceCode
	}
	if d.SourceEntity != "" {
		metadata["source_entity"] = d.SourceEntity
	}
	return SearchHit{
		DocumentID:  d.ID,
		Content:     d.Content,
		Score:       score,
		SourceType:  d.SourceType,
		SourceName:  d.SourceName,
		PublishedAt: d.PublishedAt,
		Metadata:    metadata,
	}
}
