package usecase

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

const (
	NotAvailable = "not available"

	emptyContextText      = "No relevant documents were retrieved."
	defaultExcerptChars   = 500
	unknownHierarchyLevel = 99
	unknownDocumentType   = "unknown"
)

var hierarchyLevels = map[string]int{
	sourceLegge:       1,
	sourceDecreto:     2,
	sourceCircolare:   3,
	sourceRisoluzione: 4,
	sourceInterpello:  5,
	sourceFAQ:         6,
	sourceGuida:       7,
}

var sourceEntities = map[string]string{
	sourceLegge:       "Parlamento",
	sourceDecreto:     "Governo",
	sourceCircolare:   "Agenzia delle Entrate",
	sourceRisoluzione: "Agenzia delle Entrate",
	sourceInterpello:  "Agenzia delle Entrate",
	sourceFAQ:         "Agenzia delle Entrate",
	sourceGuida:       "Agenzia delle Entrate",
}

var referencePrefixes = map[string]string{
	sourceLegge:       "L.",
	sourceDecreto:     "D.Lgs.",
	sourceCircolare:   "Circ.",
	sourceRisoluzione: "Ris.",
	sourceInterpello:  "Interpello",
	sourceFAQ:         "FAQ",
	sourceGuida:       "Guida",
}

var (
	fullCodePattern   = regexp.MustCompile(`(\d{1,5})\s*/\s*([A-Za-z]{1,3})\s*/\s*((?:19|20)\d{2})`)
	numberYearPattern = regexp.MustCompile(`(\d{1,5})\s*/\s*((?:19|20)\d{2})\b`)
	numberPattern     = regexp.MustCompile(`(?i)\bn(?:\.|r\.?|um\.?)?\s*(\d{1,5})(?:\s*/\s*([A-Za-z]{1,3})\b)?`)
	yearPattern       = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
)

type ContextFormatter struct {
	excerptChars int
}

func NewContextFormatter(excerptChars int) *ContextFormatter {
	if excerptChars <= 0 {
		excerptChars = defaultExcerptChars
	}
	return &ContextFormatter{excerptChars: excerptChars}
}

// ExtractAll maps every ranked document to its metadata, most recent first.
// Undated documents keep their relevance order after the dated ones.
func (f *ContextFormatter) ExtractAll(result domain.RetrievalResult) []domain.DocumentMetadata {
	out := make([]domain.DocumentMetadata, 0, len(result.Documents))
	for _, doc := range result.Documents {
		out = append(out, f.extract(doc))
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].PublicationDate, out[j].PublicationDate
		switch {
		case a == nil && b == nil:
			return false
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return out
}

func (f *ContextFormatter) Format(result domain.RetrievalResult) string {
	return f.FormatMetadata(f.ExtractAll(result))
}

func (f *ContextFormatter) FormatMetadata(docs []domain.DocumentMetadata) string {
	if len(docs) == 0 {
		return emptyContextText
	}

	var b strings.Builder
	for i, doc := range docs {
		date := NotAvailable
		if doc.PublicationDate != nil {
			date = doc.PublicationDate.Format("2006-01-02")
		}
		reference := doc.ReferenceCode
		if reference == "" {
			reference = NotAvailable
		}
		fmt.Fprintf(&b, "[%d] %s\n", i+1, doc.Title)
		fmt.Fprintf(&b, "Type: %s (hierarchy %d) | Entity: %s\n", doc.DocumentType, doc.HierarchyLevel, doc.SourceEntity)
		fmt.Fprintf(&b, "Date: %s | Reference: %s | Relevance: %.4f\n", date, reference, doc.RelevanceScore)
		fmt.Fprintf(&b, "URL: %s\n", doc.URL)
		b.WriteString(doc.Excerpt)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (f *ContextFormatter) extract(doc domain.RankedDocument) domain.DocumentMetadata {
	docType := normalizeSourceType(doc.SourceType)
	if docType == "" {
		docType = unknownDocumentType
	}

	title := metadataString(doc.Metadata, "title")
	if title == "" {
		title = doc.SourceName
	}
	if title == "" {
		title = doc.DocumentID
	}

	entity := metadataString(doc.Metadata, "source_entity", "issuing_authority")
	if entity == "" {
		entity = sourceEntities[docType]
	}
	if entity == "" {
		entity = doc.SourceName
	}

	level, ok := hierarchyLevels[docType]
	if !ok {
		level = unknownHierarchyLevel
	}

	reference := metadataString(doc.Metadata, "reference_code")
	if reference == "" {
		reference = deriveReferenceCode(docType, doc.SourceName)
	}

	url := metadataString(doc.Metadata, "url", "source_url")
	if url == "" {
		url = NotAvailable
	}

	return domain.DocumentMetadata{
		DocumentID:      doc.DocumentID,
		Title:           title,
		PublicationDate: doc.PublishedAt,
		SourceEntity:    entity,
		DocumentType:    docType,
		HierarchyLevel:  level,
		ReferenceCode:   reference,
		RelevanceScore:  doc.FusedScore,
		URL:             url,
		Excerpt:         excerpt(doc.Content, f.excerptChars),
	}
}

// deriveReferenceCode pulls a number/year code such as "9/E/2025" out of a
// source name and prefixes it by document type.
func deriveReferenceCode(docType, sourceName string) string {
	code := ""
	switch {
	case fullCodePattern.MatchString(sourceName):
		m := fullCodePattern.FindStringSubmatch(sourceName)
		code = m[1] + "/" + strings.ToUpper(m[2]) + "/" + m[3]
	case numberYearPattern.MatchString(sourceName):
		m := numberYearPattern.FindStringSubmatch(sourceName)
		code = m[1] + "/" + m[2]
	case numberPattern.MatchString(sourceName):
		m := numberPattern.FindStringSubmatch(sourceName)
		code = m[1]
		if m[2] != "" {
			code += "/" + strings.ToUpper(m[2])
		}
		if year := yearPattern.FindStringSubmatch(sourceName); year != nil && year[1] != m[1] {
			code += "/" + year[1]
		}
	default:
		return ""
	}

	prefix, ok := referencePrefixes[docType]
	if !ok {
		return code
	}
	return prefix + " " + code
}

func metadataString(metadata map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := metadata[key]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprintf("%v", v))
		if s != "" {
			return s
		}
	}
	return ""
}

func excerpt(content string, limit int) string {
	text := strings.Join(strings.Fields(content), " ")
	truncated := truncateRunes(text, limit)
	if truncated != text {
		return truncated + "..."
	}
	return text
}
