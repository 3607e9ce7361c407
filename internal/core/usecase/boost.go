package usecase

import (
	"strings"
	"time"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

const (
	sourceLegge       = "legge"
	sourceDecreto     = "decreto"
	sourceCircolare   = "circolare"
	sourceRisoluzione = "risoluzione"
	sourceInterpello  = "interpello"
	sourceFAQ         = "faq"
	sourceGuida       = "guida"

	recencyBoostFactor       = 1.5
	defaultRecencyWindowDays = 365
)

var authorityBoosts = map[string]float64{
	sourceLegge:       1.30,
	sourceDecreto:     1.25,
	sourceCircolare:   1.15,
	sourceRisoluzione: 1.10,
	sourceInterpello:  1.05,
	sourceFAQ:         1.00,
	sourceGuida:       0.95,
}

var sourceTypeAliases = map[string]string{
	"statute":    sourceLegge,
	"law":        sourceLegge,
	"decree":     sourceDecreto,
	"dlgs":       sourceDecreto,
	"d.lgs.":     sourceDecreto,
	"dl":         sourceDecreto,
	"dpr":        sourceDecreto,
	"circular":   sourceCircolare,
	"resolution": sourceRisoluzione,
	"ruling":     sourceInterpello,
	"risposta":   sourceInterpello,
	"guide":      sourceGuida,
}

// normalizeSourceType maps aliases onto the canonical Italian source types.
func normalizeSourceType(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := sourceTypeAliases[key]; ok {
		return canonical
	}
	return key
}

func authorityBoost(sourceType string) float64 {
	if boost, ok := authorityBoosts[normalizeSourceType(sourceType)]; ok {
		return boost
	}
	return 1.0
}

// recencyBoost is a binary threshold on whole elapsed days; the window end is inclusive.
func recencyBoost(published *time.Time, now time.Time, windowDays int) float64 {
	if published == nil || published.IsZero() {
		return 1.0
	}
	if windowDays <= 0 {
		windowDays = defaultRecencyWindowDays
	}
	days := int(now.Sub(*published) / (24 * time.Hour))
	if days <= windowDays {
		return recencyBoostFactor
	}
	return 1.0
}

// applyBoosts multiplies fused scores in place, authority first, then recency.
func applyBoosts(docs []domain.RankedDocument, now time.Time, windowDays int) {
	for i := range docs {
		docs[i].FusedScore *= authorityBoost(docs[i].SourceType)
		docs[i].FusedScore *= recencyBoost(docs[i].PublishedAt, now, windowDays)
	}
}

// deduplicateByRawScore keeps one record per id, the one with the highest raw
// score, at the position of the first occurrence.
func deduplicateByRawScore(docs []domain.RankedDocument) []domain.RankedDocument {
	index := make(map[string]int, len(docs))
	out := make([]domain.RankedDocument, 0, len(docs))
	for _, doc := range docs {
		pos, ok := index[doc.DocumentID]
		if !ok {
			index[doc.DocumentID] = len(out)
			out = append(out, doc)
			continue
		}
		if doc.RawScore > out[pos].RawScore {
			out[pos] = doc
		}
	}
	return out
}

func truncateRanked(docs []domain.RankedDocument, topK int) []domain.RankedDocument {
	if topK <= 0 || len(docs) <= topK {
		return docs
	}
	return docs[:topK]
}
