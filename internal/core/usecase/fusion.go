package usecase

import (
	"sort"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

const defaultRRFK = 60

// DefaultStrategyWeights favours semantic search, which generalizes best over paraphrase.
func DefaultStrategyWeights() map[domain.Strategy]float64 {
	return map[domain.Strategy]float64{
		domain.StrategyLexical:      0.3,
		domain.StrategySemantic:     0.4,
		domain.StrategyHypothetical: 0.3,
	}
}

type strategyResult struct {
	strategy domain.Strategy
	hits     []domain.SearchHit
}

type fusedDocument struct {
	doc   domain.RankedDocument
	score float64
}

// fuseRRF scores each document by the sum of w/(k+rank) over the strategies that
// returned it. Rank follows each strategy's own ordering and counts the first
// occurrence of an id only.
func fuseRRF(results []strategyResult, weights map[domain.Strategy]float64, rrfK int) []domain.RankedDocument {
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}

	acc := make(map[string]*fusedDocument)
	order := make([]string, 0)
	for _, result := range results {
		weight := weights[result.strategy]
		seen := make(map[string]bool, len(result.hits))
		for position, hit := range result.hits {
			if hit.DocumentID == "" {
				continue
			}
			entry, ok := acc[hit.DocumentID]
			if !ok {
				entry = &fusedDocument{doc: rankedFromHit(hit)}
				acc[hit.DocumentID] = entry
				order = append(order, hit.DocumentID)
			} else if hit.Score > entry.doc.RawScore {
				entry.doc = mergeHigherRaw(entry.doc, hit)
			}
			if seen[hit.DocumentID] {
				continue
			}
			seen[hit.DocumentID] = true
			entry.score += weight / float64(rrfK+position+1)
			entry.doc.Strategies = append(entry.doc.Strategies, result.strategy)
		}
	}

	out := make([]domain.RankedDocument, 0, len(acc))
	for _, id := range order {
		entry := acc[id]
		doc := entry.doc
		doc.FusedScore = entry.score
		out = append(out, doc)
	}
	sortRanked(out)
	return out
}

func rankedFromHit(hit domain.SearchHit) domain.RankedDocument {
	return domain.RankedDocument{
		DocumentID:  hit.DocumentID,
		Content:     hit.Content,
		RawScore:    hit.Score,
		SourceType:  hit.SourceType,
		SourceName:  hit.SourceName,
		PublishedAt: hit.PublishedAt,
		Metadata:    hit.Metadata,
	}
}

// mergeHigherRaw swaps in the payload of a higher-scoring occurrence while
// keeping the strategies already credited.
func mergeHigherRaw(current domain.RankedDocument, hit domain.SearchHit) domain.RankedDocument {
	replacement := rankedFromHit(hit)
	replacement.Strategies = current.Strategies
	if replacement.Content == "" {
		replacement.Content = current.Content
	}
	if replacement.SourceType == "" {
		replacement.SourceType = current.SourceType
	}
	if replacement.SourceName == "" {
		replacement.SourceName = current.SourceName
	}
	if replacement.PublishedAt == nil {
		replacement.PublishedAt = current.PublishedAt
	}
	if replacement.Metadata == nil {
		replacement.Metadata = current.Metadata
	}
	return replacement
}

func sortRanked(docs []domain.RankedDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].FusedScore != docs[j].FusedScore {
			return docs[i].FusedScore > docs[j].FusedScore
		}
		if docs[i].RawScore != docs[j].RawScore {
			return docs[i].RawScore > docs[j].RawScore
		}
		return docs[i].DocumentID < docs[j].DocumentID
	})
}
