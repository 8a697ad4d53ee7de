package search

import (
	"fmt"
	"sort"

	"github.com/docsift/docsift/core"
)

// RankWeights drive the hybrid scoring strategy.
type RankWeights struct {
	Relevance float64
	Recency   float64
	Quality   float64
}

// DefaultRankWeights per the hybrid strategy defaults.
func DefaultRankWeights() RankWeights {
	return RankWeights{Relevance: 0.6, Recency: 0.2, Quality: 0.2}
}

// Ranker merges internal and external result sets, deduplicates, and orders
// them under the configured strategy. Ranking the same set twice yields the
// same order.
type Ranker struct {
	weights RankWeights
}

func NewRanker(weights RankWeights) *Ranker {
	if weights.Relevance == 0 && weights.Recency == 0 && weights.Quality == 0 {
		weights = DefaultRankWeights()
	}
	return &Ranker{weights: weights}
}

// Merge combines result sets and deduplicates by content id. On a duplicate
// the higher relevance wins; on equal relevance the newer result wins.
// Merging an already-merged set is a no-op.
func (r *Ranker) Merge(sets ...[]core.SearchResult) []core.SearchResult {
	byID := make(map[string]int)
	var merged []core.SearchResult
	for _, set := range sets {
		for _, hit := range set {
			idx, seen := byID[hit.ContentID]
			if !seen {
				byID[hit.ContentID] = len(merged)
				merged = append(merged, hit)
				continue
			}
			kept := &merged[idx]
			if hit.RelevanceScore > kept.RelevanceScore ||
				(hit.RelevanceScore == kept.RelevanceScore && hit.RecencyScore > kept.RecencyScore) {
				merged[idx] = hit
			}
		}
	}
	return merged
}

// Rank orders results under the named strategy: relevance, recency, or
// hybrid. Ties break by relevance, then recency, then content id so output
// is deterministic.
func (r *Ranker) Rank(results []core.SearchResult, strategy string) []core.SearchResult {
	score := r.scoreFn(strategy)
	sort.SliceStable(results, func(i, j int) bool {
		si, sj := score(&results[i]), score(&results[j])
		if si != sj {
			return si > sj
		}
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		if results[i].RecencyScore != results[j].RecencyScore {
			return results[i].RecencyScore > results[j].RecencyScore
		}
		return results[i].ContentID < results[j].ContentID
	})
	return results
}

func (r *Ranker) scoreFn(strategy string) func(*core.SearchResult) float64 {
	switch strategy {
	case "relevance":
		return func(h *core.SearchResult) float64 { return h.RelevanceScore }
	case "recency":
		return func(h *core.SearchResult) float64 { return h.RecencyScore }
	default: // hybrid
		w := r.weights
		return func(h *core.SearchResult) float64 {
			return w.Relevance*h.RelevanceScore + w.Recency*h.RecencyScore + w.Quality*h.QualityScore
		}
	}
}

// Paginate slices a ranked set by limit and offset. Out-of-range limits are
// clamped into [1, maxResults] or rejected, per policy. An offset past the
// end returns an empty page.
func Paginate(results []core.SearchResult, limit, offset, maxResults int, policy string) ([]core.SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 200
	}
	if limit <= 0 || limit > maxResults {
		if policy == "reject" && limit != 0 {
			return nil, fmt.Errorf("%w: limit %d out of range [1,%d]", core.ErrInvalidQuery, limit, maxResults)
		}
		if limit <= 0 {
			limit = 20
		} else {
			limit = maxResults
		}
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(results) {
		return []core.SearchResult{}, nil
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	return results[offset:end], nil
}
