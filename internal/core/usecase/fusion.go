package usecase

import (
	"sort"

	"github.com/kirillkom/localrag/internal/core/domain"
)

type fusedCandidate struct {
	result domain.ScoredResult
	score  float64
	order  int
}

// Fuse combines lexical and dense results by min-max normalizing each list and summing
// the weighted normalized scores per chunk. Ties keep first-appearance order, lexical first.
// Either list may be empty, in which case the other passes through the same procedure.
func Fuse(lexical, dense []domain.ScoredResult, cfg domain.FusionConfig) []domain.ScoredResult {
	acc := make(map[string]*fusedCandidate, len(lexical)+len(dense))
	ordered := make([]*fusedCandidate, 0, len(lexical)+len(dense))

	add := func(results []domain.ScoredResult, weight float64, lexicalSource bool) {
		normalized := minMaxNormalize(results)
		for i, res := range results {
			candidate, ok := acc[res.ChunkID]
			if !ok {
				candidate = &fusedCandidate{result: res, order: len(ordered)}
				candidate.result.Debug = domain.ScoreDebug{}
				acc[res.ChunkID] = candidate
				ordered = append(ordered, candidate)
			}
			candidate.score += normalized[i] * weight
			if lexicalSource {
				candidate.result.Debug.LexicalScore = res.Score
				candidate.result.Debug.NormalizedLexical = normalized[i]
			} else {
				candidate.result.Debug.DenseScore = res.Score
				candidate.result.Debug.NormalizedDense = normalized[i]
				candidate.result = preferRicherResult(candidate.result, res)
			}
		}
	}

	add(lexical, cfg.BM25Weight, true)
	add(dense, cfg.DenseWeight, false)

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].score != ordered[j].score {
			return ordered[i].score > ordered[j].score
		}
		return ordered[i].order < ordered[j].order
	})

	out := make([]domain.ScoredResult, 0, len(ordered))
	for _, c := range ordered {
		res := c.result
		res.Score = c.score
		res.Debug.FusedScore = c.score
		out = append(out, res)
	}
	return trimResults(out, cfg.FinalTopK)
}

// minMaxNormalize maps scores into [0, 1]. A list whose scores are all equal maps to 1.0.
func minMaxNormalize(results []domain.ScoredResult) []float64 {
	out := make([]float64, len(results))
	if len(results) == 0 {
		return out
	}
	lo, hi := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		lo = min(lo, r.Score)
		hi = max(hi, r.Score)
	}
	spread := hi - lo
	for i, r := range results {
		if spread == 0 {
			out[i] = 1
			continue
		}
		out[i] = (r.Score - lo) / spread
	}
	return out
}

func trimResults(results []domain.ScoredResult, limit int) []domain.ScoredResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}

// preferRicherResult fills payload fields the lexical hit lacked from the dense hit.
func preferRicherResult(current, candidate domain.ScoredResult) domain.ScoredResult {
	if current.Text == "" {
		current.Text = candidate.Text
	}
	if current.DocID == "" {
		current.DocID = candidate.DocID
	}
	m := &current.Metadata
	if m.DocTitle == "" {
		m.DocTitle = candidate.Metadata.DocTitle
	}
	if m.Source == "" {
		m.Source = candidate.Metadata.Source
	}
	if m.Page == 0 {
		m.Page = candidate.Metadata.Page
	}
	if m.Section == "" {
		m.Section = candidate.Metadata.Section
	}
	return current
}
