package match

import (
	"sort"
)

// MaxHits is the number of retrieved images (K) considered per query.
const MaxHits = 60

type familyKey struct {
	category string
	familyID string
}

type familyGroup struct {
	candidate Candidate
	scores    []float64
}

// Aggregate groups hits by (category, family) and emits one Candidate per
// group. Hits from several categories are pooled so that a lookalike in
// another category competes on score alone.
//
// Only the MaxHits highest-similarity hits are considered. Hits without a
// family id are dropped and similarities are clamped to [0, 1]. Candidates
// come back in first-seen order of the truncated hit list; use Rank to order
// them.
func Aggregate(hits []ImageHit) []Candidate {
	hits = topHits(hits, MaxHits)

	index := make(map[familyKey]int)
	var groups []*familyGroup

	for _, h := range hits {
		if h.FamilyID == "" {
			continue
		}
		score := clampScore(h.Similarity)
		key := familyKey{category: h.Category, familyID: h.FamilyID}

		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, &familyGroup{
				candidate: Candidate{
					FamilyID:   h.FamilyID,
					Category:   h.Category,
					Brand:      h.Brand,
					FamilyName: h.FamilyName,
					ImageURL:   h.ImagePath,
					BestScore:  score,
				},
			})
		}

		g := groups[i]
		g.scores = append(g.scores, score)
		if score > g.candidate.BestScore {
			g.candidate.BestScore = score
			g.candidate.ImageURL = h.ImagePath
		}
		if g.candidate.Brand == "" {
			g.candidate.Brand = h.Brand
		}
		if g.candidate.FamilyName == "" {
			g.candidate.FamilyName = h.FamilyName
		}
	}

	out := make([]Candidate, 0, len(groups))
	for _, g := range groups {
		c := g.candidate
		c.SupportCount = len(g.scores)
		c.AvgTop3Score = meanTop(g.scores, 3)
		if c.AvgTop3Score > c.BestScore {
			c.AvgTop3Score = c.BestScore
		}
		out = append(out, c)
	}
	return out
}

// topHits returns at most k hits ordered by similarity descending. The input
// slice is not modified; equal similarities keep their input order.
func topHits(hits []ImageHit, k int) []ImageHit {
	sorted := make([]ImageHit, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Similarity > sorted[j].Similarity
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

// meanTop averages the n highest scores (fewer when len(scores) < n).
func meanTop(scores []float64, n int) float64 {
	if len(scores) == 0 {
		return 0
	}
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	var sum float64
	for _, s := range sorted {
		sum += s
	}
	return sum / float64(len(sorted))
}

func clampScore(s float64) float64 {
	switch {
	case s != s: // NaN
		return 0
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
