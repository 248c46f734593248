package match

import (
	"math"
	"sort"
)

// tieEpsilon is the band within which two scores are considered tied and the
// next ranking key decides.
const tieEpsilon = 0.01

// Rank orders candidates and keeps at most n of them (n <= 0 keeps all).
//
// Order: BestScore desc; when within 0.01, AvgTop3Score desc; when that is
// also within 0.01, SupportCount desc. Anything still tied falls back to the
// exact BestScore and then the family id so the order is total.
func Rank(candidates []Candidate, n int) RankedResult {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)

	// Canonical starting order so the stable sort below does not depend on
	// the order the index returned hits in.
	sort.Slice(ranked, func(i, j int) bool {
		return exactLess(ranked[i], ranked[j])
	})
	sort.SliceStable(ranked, func(i, j int) bool {
		return rankLess(ranked[i], ranked[j])
	})

	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return RankedResult(ranked)
}

// rankLess reports whether a should be ranked ahead of b.
func rankLess(a, b Candidate) bool {
	if !within(a.BestScore, b.BestScore) {
		return a.BestScore > b.BestScore
	}
	if !within(a.AvgTop3Score, b.AvgTop3Score) {
		return a.AvgTop3Score > b.AvgTop3Score
	}
	if a.SupportCount != b.SupportCount {
		return a.SupportCount > b.SupportCount
	}
	return false
}

func exactLess(a, b Candidate) bool {
	if a.BestScore != b.BestScore {
		return a.BestScore > b.BestScore
	}
	if a.FamilyID != b.FamilyID {
		return a.FamilyID < b.FamilyID
	}
	return a.Category < b.Category
}

func within(a, b float64) bool {
	return math.Abs(a-b) <= tieEpsilon+scoreEpsilon
}
