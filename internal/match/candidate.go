// Package match turns raw nearest-neighbour image hits into ranked per-family
// candidates and applies the confidence policy that decides whether a scan is
// auto-selected, needs a user pick, or has no confident match.
//
// Everything in this package is pure: no I/O, no clocks, no randomness. For a
// fixed slice of hits, Aggregate, Rank and Engine.Decide always produce the
// same output.
package match

// ImageHit is one nearest-neighbour result returned by a category index query.
// Hits are query scoped and never persisted.
type ImageHit struct {
	FamilyID   string  `json:"familyId"`
	Category   string  `json:"category"`
	Brand      string  `json:"brand"`
	FamilyName string  `json:"familyName"`
	ImagePath  string  `json:"imagePath"`
	Similarity float64 `json:"similarity"`
}

// Candidate aggregates every hit that shares a family within one query.
//
// Invariants: AvgTop3Score <= BestScore and SupportCount >= 1.
type Candidate struct {
	FamilyID     string  `json:"familyId"`
	Category     string  `json:"category"`
	Brand        string  `json:"brand"`
	FamilyName   string  `json:"familyName"`
	ImageURL     string  `json:"imageUrl"`
	BestScore    float64 `json:"bestScore"`
	AvgTop3Score float64 `json:"avgTop3Score"`
	SupportCount int     `json:"supportCount"`
}

// RankedResult is the ordered list of at most Policy.TopN candidates kept for
// a query. Treat it as immutable once returned by Rank.
type RankedResult []Candidate

// Top returns the best candidate, or false when the result is empty.
func (r RankedResult) Top() (Candidate, bool) {
	if len(r) == 0 {
		return Candidate{}, false
	}
	return r[0], true
}

// BestScore returns the top candidate's best score (0 when empty).
func (r RankedResult) BestScore() float64 {
	if len(r) == 0 {
		return 0
	}
	return r[0].BestScore
}

// RunnerUpScore returns the second candidate's best score (0 when absent).
func (r RankedResult) RunnerUpScore() float64 {
	if len(r) < 2 {
		return 0
	}
	return r[1].BestScore
}

// Gap is the separation between the top two candidates.
func (r RankedResult) Gap() float64 {
	return r.BestScore() - r.RunnerUpScore()
}

// Brands lists the distinct brands in rank order.
func (r RankedResult) Brands() []string {
	seen := make(map[string]bool, len(r))
	var brands []string
	for _, c := range r {
		if c.Brand == "" || seen[c.Brand] {
			continue
		}
		seen[c.Brand] = true
		brands = append(brands, c.Brand)
	}
	return brands
}
