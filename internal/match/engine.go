package match

// Engine applies a Policy to aggregated candidates.
type Engine struct {
	policy Policy
}

// NewEngine returns an Engine using p, with invalid thresholds replaced by defaults.
func NewEngine(p Policy) *Engine {
	return &Engine{policy: p.normalized()}
}

// Policy returns the effective policy.
func (e *Engine) Policy() Policy { return e.policy }

// Decide ranks candidates and classifies the result. libraryImageCount is the
// indexed, non-bootstrap image count of the category being decided.
//
// Rules, first match wins:
//  1. count below the building threshold: LibraryBuilding
//  2. best >= HighConfidence: AutoSelected
//  3. limited band: no medium-confidence auto-select
//  4. full band, best >= MediumConfidence, gap >= MinGap, support >= MinSupport: AutoSelected
//  5. best >= UserRequired: UserRequired
//  6. otherwise: NoConfidentMatch
func (e *Engine) Decide(candidates []Candidate, libraryImageCount int) Decision {
	p := e.policy
	ranked := Rank(candidates, p.TopN)

	outcome := Outcome{
		BestScore:         ranked.BestScore(),
		ScoreGap:          ranked.Gap(),
		TopMatches:        ranked,
		Band:              p.BandFor(libraryImageCount),
		LibraryImageCount: libraryImageCount,
	}

	if outcome.Band == BandBuilding {
		return LibraryBuilding{Outcome: outcome}
	}

	top, ok := ranked.Top()
	if !ok {
		return NoConfidentMatch{Outcome: outcome, Reason: ReasonNoCandidates}
	}

	best := outcome.BestScore
	gap := outcome.ScoreGap

	if AtLeast(best, p.HighConfidence) {
		return AutoSelected{Outcome: outcome, Candidate: top}
	}

	if outcome.Band == BandFull &&
		AtLeast(best, p.MediumConfidence) &&
		AtLeast(gap, p.MinGap) &&
		top.SupportCount >= p.MinSupport {
		return AutoSelected{Outcome: outcome, Candidate: top}
	}

	if AtLeast(best, p.UserRequired) {
		return UserRequired{Outcome: outcome}
	}

	return NoConfidentMatch{Outcome: outcome, Reason: ReasonBelowThreshold}
}
