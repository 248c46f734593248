// Package disambig separates same-brand candidates that the embedding index
// cannot tell apart, using brand and model text read from the photo.
//
// The layer is a small state machine that runs once per scan after the
// visual decision has been made:
//
//	skipped                 not triggered, or OCR was only opportunistic and failed
//	blocked                 brand text required but unreadable, or brand not in library
//	model_selection_pending several same-brand families remain; the user must pick
//	resolved                brand confirmed; decision re-made on the same-brand pool
//
// No state re-enters signal extraction.
package disambig

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/item-identify/internal/category"
	"github.com/fpang/item-identify/internal/match"
)

// State is the terminal state of one disambiguation run.
type State string

const (
	StateSkipped               State = "skipped"
	StateResolved              State = "resolved"
	StateBlocked               State = "blocked"
	StateModelSelectionPending State = "model_selection_pending"
)

// Signals is what the vision client read from the photo.
type Signals struct {
	Brand      string            `json:"brand,omitempty"`
	Model      string            `json:"model,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Confident  bool              `json:"confident"`
}

// HasBrand reports whether the signals carry a usable brand.
func (s *Signals) HasBrand() bool {
	return s != nil && s.Confident && strings.TrimSpace(s.Brand) != ""
}

// Config holds the model-selection parameters.
type Config struct {
	// ModelSelectionGap is the score distance from the top within which a
	// same-brand family counts as a near tie. It is also the top-2 gap below
	// which opportunistic disambiguation is triggered.
	ModelSelectionGap float64
	MinCandidates     int
	MaxCandidates     int
	// CandidateThreshold is the score floor for the model-selection list.
	CandidateThreshold float64
}

// DefaultConfig returns the production parameters.
func DefaultConfig() Config {
	return Config{
		ModelSelectionGap:  0.05,
		MinCandidates:      2,
		MaxCandidates:      5,
		CandidateThreshold: 0.55,
	}
}

// Input is everything Resolve needs about one scan.
type Input struct {
	// Category is the requested category, or category.All.
	Category string
	// Candidates is the full aggregated pool, before truncation to top N.
	Candidates []match.Candidate
	// Visual is the engine decision made from Candidates.
	Visual            match.Decision
	LibraryImageCount int
	// Signals is nil when extraction failed or was not run.
	Signals   *Signals
	SignalErr error
}

// Result is the terminal state and the decision to return.
type Result struct {
	State    State          `json:"state"`
	Decision match.Decision `json:"-"`
	// Required is true when the category demands printed-text confirmation.
	Required bool `json:"required"`
	// Brand and Model are the OCR readings, when any.
	Brand string `json:"detectedBrand,omitempty"`
	Model string `json:"detectedModel,omitempty"`
}

// Resolver runs the disambiguation state machine. It holds no per-scan
// state and is safe for concurrent use.
type Resolver struct {
	engine *match.Engine
	rules  *RuleTable
	cfg    Config
}

// NewResolver creates a Resolver. A nil rules table disables forced model
// selection and brand aliases.
func NewResolver(engine *match.Engine, rules *RuleTable, cfg Config) *Resolver {
	d := DefaultConfig()
	if cfg.ModelSelectionGap <= 0 {
		cfg.ModelSelectionGap = d.ModelSelectionGap
	}
	if cfg.MinCandidates < 2 {
		cfg.MinCandidates = d.MinCandidates
	}
	if cfg.MaxCandidates < cfg.MinCandidates {
		cfg.MaxCandidates = d.MaxCandidates
	}
	if cfg.CandidateThreshold <= 0 {
		cfg.CandidateThreshold = d.CandidateThreshold
	}
	return &Resolver{engine: engine, rules: rules, cfg: cfg}
}

// Rules returns the rule table in use.
func (r *Resolver) Rules() *RuleTable { return r.rules }

// RequiresText reports whether the requested category, or the category of
// the visual top candidate, needs printed-text confirmation.
func RequiresText(requested string, visual match.Decision) bool {
	if p, _ := category.Lookup(requested); p.RequiresTextConfirmation {
		return true
	}
	if visual == nil {
		return false
	}
	if top, ok := visual.Details().TopMatches.Top(); ok {
		p, _ := category.Lookup(top.Category)
		return p.RequiresTextConfirmation
	}
	return false
}

// Needs reports whether disambiguation should run for the visual decision.
// A library that is still building and an empty candidate list never
// trigger it.
func (r *Resolver) Needs(requested string, visual match.Decision) bool {
	if visual == nil || visual.Kind() == match.KindLibraryBuilding {
		return false
	}
	out := visual.Details()
	if len(out.TopMatches) == 0 {
		return false
	}
	if RequiresText(requested, visual) {
		return true
	}
	return len(out.TopMatches) >= 2 && !match.AtLeast(out.ScoreGap, r.cfg.ModelSelectionGap)
}

// Resolve runs the state machine. It never performs I/O.
func (r *Resolver) Resolve(in Input) Result {
	res := Result{State: StateSkipped, Decision: in.Visual}
	if !r.Needs(in.Category, in.Visual) {
		return res
	}

	res.Required = RequiresText(in.Category, in.Visual)
	if in.Signals != nil {
		res.Brand = strings.TrimSpace(in.Signals.Brand)
		res.Model = strings.TrimSpace(in.Signals.Model)
	}
	visual := in.Visual.Details()

	if in.SignalErr != nil || !in.Signals.HasBrand() {
		if !res.Required {
			log.Debug().
				Err(in.SignalErr).
				Str("category", in.Category).
				Msg("Brand text unavailable for opportunistic check, keeping visual decision")
			return res
		}
		reason := match.ReasonBrandUnreadable
		if in.SignalErr != nil || in.Signals == nil {
			reason = match.ReasonOCRUnavailable
		}
		res.State = StateBlocked
		res.Decision = match.Blocked{
			Outcome:           visual,
			Reason:            reason,
			DetectedBrand:     res.Brand,
			BrandAlternatives: visual.TopMatches.Brands(),
		}
		return res
	}

	pool := r.sameBrand(in.Candidates, res.Brand)
	if len(pool) == 0 {
		log.Info().
			Str("brand", res.Brand).
			Strs("visualBrands", visual.TopMatches.Brands()).
			Msg("Detected brand has no families in the matched pool")
		res.State = StateBlocked
		res.Decision = match.Blocked{
			Outcome:           visual,
			Reason:            match.ReasonBrandNotInLibrary,
			DetectedBrand:     res.Brand,
			BrandAlternatives: visual.TopMatches.Brands(),
		}
		return res
	}

	filtered := r.engine.Decide(pool, in.LibraryImageCount)
	ranked := match.Rank(pool, 0)
	top := ranked[0]

	if len(ranked) >= 2 && (r.nearTies(ranked) >= 2 || r.rules.ForcesModelSelection(top.Brand, top.FamilyID)) {
		res.State = StateModelSelectionPending
		res.Decision = match.ModelSelection{
			Outcome:    filtered.Details(),
			Brand:      top.Brand,
			Candidates: r.modelCandidates(ranked),
		}
		return res
	}

	res.State = StateResolved
	res.Decision = filtered
	return res
}

func (r *Resolver) sameBrand(candidates []match.Candidate, brand string) []match.Candidate {
	var out []match.Candidate
	for _, c := range candidates {
		if r.rules.SameBrand(c.Brand, brand) {
			out = append(out, c)
		}
	}
	return out
}

// nearTies counts families within ModelSelectionGap of the top, inclusive,
// including the top itself.
func (r *Resolver) nearTies(ranked match.RankedResult) int {
	best := ranked.BestScore()
	n := 0
	for _, c := range ranked {
		if match.WithinGap(c.BestScore, best, r.cfg.ModelSelectionGap) {
			n++
		}
	}
	return n
}

// modelCandidates returns up to MaxCandidates entries scoring at least
// CandidateThreshold, or the top MinCandidates when too few qualify.
func (r *Resolver) modelCandidates(ranked match.RankedResult) []match.Candidate {
	var out []match.Candidate
	for _, c := range ranked {
		if len(out) == r.cfg.MaxCandidates {
			break
		}
		if c.BestScore >= r.cfg.CandidateThreshold {
			out = append(out, c)
		}
	}
	if len(out) >= r.cfg.MinCandidates {
		return out
	}
	n := r.cfg.MinCandidates
	if n > len(ranked) {
		n = len(ranked)
	}
	return append([]match.Candidate(nil), ranked[:n]...)
}
