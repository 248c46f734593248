package match

// Kind names a Decision variant. The string values are part of the persisted
// and cached wire format.
type Kind string

const (
	KindLibraryBuilding  Kind = "library_building"
	KindAutoSelected     Kind = "auto_selected"
	KindUserRequired     Kind = "user_required"
	KindNoConfidentMatch Kind = "no_confident_match"
	KindBlocked          Kind = "blocked"
	KindModelSelection   Kind = "model_selection"
)

// Reasons attached to NoConfidentMatch and Blocked.
const (
	ReasonNoCandidates      = "no_candidates"
	ReasonBelowThreshold    = "below_threshold"
	ReasonOCRUnavailable    = "ocr_unavailable"
	ReasonBrandUnreadable   = "brand_unreadable"
	ReasonBrandNotInLibrary = "brand_not_in_library"
)

// Outcome holds the fields every decision carries.
type Outcome struct {
	BestScore         float64      `json:"bestScore"`
	ScoreGap          float64      `json:"scoreGap"`
	TopMatches        RankedResult `json:"topMatches"`
	Band              Band         `json:"band"`
	LibraryImageCount int          `json:"libraryImageCount"`
}

// Details returns the common fields.
func (o Outcome) Details() Outcome { return o }

func (Outcome) isDecision() {}

// Decision is a closed sum type. Use a type switch over the variants below;
// each variant only carries the fields that are valid for it.
type Decision interface {
	Kind() Kind
	Details() Outcome
	isDecision()
}

// LibraryBuilding means the category's reference set is too small to trust.
type LibraryBuilding struct {
	Outcome
}

func (LibraryBuilding) Kind() Kind { return KindLibraryBuilding }

// AutoSelected accepts Candidate without asking the user.
type AutoSelected struct {
	Outcome
	Candidate Candidate
}

func (AutoSelected) Kind() Kind { return KindAutoSelected }

// UserRequired asks the user to pick among TopMatches.
type UserRequired struct {
	Outcome
}

func (UserRequired) Kind() Kind { return KindUserRequired }

// NoConfidentMatch means nothing cleared the user-required floor.
type NoConfidentMatch struct {
	Outcome
	Reason string
}

func (NoConfidentMatch) Kind() Kind { return KindNoConfidentMatch }

// Blocked stops identification until the caller retries or supplies the
// brand manually. BrandAlternatives lists the brands seen in the visual
// matches so the caller can offer them.
type Blocked struct {
	Outcome
	Reason            string
	DetectedBrand     string
	BrandAlternatives []string
}

func (Blocked) Kind() Kind { return KindBlocked }

// ModelSelection holds a confirmed brand whose model could not be separated
// visually. Candidates has between 2 and 5 same-brand entries and
// auto-acceptance is suspended until the caller picks one.
type ModelSelection struct {
	Outcome
	Brand      string
	Candidates []Candidate
}

func (ModelSelection) Kind() Kind { return KindModelSelection }

// Final reports whether a decision may be persisted as a session and cached.
// Blocked scans are retryable and never stored.
func Final(d Decision) bool {
	if d == nil {
		return false
	}
	return d.Kind() != KindBlocked
}

// SelectedFamily returns the family the system accepted on its own, if any.
func SelectedFamily(d Decision) (string, bool) {
	if a, ok := d.(AutoSelected); ok {
		return a.Candidate.FamilyID, true
	}
	return "", false
}
