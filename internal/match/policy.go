package match

// scoreEpsilon absorbs float64 noise in threshold comparisons so that, for
// example, 0.82-0.78 satisfies a 0.04 gap requirement.
const scoreEpsilon = 1e-9

// Band is the library readiness band of a category.
type Band string

const (
	BandBuilding Band = "building"
	BandLimited  Band = "limited"
	BandFull     Band = "full"
)

// Policy centralizes the thresholds used to rank and gate candidates.
type Policy struct {
	// HighConfidence auto-selects in any ready library.
	HighConfidence float64
	// MediumConfidence auto-selects in a full library when MinGap and
	// MinSupport also hold.
	MediumConfidence float64
	MinGap           float64
	MinSupport       int
	// UserRequired is the floor for offering the top matches for a manual pick.
	UserRequired float64

	// LibraryBuildingThreshold is the indexed image count below which no
	// decision other than library_building is made.
	LibraryBuildingThreshold int
	// LibraryFullThreshold is the count at which medium-confidence
	// auto-selection is enabled.
	LibraryFullThreshold int

	TopN int
}

// DefaultPolicy returns the production thresholds on the [0,1] similarity scale.
func DefaultPolicy() Policy {
	return Policy{
		HighConfidence:           0.86,
		MediumConfidence:         0.82,
		MinGap:                   0.04,
		MinSupport:               3,
		UserRequired:             0.75,
		LibraryBuildingThreshold: 500,
		LibraryFullThreshold:     1500,
		TopN:                     8,
	}
}

// normalized replaces out-of-range values with defaults.
func (p Policy) normalized() Policy {
	d := DefaultPolicy()

	if p.HighConfidence <= 0 || p.HighConfidence > 1 {
		p.HighConfidence = d.HighConfidence
	}
	if p.MediumConfidence <= 0 || p.MediumConfidence > p.HighConfidence {
		p.MediumConfidence = d.MediumConfidence
	}
	if p.MinGap <= 0 || p.MinGap >= 1 {
		p.MinGap = d.MinGap
	}
	if p.MinSupport <= 0 {
		p.MinSupport = d.MinSupport
	}
	if p.UserRequired <= 0 || p.UserRequired > p.MediumConfidence {
		p.UserRequired = d.UserRequired
	}
	if p.LibraryBuildingThreshold < 0 {
		p.LibraryBuildingThreshold = d.LibraryBuildingThreshold
	}
	if p.LibraryFullThreshold < p.LibraryBuildingThreshold {
		p.LibraryFullThreshold = d.LibraryFullThreshold
		if p.LibraryFullThreshold < p.LibraryBuildingThreshold {
			p.LibraryFullThreshold = p.LibraryBuildingThreshold
		}
	}
	if p.TopN <= 0 {
		p.TopN = d.TopN
	}
	return p
}

// BandFor classifies a category by its indexed, non-bootstrap image count.
func (p Policy) BandFor(imageCount int) Band {
	switch {
	case imageCount < p.LibraryBuildingThreshold:
		return BandBuilding
	case imageCount < p.LibraryFullThreshold:
		return BandLimited
	default:
		return BandFull
	}
}

// AtLeast reports v >= threshold, tolerating float64 noise.
func AtLeast(v, threshold float64) bool {
	return v+scoreEpsilon >= threshold
}

// WithinGap reports whether score is at most gap below best, inclusive and
// tolerating float64 noise.
func WithinGap(score, best, gap float64) bool {
	return best-score <= gap+scoreEpsilon
}
