// Package category holds the static per-category profile table: result cache
// TTL tier and whether a scan needs printed-text confirmation.
package category

import (
	"sort"
	"strings"
	"time"
)

// All is the pseudo-category used when a scan searches every category.
const All = "all"

// Tier groups categories by how quickly market data for them goes stale.
type Tier string

const (
	TierFast     Tier = "fast"
	TierModerate Tier = "moderate"
	TierStable   Tier = "stable"
)

// TTL returns the result cache lifetime for a tier.
func (t Tier) TTL() time.Duration {
	switch t {
	case TierFast:
		return 3 * time.Hour
	case TierStable:
		return 24 * time.Hour
	default:
		return 12 * time.Hour
	}
}

// Profile describes one category.
type Profile struct {
	Name string
	Tier Tier
	// RequiresTextConfirmation marks categories whose families differ mainly
	// in printed brand or model text. A scan in such a category is blocked
	// when the brand cannot be read.
	RequiresTextConfirmation bool
	// SpeculativeOCR starts signal extraction in parallel with the embedding
	// call instead of after the decision.
	SpeculativeOCR bool
}

var profiles = map[string]Profile{
	"watches":       {Name: "watches", Tier: TierStable, RequiresTextConfirmation: true, SpeculativeOCR: true},
	"handbags":      {Name: "handbags", Tier: TierModerate, RequiresTextConfirmation: true, SpeculativeOCR: true},
	"trading_cards": {Name: "trading_cards", Tier: TierFast, RequiresTextConfirmation: true, SpeculativeOCR: true},
	"shoes":         {Name: "shoes", Tier: TierStable},
	"vintage":       {Name: "vintage", Tier: TierStable},
	"antiques":      {Name: "antiques", Tier: TierStable},
	"jewelry":       {Name: "jewelry", Tier: TierModerate},
	"electronics":   {Name: "electronics", Tier: TierModerate},
	"toys":          {Name: "toys", Tier: TierModerate},
	"apparel":       {Name: "apparel", Tier: TierModerate},
}

var aliases = map[string]string{
	"watch":            "watches",
	"timepieces":       "watches",
	"bags":             "handbags",
	"purses":           "handbags",
	"cards":            "trading_cards",
	"sports_cards":     "trading_cards",
	"pokemon_cards":    "trading_cards",
	"sneakers":         "shoes",
	"footwear":         "shoes",
	"antique":          "antiques",
	"jewellery":        "jewelry",
	"clothing":         "apparel",
	"consumer_tech":    "electronics",
	"collectible_toys": "toys",
}

// Normalize lowercases name, folds spaces and dashes to underscores and
// resolves aliases. An empty name becomes All.
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer(" ", "_", "-", "_").Replace(n)
	if n == "" {
		return All
	}
	if canonical, ok := aliases[n]; ok {
		return canonical
	}
	return n
}

// Lookup returns the profile for name. Unknown categories get a moderate,
// visual-only profile and ok=false.
func Lookup(name string) (Profile, bool) {
	n := Normalize(name)
	if p, ok := profiles[n]; ok {
		return p, true
	}
	return Profile{Name: n, Tier: TierModerate}, false
}

// CacheTTL is the result cache lifetime for a category. All uses the
// moderate tier.
func CacheTTL(name string) time.Duration {
	p, _ := Lookup(name)
	return p.Tier.TTL()
}

// Known returns the names of all profiled categories, sorted.
func Known() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
