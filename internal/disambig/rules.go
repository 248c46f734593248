package disambig

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/fpang/item-identify/internal/assets"
)

// RuleForceModelSelection makes every listed family go through model
// selection, however far ahead the top candidate is.
const RuleForceModelSelection = "force_model_selection"

// Rule declares a set of same-brand families that cannot be separated
// visually.
type Rule struct {
	Brand     string   `json:"brand"`
	FamilyIDs []string `json:"familyIds"`
	Rule      string   `json:"rule"`
	Note      string   `json:"note,omitempty"`
}

type ruleFile struct {
	Aliases map[string][]string `json:"aliases"`
	Rules   []Rule              `json:"rules"`
}

// RuleTable answers brand equivalence and forced model-selection questions.
// It is read-only after loading and safe for concurrent use.
type RuleTable struct {
	rules []Rule
	// alias (normalized) -> canonical brand (normalized)
	canonical map[string]string
	// canonical brand -> family id -> forced
	forced map[string]map[string]bool
}

// LoadRules parses a rule table from JSON.
func LoadRules(data []byte) (*RuleTable, error) {
	var f ruleFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse disambiguation rules: %w", err)
	}

	t := &RuleTable{
		canonical: make(map[string]string),
		forced:    make(map[string]map[string]bool),
	}

	for brand, aliases := range f.Aliases {
		canon := normalizeBrand(brand)
		if canon == "" {
			return nil, fmt.Errorf("alias entry with empty brand")
		}
		for _, a := range aliases {
			if n := normalizeBrand(a); n != "" {
				t.canonical[n] = canon
			}
		}
	}

	for i, r := range f.Rules {
		if strings.TrimSpace(r.Brand) == "" {
			return nil, fmt.Errorf("rule %d: brand is required", i)
		}
		if r.Rule != RuleForceModelSelection {
			return nil, fmt.Errorf("rule %d (%s): unknown rule %q", i, r.Brand, r.Rule)
		}
		if len(r.FamilyIDs) < 2 {
			return nil, fmt.Errorf("rule %d (%s): at least 2 family ids required, got %d", i, r.Brand, len(r.FamilyIDs))
		}
		brand := t.Canonical(r.Brand)
		if t.forced[brand] == nil {
			t.forced[brand] = make(map[string]bool)
		}
		for _, id := range r.FamilyIDs {
			t.forced[brand][id] = true
		}
		t.rules = append(t.rules, r)
	}

	return t, nil
}

// LoadRulesFile reads a rule table from path.
func LoadRulesFile(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read disambiguation rules %s: %w", path, err)
	}
	return LoadRules(data)
}

// DefaultRules returns the embedded rule table.
func DefaultRules() *RuleTable {
	t, err := LoadRules(assets.DisambiguationRules)
	if err != nil {
		panic(fmt.Sprintf("embedded disambiguation rules are invalid: %v", err))
	}
	return t
}

// Rules returns the loaded rules in file order.
func (t *RuleTable) Rules() []Rule {
	if t == nil {
		return nil
	}
	return t.rules
}

// Canonical returns the normalized canonical form of brand.
func (t *RuleTable) Canonical(brand string) string {
	n := normalizeBrand(brand)
	if t == nil {
		return n
	}
	if c, ok := t.canonical[n]; ok {
		return c
	}
	return n
}

// SameBrand reports whether a and b name the same maker. Empty brands never
// match.
func (t *RuleTable) SameBrand(a, b string) bool {
	ca, cb := t.Canonical(a), t.Canonical(b)
	return ca != "" && ca == cb
}

// ForcesModelSelection reports whether familyID of brand is in a declared
// indistinguishable set.
func (t *RuleTable) ForcesModelSelection(brand, familyID string) bool {
	if t == nil {
		return false
	}
	return t.forced[t.Canonical(brand)][familyID]
}

// normalizeBrand lowercases s, turns punctuation into spaces and collapses
// whitespace.
func normalizeBrand(s string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '&':
			return r
		default:
			return ' '
		}
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}
