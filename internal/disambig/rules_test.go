package disambig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	if len(rules.Rules()) == 0 {
		t.Fatal("embedded rule table is empty")
	}
	if !rules.ForcesModelSelection("OMEGA", "omega-seamaster-diver-300m") {
		t.Error("expected embedded Omega rule")
	}
	if !rules.SameBrand("LV", "Louis Vuitton") {
		t.Error("expected LV alias")
	}
}

func TestSameBrand(t *testing.T) {
	rules, err := LoadRules([]byte(`{"aliases": {"tag heuer": ["tag", "heuer"]}}`))
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		a, b string
		want bool
	}{
		{"TAG Heuer", "tag-heuer", true},
		{"Heuer", "TAG HEUER", true},
		{"  Rolex ", "rolex", true},
		{"Rolex", "Tudor", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := rules.SameBrand(tt.a, tt.b); got != tt.want {
			t.Errorf("SameBrand(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestLoadRules_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad json", `{`},
		{"missing brand", `{"rules": [{"familyIds": ["a", "b"], "rule": "force_model_selection"}]}`},
		{"unknown rule", `{"rules": [{"brand": "x", "familyIds": ["a", "b"], "rule": "auto"}]}`},
		{"single family", `{"rules": [{"brand": "x", "familyIds": ["a"], "rule": "force_model_selection"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadRules([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	data := `{"rules": [{"brand": "Topps", "familyIds": ["a", "b"], "rule": "force_model_selection"}]}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	rules, err := LoadRulesFile(path)
	if err != nil {
		t.Fatalf("LoadRulesFile: %v", err)
	}
	if !rules.ForcesModelSelection("topps", "b") {
		t.Error("expected forced rule for topps/b")
	}
	if _, err := LoadRulesFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNilRuleTable(t *testing.T) {
	var rules *RuleTable
	if rules.ForcesModelSelection("omega", "x") {
		t.Error("nil table forced model selection")
	}
	if !rules.SameBrand("Omega", "OMEGA") {
		t.Error("nil table should still compare normalized brands")
	}
}
