package vision

import "testing"

func TestParseSignals(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		wantBrand     string
		wantConfident bool
		wantAttrs     map[string]string
	}{
		{
			name:          "plain",
			raw:           `{"brand":"Rolex","model":"Submariner","attributes":{},"confident":true}`,
			wantBrand:     "Rolex",
			wantConfident: true,
		},
		{
			name:          "fenced",
			raw:           "```json\n{\"brand\": \"Topps\", \"confident\": true}\n```",
			wantBrand:     "Topps",
			wantConfident: true,
		},
		{
			name:      "prose around object",
			raw:       `Here is the result: {"brand": " Louis Vuitton ", "confident": false} hope it helps`,
			wantBrand: "Louis Vuitton",
		},
		{
			name:          "quoted bool and mixed attributes",
			raw:           `{"brand":"Seiko","confident":"true","attributes":{"Size_MM":42,"bezel":" rotating ","strap":null,"lume":true}}`,
			wantBrand:     "Seiko",
			wantConfident: true,
			wantAttrs:     map[string]string{"size_mm": "42", "bezel": "rotating", "lume": "true"},
		},
		{
			name: "empty brand",
			raw:  `{"brand":"","model":"","attributes":{},"confident":false}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSignals(tt.raw)
			if err != nil {
				t.Fatalf("ParseSignals: %v", err)
			}
			if s.Brand != tt.wantBrand || s.Confident != tt.wantConfident {
				t.Errorf("got brand=%q confident=%v", s.Brand, s.Confident)
			}
			if len(s.Attributes) != len(tt.wantAttrs) {
				t.Errorf("attributes = %v, want %v", s.Attributes, tt.wantAttrs)
			}
			for k, v := range tt.wantAttrs {
				if s.Attributes[k] != v {
					t.Errorf("attributes[%s] = %q, want %q", k, s.Attributes[k], v)
				}
			}
		})
	}
}

func TestParseSignals_Invalid(t *testing.T) {
	for _, raw := range []string{"", "no json here", `{"brand": }`, "} backwards {"} {
		if _, err := ParseSignals(raw); err == nil {
			t.Errorf("ParseSignals(%q) returned nil error", raw)
		}
	}
}
