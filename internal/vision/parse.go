package vision

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/fpang/item-identify/internal/disambig"
)

// stripMarkdownFences removes a ```json ... ``` wrapper if present.
func stripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}
	end := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.Join(lines[1:end], "\n")
}

// extractObject returns the outermost {...} span of text.
func extractObject(text string) (string, error) {
	start := strings.Index(text, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object found")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return "", fmt.Errorf("no closing } found")
	}
	return text[start : end+1], nil
}

type rawSignals struct {
	Brand      string                 `json:"brand"`
	Model      string                 `json:"model"`
	Attributes map[string]interface{} `json:"attributes"`
	Confident  interface{}            `json:"confident"`
}

// ParseSignals decodes a model response into Signals. Responses wrapped in
// markdown fences or prose are accepted. Attribute values of any JSON type
// are flattened to strings; "confident" may be a bool or a quoted bool.
func ParseSignals(raw string) (*disambig.Signals, error) {
	obj, err := extractObject(stripMarkdownFences(raw))
	if err != nil {
		return nil, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}

	var r rawSignals
	if err := json.Unmarshal([]byte(obj), &r); err != nil {
		preview := obj
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return nil, fmt.Errorf("invalid JSON: %w (text: %s)", err, preview)
	}

	s := &disambig.Signals{
		Brand: strings.TrimSpace(r.Brand),
		Model: strings.TrimSpace(r.Model),
	}
	switch c := r.Confident.(type) {
	case bool:
		s.Confident = c
	case string:
		s.Confident, _ = strconv.ParseBool(strings.TrimSpace(c))
	}
	if len(r.Attributes) > 0 {
		s.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			switch val := v.(type) {
			case nil:
				continue
			case string:
				if val = strings.TrimSpace(val); val != "" {
					s.Attributes[strings.ToLower(k)] = val
				}
			default:
				s.Attributes[strings.ToLower(k)] = fmt.Sprint(val)
			}
		}
	}
	return s, nil
}
