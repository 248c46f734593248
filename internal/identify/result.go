package identify

import (
	"encoding/json"
	"fmt"

	"github.com/fpang/item-identify/internal/disambig"
	"github.com/fpang/item-identify/internal/match"
)

// Result is the answer to one scan.
type Result struct {
	// SessionID is empty for decisions that are not persisted (Blocked).
	SessionID string
	Category  string
	ImageHash string
	Decision  match.Decision
	// Disambiguation is nil when the text check did not run.
	Disambiguation *disambig.Result
	// Cached is set when the decision came from the result cache.
	Cached bool
	// Reused is set when an existing session for the same user, category
	// and image was returned.
	Reused bool
}

type resultJSON struct {
	SessionID string `json:"sessionId,omitempty"`
	Category  string `json:"category"`
	ImageHash string `json:"imageHash"`
	match.Envelope
	Disambiguation *disambig.Result `json:"disambiguation,omitempty"`
	Cached         bool             `json:"cached"`
	Reused         bool             `json:"reused"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.Decision == nil {
		return nil, fmt.Errorf("marshal result: nil decision")
	}
	return json.Marshal(resultJSON{
		SessionID:      r.SessionID,
		Category:       r.Category,
		ImageHash:      r.ImageHash,
		Envelope:       match.Wrap(r.Decision),
		Disambiguation: r.Disambiguation,
		Cached:         r.Cached,
		Reused:         r.Reused,
	})
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var raw resultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, err := raw.Envelope.Unwrap()
	if err != nil {
		return err
	}
	if raw.Disambiguation != nil {
		raw.Disambiguation.Decision = d
	}
	*r = Result{
		SessionID:      raw.SessionID,
		Category:       raw.Category,
		ImageHash:      raw.ImageHash,
		Decision:       d,
		Disambiguation: raw.Disambiguation,
		Cached:         raw.Cached,
		Reused:         raw.Reused,
	}
	return nil
}

// cachedScan is the result cache value. It carries no session or user data
// so one entry serves every user scanning the same image.
type cachedScan struct {
	Decision       match.Envelope   `json:"result"`
	Disambiguation *disambig.Result `json:"disambiguation,omitempty"`
}

func encodeScan(d match.Decision, dis *disambig.Result) ([]byte, error) {
	return json.Marshal(cachedScan{Decision: match.Wrap(d), Disambiguation: dis})
}

func decodeScan(data []byte) (match.Decision, *disambig.Result, error) {
	var c cachedScan
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, nil, fmt.Errorf("decode cached scan: %w", err)
	}
	d, err := c.Decision.Unwrap()
	if err != nil {
		return nil, nil, fmt.Errorf("decode cached scan: %w", err)
	}
	if c.Disambiguation != nil {
		c.Disambiguation.Decision = d
	}
	return d, c.Disambiguation, nil
}
