package match

import (
	"encoding/json"
	"fmt"
)

// Envelope is the flat wire form of a Decision used for JSON responses,
// session persistence and the result cache.
type Envelope struct {
	Kind Kind `json:"decision"`
	Outcome
	AutoSelectedCandidate *Candidate  `json:"autoSelectedCandidate,omitempty"`
	Reason                string      `json:"reason,omitempty"`
	DetectedBrand         string      `json:"detectedBrand,omitempty"`
	BrandAlternatives     []string    `json:"brandAlternatives,omitempty"`
	Brand                 string      `json:"brand,omitempty"`
	NeedsModelSelection   bool        `json:"needsModelSelection,omitempty"`
	ModelCandidates       []Candidate `json:"modelCandidates,omitempty"`
}

// Wrap flattens d into an Envelope.
func Wrap(d Decision) Envelope {
	env := Envelope{Kind: d.Kind(), Outcome: d.Details()}
	switch v := d.(type) {
	case LibraryBuilding, UserRequired:
	case AutoSelected:
		c := v.Candidate
		env.AutoSelectedCandidate = &c
	case NoConfidentMatch:
		env.Reason = v.Reason
	case Blocked:
		env.Reason = v.Reason
		env.DetectedBrand = v.DetectedBrand
		env.BrandAlternatives = v.BrandAlternatives
	case ModelSelection:
		env.Brand = v.Brand
		env.NeedsModelSelection = true
		env.ModelCandidates = v.Candidates
	}
	return env
}

// Unwrap rebuilds the Decision variant named by e.Kind.
func (e Envelope) Unwrap() (Decision, error) {
	switch e.Kind {
	case KindLibraryBuilding:
		return LibraryBuilding{Outcome: e.Outcome}, nil
	case KindAutoSelected:
		if e.AutoSelectedCandidate == nil {
			return nil, fmt.Errorf("auto_selected decision without candidate")
		}
		return AutoSelected{Outcome: e.Outcome, Candidate: *e.AutoSelectedCandidate}, nil
	case KindUserRequired:
		return UserRequired{Outcome: e.Outcome}, nil
	case KindNoConfidentMatch:
		return NoConfidentMatch{Outcome: e.Outcome, Reason: e.Reason}, nil
	case KindBlocked:
		return Blocked{
			Outcome:           e.Outcome,
			Reason:            e.Reason,
			DetectedBrand:     e.DetectedBrand,
			BrandAlternatives: e.BrandAlternatives,
		}, nil
	case KindModelSelection:
		return ModelSelection{Outcome: e.Outcome, Brand: e.Brand, Candidates: e.ModelCandidates}, nil
	default:
		return nil, fmt.Errorf("unknown decision kind %q", e.Kind)
	}
}

// MarshalDecision encodes d as its Envelope JSON.
func MarshalDecision(d Decision) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("marshal decision: nil decision")
	}
	data, err := json.Marshal(Wrap(d))
	if err != nil {
		return nil, fmt.Errorf("marshal decision: %w", err)
	}
	return data, nil
}

// UnmarshalDecision decodes Envelope JSON back into a Decision variant.
func UnmarshalDecision(data []byte) (Decision, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal decision: %w", err)
	}
	return env.Unwrap()
}
