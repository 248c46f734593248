// Package feedback records the user's final choice for a match session and
// publishes it for downstream library learning.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/item-identify/internal/match"
	"github.com/fpang/item-identify/internal/store"
)

// ErrInvalidFeedback is returned for requests missing a session or family.
var ErrInvalidFeedback = errors.New("invalid feedback")

// Request is one feedback submission.
type Request struct {
	SessionID      string `json:"sessionId"`
	ChosenFamilyID string `json:"chosenFamilyId"`
	// UserID overrides the session's user when set.
	UserID string `json:"userId,omitempty"`
}

// Recorder validates feedback, stores it and emits an ItemFeedback event.
type Recorder struct {
	store store.SessionStore
	sink  EventSink
	now   func() time.Time
}

// NewRecorder creates a Recorder. sink may be nil to skip event delivery.
func NewRecorder(s store.SessionStore, sink EventSink) *Recorder {
	return &Recorder{store: s, sink: sink, now: time.Now}
}

// Action derives confirmed/corrected. A choice matching the auto-selected
// family, or the top match when nothing was auto-selected, is a
// confirmation.
func Action(d match.Decision, chosenFamilyID string) string {
	if family, ok := match.SelectedFamily(d); ok {
		if family == chosenFamilyID {
			return store.ActionConfirmed
		}
		return store.ActionCorrected
	}
	if top, ok := d.Details().TopMatches.Top(); ok && top.FamilyID == chosenFamilyID {
		return store.ActionConfirmed
	}
	return store.ActionCorrected
}

// RecordFeedback stores the single feedback row for a session. It returns
// store.ErrSessionNotFound for unknown sessions and store.ErrFeedbackExists
// when feedback was already given. Event delivery failures are logged and
// do not fail the call.
func (r *Recorder) RecordFeedback(ctx context.Context, req Request) (*store.Feedback, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.ChosenFamilyID = strings.TrimSpace(req.ChosenFamilyID)
	if req.SessionID == "" || req.ChosenFamilyID == "" {
		return nil, fmt.Errorf("%w: sessionId and chosenFamilyId are required", ErrInvalidFeedback)
	}

	session, err := r.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", req.SessionID, err)
	}
	if session == nil {
		return nil, store.ErrSessionNotFound
	}
	decision, err := session.Result()
	if err != nil {
		return nil, err
	}

	autoFamily, wasAuto := match.SelectedFamily(decision)
	userID := req.UserID
	if userID == "" {
		userID = session.UserID
	}
	fb := &store.Feedback{
		SessionID:       session.ID,
		ChosenFamilyID:  req.ChosenFamilyID,
		WasAutoSelected: wasAuto,
		Action:          Action(decision, req.ChosenFamilyID),
		UserID:          userID,
		Category:        session.Category,
		CreatedAt:       r.now().Unix(),
	}

	if err := r.store.PutFeedback(ctx, fb); err != nil {
		return nil, err
	}

	log.Info().
		Str("sessionId", fb.SessionID).
		Str("chosenFamilyId", fb.ChosenFamilyID).
		Str("action", fb.Action).
		Bool("wasAutoSelected", fb.WasAutoSelected).
		Msg("Feedback recorded")

	if r.sink != nil {
		event := Event{
			SessionID:            fb.SessionID,
			UserID:               fb.UserID,
			Category:             fb.Category,
			ImageHash:            session.ImageHash,
			Decision:             decision.Kind(),
			BestScore:            decision.Details().BestScore,
			AutoSelectedFamilyID: autoFamily,
			ChosenFamilyID:       fb.ChosenFamilyID,
			Action:               fb.Action,
			WasAutoSelected:      fb.WasAutoSelected,
			Timestamp:            fb.CreatedAt,
		}
		if err := r.sink.Emit(ctx, event); err != nil {
			log.Warn().Err(err).Str("sessionId", fb.SessionID).Msg("Failed to emit feedback event")
		}
	}
	return fb, nil
}
