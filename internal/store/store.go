// Package store persists match sessions and the feedback recorded against
// them.
//
// The DynamoDB implementation uses a single-table design. A session lives
// under PK=SESSION#{sessionId}; sort keys distinguish record types: META for
// the session itself and FEEDBACK for the single feedback row. Uniqueness of
// (userId, category, imageHash) is enforced with a lock item under
// PK=SCAN#{userId}#{category}#{imageHash}, SK=LOCK, written in the same
// transaction as the session. A TTL attribute (expiresAt) removes records
// after SessionRetention.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fpang/item-identify/internal/match"
)

// SessionRetention is how long sessions and feedback are kept.
const SessionRetention = 365 * 24 * time.Hour

// anonymousUser stands in for a missing user id in uniqueness keys.
const anonymousUser = "-"

var (
	// ErrSessionNotFound is returned when a session id does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrFeedbackExists is returned when a session already has feedback.
	ErrFeedbackExists = errors.New("feedback already recorded for session")
)

// Feedback actions.
const (
	ActionConfirmed = "confirmed"
	ActionCorrected = "corrected"
)

// ScanKey is the uniqueness tuple of a session.
type ScanKey struct {
	UserID    string
	Category  string
	ImageHash string
}

func (k ScanKey) String() string {
	user := k.UserID
	if user == "" {
		user = anonymousUser
	}
	return strings.Join([]string{user, k.Category, k.ImageHash}, "#")
}

// SessionStore persists match sessions and feedback. Implementations are
// safe for concurrent use.
//
// Get and Resolve methods return (nil, nil) when the record does not exist.
type SessionStore interface {
	// ResolveSession returns the session already recorded for key.
	ResolveSession(ctx context.Context, key ScanKey) (*MatchSession, error)

	// CreateSession stores a new session unless one already exists for its
	// ScanKey, in which case the existing session is returned with
	// created=false. A missing ID is generated and CreatedAt defaults to now.
	CreateSession(ctx context.Context, session *MatchSession) (stored *MatchSession, created bool, err error)

	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, sessionID string) (*MatchSession, error)

	// PutFeedback records the single feedback row for a session and marks
	// the session resolved. Returns ErrSessionNotFound or ErrFeedbackExists.
	PutFeedback(ctx context.Context, fb *Feedback) error

	// GetFeedback retrieves the feedback for a session.
	GetFeedback(ctx context.Context, sessionID string) (*Feedback, error)
}

// MatchSession is the durable record of one finalized scan. Only feedback
// changes it after creation, by setting ResolvedFamilyID and ResolvedAt.
type MatchSession struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId,omitempty"`
	Category  string         `json:"category"`
	ImageHash string         `json:"imageHash"`
	Decision  match.Envelope `json:"result"`
	// Capture holds camera metadata read from the photo (make, model, date).
	Capture          map[string]string `json:"capture,omitempty"`
	CreatedAt        int64             `json:"createdAt"`
	ResolvedFamilyID string            `json:"resolvedFamilyId,omitempty"`
	ResolvedAt       int64             `json:"resolvedAt,omitempty"`
}

// Key returns the session's uniqueness tuple.
func (s *MatchSession) Key() ScanKey {
	return ScanKey{UserID: s.UserID, Category: s.Category, ImageHash: s.ImageHash}
}

// Result decodes the stored decision.
func (s *MatchSession) Result() (match.Decision, error) {
	d, err := s.Decision.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", s.ID, err)
	}
	return d, nil
}

// Feedback is the user's final choice for a session.
type Feedback struct {
	SessionID       string `json:"sessionId" dynamodbav:"-"`
	ChosenFamilyID  string `json:"chosenFamilyId" dynamodbav:"chosenFamilyId"`
	WasAutoSelected bool   `json:"wasAutoSelected" dynamodbav:"wasAutoSelected"`
	Action          string `json:"action" dynamodbav:"action"`
	UserID          string `json:"userId,omitempty" dynamodbav:"userId,omitempty"`
	Category        string `json:"category,omitempty" dynamodbav:"category,omitempty"`
	CreatedAt       int64  `json:"createdAt" dynamodbav:"createdAt"`
}
