package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process SessionStore for the CLI and tests. Sessions
// are held by value; callers must not mutate the Capture map or decision
// slices of a returned session.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]MatchSession
	byKey    map[ScanKey]string
	feedback map[string]Feedback
	now      func() time.Time
}

var _ SessionStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]MatchSession),
		byKey:    make(map[ScanKey]string),
		feedback: make(map[string]Feedback),
		now:      time.Now,
	}
}

func (m *MemoryStore) ResolveSession(_ context.Context, key ScanKey) (*MatchSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byKey[key]
	if !ok {
		return nil, nil
	}
	s := m.sessions[id]
	return &s, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, session *MatchSession) (*MatchSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := session.Key()
	if id, ok := m.byKey[key]; ok {
		existing := m.sessions[id]
		return &existing, false, nil
	}

	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if _, ok := m.sessions[session.ID]; ok {
		return nil, false, fmt.Errorf("create session %s: id already in use", session.ID)
	}
	if session.CreatedAt == 0 {
		session.CreatedAt = m.now().Unix()
	}

	m.sessions[session.ID] = *session
	m.byKey[key] = session.ID
	stored := *session
	return &stored, true, nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*MatchSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) PutFeedback(_ context.Context, fb *Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[fb.SessionID]
	if !ok {
		return fmt.Errorf("put feedback %s: %w", fb.SessionID, ErrSessionNotFound)
	}
	if _, ok := m.feedback[fb.SessionID]; ok {
		return fmt.Errorf("put feedback %s: %w", fb.SessionID, ErrFeedbackExists)
	}
	if fb.CreatedAt == 0 {
		fb.CreatedAt = m.now().Unix()
	}

	m.feedback[fb.SessionID] = *fb
	s.ResolvedFamilyID = fb.ChosenFamilyID
	s.ResolvedAt = fb.CreatedAt
	m.sessions[fb.SessionID] = s
	return nil
}

func (m *MemoryStore) GetFeedback(_ context.Context, sessionID string) (*Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fb, ok := m.feedback[sessionID]
	if !ok {
		return nil, nil
	}
	return &fb, nil
}
