package services

import (
	"log"
	"sync"
	"time"

	"kalem/internal/models"
)

// Session holds one actor's ongoing conversation. All mutation goes through
// SessionStore methods; callers must treat the fields as read-only.
type Session struct {
	ActorID        string
	Messages       []models.ChatMessage
	Language       string
	UserTurns      int // user messages appended so far, drives language re-detection
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// SessionStore is the process-wide map from actor ID to conversation state.
// Sessions are not durable: a restart drops all of them. The store owns a
// background sweeper that evicts idle sessions; Sweep can also be invoked
// manually with an explicit clock.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	historyCap      int
	idleTTL         time.Duration
	sweepInterval   time.Duration
	defaultLanguage string

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSessionStore creates a session store with the given retention settings.
func NewSessionStore(historyCap int, idleTTL, sweepInterval time.Duration, defaultLanguage string) *SessionStore {
	return &SessionStore{
		sessions:        make(map[string]*Session),
		historyCap:      historyCap,
		idleTTL:         idleTTL,
		sweepInterval:   sweepInterval,
		defaultLanguage: defaultLanguage,
		stopCh:          make(chan struct{}),
	}
}

// GetOrCreate returns the actor's session, creating an empty one on first
// contact. The returned bool is true when a new session was created.
// Creation is atomic: concurrent first contact from the same actor yields
// exactly one session.
func (s *SessionStore) GetOrCreate(actorID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[actorID]; ok {
		return session, false
	}

	now := time.Now()
	session := &Session{
		ActorID:        actorID,
		Messages:       []models.ChatMessage{},
		Language:       s.defaultLanguage,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.sessions[actorID] = session
	return session, true
}

// Touch updates the session's last activity timestamp to now.
func (s *SessionStore) Touch(actorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[actorID]; ok {
		session.LastActivityAt = time.Now()
	}
}

// AppendTurn appends a message to the session, then enforces the history cap
// by trimming from the oldest end. Appending to a missing session is a no-op
// (the session may have been cleared or swept mid-flight).
func (s *SessionStore) AppendTurn(actorID, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[actorID]
	if !ok {
		return
	}

	session.Messages = append(session.Messages, models.ChatMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	if role == models.RoleUser {
		session.UserTurns++
	}

	if overflow := len(session.Messages) - s.historyCap; overflow > 0 {
		session.Messages = session.Messages[overflow:]
	}
	session.LastActivityAt = time.Now()
}

// RecentMessages returns a copy of the last n messages of the session,
// oldest first. Returns nil for an unknown actor.
func (s *SessionStore) RecentMessages(actorID string, n int) []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[actorID]
	if !ok {
		return nil
	}

	start := len(session.Messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]models.ChatMessage, len(session.Messages)-start)
	copy(out, session.Messages[start:])
	return out
}

// Snapshot returns the session's sticky language, user turn count and message
// count without exposing the message slice.
func (s *SessionStore) Snapshot(actorID string) (language string, userTurns int, messageCount int, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, found := s.sessions[actorID]
	if !found {
		return s.defaultLanguage, 0, 0, false
	}
	return session.Language, session.UserTurns, len(session.Messages), true
}

// SetLanguage updates the session's sticky language classification.
func (s *SessionStore) SetLanguage(actorID, language string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[actorID]; ok {
		session.Language = language
	}
}

// Clear removes the actor's session if present. Idempotent.
func (s *SessionStore) Clear(actorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, actorID)
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sessions)
}

// Sweep removes every session idle for longer than the idle TTL relative to
// now, and returns the number removed. Safe to call manually with an
// injected clock.
func (s *SessionStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for actorID, session := range s.sessions {
		if now.Sub(session.LastActivityAt) > s.idleTTL {
			delete(s.sessions, actorID)
			removed++
		}
	}

	if removed > 0 {
		log.Printf("🧹 [SESSION-STORE] Swept %d idle chat sessions (%d remaining)", removed, len(s.sessions))
	}
	return removed
}

// StartSweeper launches the periodic idle-session sweep. Call Stop on
// shutdown to stop it.
func (s *SessionStore) StartSweeper() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Sweep(time.Now())
			case <-s.stopCh:
				return
			}
		}
	}()

	log.Printf("⏰ [SESSION-STORE] Idle sweep every %v (TTL %v)", s.sweepInterval, s.idleTTL)
}

// Stop stops the background sweeper. Safe to call more than once.
func (s *SessionStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}
