package service

import (
	"context"
	"sync"
	"time"

	"github.com/cloo-solutions/agentkb/internal/domain"
)

// ConversationStore keeps the bounded per-session turn history.
type ConversationStore interface {
	Append(ctx context.Context, turn domain.ConversationTurn) error
	Recent(ctx context.Context, sessionID string, n int) ([]domain.ConversationTurn, error)
	Clear(ctx context.Context, sessionID string) error
}

type session struct {
	mu       sync.Mutex
	turns    []domain.ConversationTurn
	lastSeen time.Time
}

// MemoryConversationStore holds sessions in process memory. Each session is a
// FIFO of at most maxTurns turns; idle sessions are dropped by Sweep.
type MemoryConversationStore struct {
	maxTurns int
	idleTTL  time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewMemoryConversationStore creates a store with the given cap and idle TTL.
// A zero idleTTL keeps sessions until they are cleared.
func NewMemoryConversationStore(maxTurns int, idleTTL time.Duration) *MemoryConversationStore {
	if maxTurns <= 0 {
		maxTurns = DefaultEngineOptions().MaxTurns
	}
	return &MemoryConversationStore{
		maxTurns: maxTurns,
		idleTTL:  idleTTL,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// session looks up a session. With create set it also adds a missing one and
// marks it seen before the map lock is released, so a concurrent Sweep cannot
// drop it between lookup and use.
func (s *MemoryConversationStore) session(id string, create bool) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		if !create {
			return nil
		}
		sess = &session{}
		s.sessions[id] = sess
	}
	if create {
		sess.mu.Lock()
		sess.lastSeen = s.now()
		sess.mu.Unlock()
	}
	return sess
}

// Append adds turn to its session, evicting the oldest turn when full.
func (s *MemoryConversationStore) Append(_ context.Context, turn domain.ConversationTurn) error {
	if turn.SessionID == "" {
		return domain.ErrMissingRequiredField
	}
	sess := s.session(turn.SessionID, true)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.turns) >= s.maxTurns {
		drop := len(sess.turns) - s.maxTurns + 1
		sess.turns = append(sess.turns[:0], sess.turns[drop:]...)
	}
	sess.turns = append(sess.turns, turn)
	sess.lastSeen = s.now()
	return nil
}

// Recent returns up to n of the newest turns, oldest first. n <= 0 returns all.
func (s *MemoryConversationStore) Recent(_ context.Context, sessionID string, n int) ([]domain.ConversationTurn, error) {
	sess := s.session(sessionID, false)
	if sess == nil {
		return nil, nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	turns := sess.turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]domain.ConversationTurn, len(turns))
	copy(out, turns)
	return out, nil
}

// Clear forgets a session.
func (s *MemoryConversationStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// Sweep drops sessions idle for longer than the idle TTL and returns how many
// were removed.
func (s *MemoryConversationStore) Sweep(context.Context) (int, error) {
	if s.idleTTL <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := sess.lastSeen.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of live sessions.
func (s *MemoryConversationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
