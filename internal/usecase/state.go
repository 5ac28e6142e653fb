package usecase

import (
	"sync"

	"chatsync/internal/domain"
)

// sessionState holds the per-conversation session fields. Everything except
// the durable preferences is reset when the conversation id changes, which is
// done by building a new sessionState.
type sessionState struct {
	mu           sync.Mutex
	id           string
	hydrated     bool
	isTyping     bool
	isGenerating bool
	selected     *domain.Variation
	minted       bool
	// assistantSeq counts assistant messages merged so far; it lets a
	// deferred typing cue notice that a reply already landed.
	assistantSeq uint64
}

func newSessionState(conversationID string) *sessionState {
	return &sessionState{id: conversationID}
}

func (s *sessionState) snapshot() domain.ConversationSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *sessionState) snapshotLocked() domain.ConversationSession {
	out := domain.ConversationSession{
		ConversationID: s.id,
		Hydrated:       s.hydrated,
		IsTyping:       s.isTyping,
		IsGenerating:   s.isGenerating,
		Minted:         s.minted,
	}
	if s.selected != nil {
		v := *s.selected
		out.SelectedVariation = &v
	}
	return out
}

// update applies fn under the lock and reports whether anything changed.
func (s *sessionState) update(fn func(*sessionState)) (domain.ConversationSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.snapshotLocked()
	fn(s)
	after := s.snapshotLocked()
	return after, !sameSession(before, after)
}

func (s *sessionState) applyPreferences(p domain.Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.SelectedVariation != nil {
		v := *p.SelectedVariation
		s.selected = &v
	}
	s.minted = p.Minted
}

func (s *sessionState) currentAssistantSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assistantSeq
}

func sameSession(a, b domain.ConversationSession) bool {
	if a.ConversationID != b.ConversationID ||
		a.Hydrated != b.Hydrated ||
		a.IsTyping != b.IsTyping ||
		a.IsGenerating != b.IsGenerating ||
		a.Minted != b.Minted {
		return false
	}
	switch {
	case a.SelectedVariation == nil && b.SelectedVariation == nil:
		return true
	case a.SelectedVariation == nil || b.SelectedVariation == nil:
		return false
	default:
		return *a.SelectedVariation == *b.SelectedVariation
	}
}
