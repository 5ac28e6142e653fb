package messagestore

import (
	"slices"
	"sync"

	"chatsync/internal/domain"
)

// Outcome describes what a merge did to the log.
type Outcome int

const (
	Unchanged Outcome = iota
	Appended
	Replaced
)

// Store is the ordered, deduplicated message log of one conversation.
// Live traffic is only ever appended; the sole in-place edit is the
// replacement of an optimistic placeholder by its server echo.
type Store struct {
	mu       sync.RWMutex
	messages []domain.Message
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// Merge folds incoming into the log and reports whether the log changed.
func (s *Store) Merge(incoming domain.Message) bool {
	return s.MergeOutcome(incoming) != Unchanged
}

// MergeOutcome is Merge with the kind of change spelled out.
//
// An entry with the same id wins over everything. Otherwise an entry whose
// client id (or id) equals the incoming correlation id is replaced in place
// and stops being optimistic. Anything else is appended.
func (s *Store) MergeOutcome(incoming domain.Message) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if incoming.ID != "" && s.indexByID(incoming.ID) >= 0 {
		return Unchanged
	}

	if corr := incoming.ClientID; corr != "" {
		if i := s.indexByCorrelation(corr); i >= 0 {
			next := incoming
			next.IsOptimistic = false
			if s.messages[i].Equal(next) {
				return Unchanged
			}
			s.messages[i] = next
			return Replaced
		}
	}

	s.messages = append(s.messages, incoming)
	return Appended
}

// RemoveByClientID drops the entry created with clientID, if any.
func (s *Store) RemoveByClientID(clientID string) bool {
	if clientID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages {
		if m.ClientID == clientID {
			s.messages = slices.Delete(s.messages, i, i+1)
			return true
		}
	}
	return false
}

// Len returns the number of messages in the log.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Snapshot returns a copy of the log in display order.
func (s *Store) Snapshot() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Last returns the newest message.
func (s *Store) Last() (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return domain.Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// HasOptimistic reports whether any placeholder is still awaiting its echo.
func (s *Store) HasOptimistic() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.ContainsFunc(s.messages, func(m domain.Message) bool { return m.IsOptimistic })
}

func (s *Store) indexByID(id string) int {
	return slices.IndexFunc(s.messages, func(m domain.Message) bool { return m.ID == id })
}

func (s *Store) indexByCorrelation(corr string) int {
	return slices.IndexFunc(s.messages, func(m domain.Message) bool {
		return m.ClientID == corr || m.ID == corr
	})
}
