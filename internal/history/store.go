package history

import (
	"sync"

	"github.com/Tyrowin/hearth/internal/metrics"
)

// DefaultLimit is the number of messages kept.
const DefaultLimit = 50

// Store is the bounded, ordered history buffer. It is safe for concurrent
// use.
type Store struct {
	mu       sync.Mutex
	messages []Message
	limit    int
	onAppend func()
}

// NewStore returns an empty Store holding at most limit messages.
func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{limit: limit, messages: make([]Message, 0, limit)}
}

// OnAppend registers fn to run after every Append, outside the lock.
func (s *Store) OnAppend(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAppend = fn
}

// Append adds msg at the tail, evicting from the head past the limit.
func (s *Store) Append(msg Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	if over := len(s.messages) - s.limit; over > 0 {
		s.messages = append(s.messages[:0], s.messages[over:]...)
	}
	n := len(s.messages)
	hook := s.onAppend
	s.mu.Unlock()

	metrics.HistorySize.Set(float64(n))
	if hook != nil {
		hook()
	}
}

// All returns a copy of the history, oldest first.
func (s *Store) All() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// replace swaps in msgs, keeping only the newest limit entries.
func (s *Store) replace(msgs []Message) {
	if over := len(msgs) - s.limit; over > 0 {
		msgs = msgs[over:]
	}

	s.mu.Lock()
	s.messages = append(s.messages[:0], msgs...)
	n := len(s.messages)
	s.mu.Unlock()

	metrics.HistorySize.Set(float64(n))
}
