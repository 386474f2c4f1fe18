// Package memory keeps the conversation record and run history. Only
// accepted final values are written; raw error text from failed executions
// stays inside the run that produced it.
package memory

import (
	"sync"
	"time"
)

// Roles for conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// RunRecord summarizes one pipeline run for diagnostics.
type RunRecord struct {
	SessionID   string
	Query       string
	Fingerprint string
	Outcome     string
	Duration    time.Duration
	CreatedAt   time.Time
}

// Store is the conversation memory contract.
type Store interface {
	Add(role, content string) error
	History(n int) ([]Message, error)
	Clear() error
	RecordRun(rec RunRecord) error
	Close() error
}

// RingStore is an in-memory store bounded to the most recent messages.
// Run records are kept only in aggregate counts.
type RingStore struct {
	mu       sync.Mutex
	limit    int
	messages []Message
	runs     int
}

// NewRingStore creates a ring store holding up to limit messages.
func NewRingStore(limit int) *RingStore {
	if limit < 1 {
		limit = 100
	}
	return &RingStore{limit: limit}
}

// Add appends a message, evicting the oldest beyond the limit.
func (s *RingStore) Add(role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, Message{Role: role, Content: content, CreatedAt: time.Now()})
	if len(s.messages) > s.limit {
		s.messages = s.messages[len(s.messages)-s.limit:]
	}
	return nil
}

// History returns up to n most recent messages, oldest first.
func (s *RingStore) History(n int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n > len(s.messages) {
		n = len(s.messages)
	}
	out := make([]Message, n)
	copy(out, s.messages[len(s.messages)-n:])
	return out, nil
}

// Clear drops all messages.
func (s *RingStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	return nil
}

// RecordRun counts the run; ring stores keep no per-run detail.
func (s *RingStore) RecordRun(RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	return nil
}

// Runs reports how many runs were recorded.
func (s *RingStore) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Close implements Store.
func (s *RingStore) Close() error { return nil }
