// Package events provides the in-memory lifecycle event log. It is
// diagnostic, not authoritative: contents are lost on restart and appends
// never block or fail the refresh work they describe.
package events

import (
	"sync"
	"time"
)

// Kind classifies a lifecycle event.
type Kind string

const (
	KindAttempted Kind = "attempted"
	KindSucceeded Kind = "succeeded"
	KindFailed    Kind = "failed"
	KindExpired   Kind = "expired"
	KindManual    Kind = "manual"
)

// Event is one lifecycle event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	Provider  string    `json:"provider"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message,omitempty"`
}

// Log is a bounded ring of events. When capacity is exceeded the oldest
// entry is evicted. Safe for concurrent use.
type Log struct {
	mu    sync.Mutex
	buf   []Event
	next  int // write cursor
	count int
}

// NewLog creates a Log holding up to capacity entries.
func NewLog(capacity int) *Log {
	if capacity < 1 {
		capacity = 1
	}
	return &Log{
		buf: make([]Event, capacity),
	}
}

// Append records an event, evicting the oldest when full. O(1).
func (l *Log) Append(userID, provider string, kind Kind, message string) {
	ev := Event{
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		Provider:  provider,
		Kind:      kind,
		Message:   message,
	}

	l.mu.Lock()
	l.buf[l.next] = ev
	l.next = (l.next + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
	l.mu.Unlock()
}

// Recent returns up to n events, newest first.
func (l *Log) Recent(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > l.count {
		n = l.count
	}

	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
