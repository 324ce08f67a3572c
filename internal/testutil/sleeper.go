package testutil

import (
	"sync"
	"time"
)

// RecordingSleeper records settling delays instead of sleeping.
//
// Implements engine.Sleeper. Thread-safe via internal mutex.
type RecordingSleeper struct {
	mu    sync.Mutex
	calls []time.Duration
}

// NewRecordingSleeper creates an empty recording sleeper.
func NewRecordingSleeper() *RecordingSleeper {
	return &RecordingSleeper{}
}

// Sleep records d and returns immediately.
func (s *RecordingSleeper) Sleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, d)
}

// Calls returns a copy of every recorded delay in order.
func (s *RecordingSleeper) Calls() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.calls...)
}

// Total returns the sum of every recorded delay.
func (s *RecordingSleeper) Total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, d := range s.calls {
		total += d
	}
	return total
}

// Reset forgets every recorded delay.
func (s *RecordingSleeper) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}
