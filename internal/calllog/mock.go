package calllog

import (
	"context"
	"sync"
)

// MockSink records every submission for test assertions.
type MockSink struct {
	mu       sync.Mutex
	records  []Record
	attempts int
	closed   bool
	err      error // if set, Submit returns this error
	failN    int   // remaining submissions that fail with err
	notify   chan Record
}

// NewMockSink creates a new MockSink.
func NewMockSink() *MockSink {
	return &MockSink{notify: make(chan Record, 1024)}
}

func (m *MockSink) Submit(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.err != nil {
		if m.failN < 0 {
			return m.err
		}
		if m.failN > 0 {
			m.failN--
			return m.err
		}
	}
	m.records = append(m.records, rec)
	select {
	case m.notify <- rec:
	default:
	}
	return nil
}

func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Records returns a copy of all successfully submitted records.
func (m *MockSink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := make([]Record, len(m.records))
	copy(recs, m.records)
	return recs
}

// Submitted delivers each successfully submitted record.
func (m *MockSink) Submitted() <-chan Record {
	return m.notify
}

// Attempts returns the number of Submit calls, failed ones included.
func (m *MockSink) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Reset clears all recorded submissions.
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	m.attempts = 0
}

// Closed returns whether Close was called.
func (m *MockSink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SetError causes all subsequent Submit calls to return err.
// Pass nil to clear.
func (m *MockSink) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	m.failN = -1
}

// FailNext causes the next n Submit calls to return err.
func (m *MockSink) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	m.failN = n
}
