package task

import "sync"

// Signal is a one-shot abort token shared between the scheduler and a
// running pipeline.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal returns an unraised signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Raise requests an abort. Safe to call more than once.
func (s *Signal) Raise() {
	s.once.Do(func() { close(s.ch) })
}

// Raised reports whether Raise has been called.
func (s *Signal) Raised() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done is closed once the signal is raised.
func (s *Signal) Done() <-chan struct{} { return s.ch }
