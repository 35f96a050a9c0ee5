// Package shutdownutil provides a small cooperative-cancellation signal,
// adapted from the *shutdown.Signaller pattern the teacher's schema
// registry encoder leans on for its background refresh loop
// (internal/impl/confluent/processor_schema_registry_encode.go). Here it
// backs the runner's "running flag" (spec.md §4.7, §5): something that can
// be flipped once from any goroutine and observed cheaply from many.
package shutdownutil

import "sync/atomic"

// Signaller is a one-shot, many-reader stop flag with a close channel for
// select-based waiters.
type Signaller struct {
	closed int32
	ch     chan struct{}
}

// New returns a Signaller in the "running" state.
func New() *Signaller {
	return &Signaller{ch: make(chan struct{})}
}

// TriggerStop flips the flag. Safe to call more than once or concurrently.
func (s *Signaller) TriggerStop() {
	if atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		close(s.ch)
	}
}

// IsStopping reports whether TriggerStop has been called.
func (s *Signaller) IsStopping() bool {
	return atomic.LoadInt32(&s.closed) == 1
}

// StopChan returns a channel closed exactly once, when TriggerStop is first
// called. Useful in select alongside a poll timeout.
func (s *Signaller) StopChan() <-chan struct{} {
	return s.ch
}
