// Package eventstream implements a multi-producer, single-consumer queue of
// typed events that yields a terminal result once the producer is done.
//
// The agent loop owns the producer side and pushes one event at a time; the
// stream handle returned to callers only reads. This mirrors a
// broadcast-style channel with a single consumer: there are no
// back-references from the stream to whatever is producing events.
package eventstream

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push when the stream has already ended.
var ErrClosed = errors.New("eventstream: stream is closed")

// bufferSize bounds how far a producer can run ahead of a slow consumer
// before Push blocks. Chosen generously; callers that need unbounded
// buffering should drain promptly instead of growing this constant.
const bufferSize = 256

// TerminalExtractor inspects a pushed event and, if it recognises a
// terminal event, returns the result value the stream should ultimately
// yield.
type TerminalExtractor[E any, R any] func(event E) (result R, isTerminal bool)

// EventStream is a cloneable handle to a single logical queue of events of
// type E, with an eventual terminal result of type R. Cloning (via Reader)
// produces a new handle that observes the same queue; fan-out to multiple
// independent consumers is not required, only multiple producers.
type EventStream[E any, R any] struct {
	events    chan E
	extractor TerminalExtractor[E, R]

	mu      sync.Mutex
	latched *R

	closeOnce   sync.Once
	resultReady chan struct{}
	result      *R
}

// New constructs a stream. extractor may be nil if no event is ever
// terminal and the result is always supplied explicitly to End.
func New[E any, R any](extractor TerminalExtractor[E, R]) *EventStream[E, R] {
	if extractor == nil {
		extractor = func(E) (R, bool) { var zero R; return zero, false }
	}
	return &EventStream[E, R]{
		events:      make(chan E, bufferSize),
		extractor:   extractor,
		resultReady: make(chan struct{}),
	}
}

// Push enqueues an event. If the extractor recognises event as terminal,
// its result is latched (available later via Result, once End is called).
// Push does not itself close the stream. Returns ErrClosed if End has
// already been called.
func (s *EventStream[E, R]) Push(ctx context.Context, event E) error {
	select {
	case <-s.resultReady:
		return ErrClosed
	default:
	}

	if r, ok := s.extractor(event); ok {
		s.mu.Lock()
		latched := r
		s.latched = &latched
		s.mu.Unlock()
	}

	select {
	case s.events <- event:
		return nil
	case <-s.resultReady:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next awaits the next event, returning ok=false once the queue has been
// ended and fully drained, or if ctx is cancelled first.
func (s *EventStream[E, R]) Next(ctx context.Context) (event E, ok bool) {
	select {
	case event, ok = <-s.events:
		return event, ok
	case <-ctx.Done():
		var zero E
		return zero, false
	}
}

// End closes the queue. If result is supplied, it overrides any latched
// result from Push; otherwise the latched result (if any) becomes the
// stream's terminal result. Idempotent: subsequent calls are no-ops.
func (s *EventStream[E, R]) End(result ...R) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		final := s.latched
		if len(result) > 0 {
			r := result[0]
			final = &r
		}
		s.mu.Unlock()

		s.result = final
		close(s.events)
		close(s.resultReady)
	})
}

// Result awaits final completion and returns the terminal result, or
// ok=false if the stream ended without ever latching or being passed one,
// or if ctx is cancelled first.
func (s *EventStream[E, R]) Result(ctx context.Context) (result R, ok bool) {
	select {
	case <-s.resultReady:
		if s.result == nil {
			var zero R
			return zero, false
		}
		return *s.result, true
	case <-ctx.Done():
		var zero R
		return zero, false
	}
}

// Reader returns a read-only handle observing the same queue. Multiple
// readers may be created, but only one is expected to drive Next/Result in
// the single-consumer model this package implements.
func (s *EventStream[E, R]) Reader() *EventStream[E, R] {
	return s
}
