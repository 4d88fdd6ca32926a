// Package search keeps type-ahead lookups in order: per session only the
// latest query is allowed to deliver results.
package search

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSuperseded is returned to a query that a newer query of the same
// session replaced before it finished.
var ErrSuperseded = errors.New("search superseded by a newer query")

type inflight struct {
	seq    uint64
	cancel context.CancelFunc
}

// Latest debounces and sequences lookups per session key. A new call for a
// session cancels the previous one, so results never arrive out of order.
type Latest[T any] struct {
	delay time.Duration

	mu       sync.Mutex
	seq      uint64
	sessions map[string]inflight
}

// NewLatest creates a Latest that waits delay before running each lookup.
func NewLatest[T any](delay time.Duration) *Latest[T] {
	return &Latest[T]{delay: delay, sessions: make(map[string]inflight)}
}

// Do runs fn for session once the debounce delay has passed without a newer
// call. An empty session is still debounced but never superseded.
func (l *Latest[T]) Do(ctx context.Context, session string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if session == "" {
		if err := l.wait(ctx); err != nil {
			return zero, err
		}
		return fn(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	l.seq++
	mine := l.seq
	if prev, ok := l.sessions[session]; ok {
		prev.cancel()
	}
	l.sessions[session] = inflight{seq: mine, cancel: cancel}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		if cur, ok := l.sessions[session]; ok && cur.seq == mine {
			delete(l.sessions, session)
		}
		l.mu.Unlock()
	}()

	if err := l.wait(ctx); err != nil {
		return zero, l.cause(ctx, session, mine)
	}

	res, err := fn(ctx)
	if !l.current(session, mine) {
		return zero, ErrSuperseded
	}
	if err != nil {
		return zero, err
	}
	return res, nil
}

func (l *Latest[T]) wait(ctx context.Context) error {
	if l.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(l.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Latest[T]) current(session string, seq uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.sessions[session]
	return ok && cur.seq == seq
}

func (l *Latest[T]) cause(ctx context.Context, session string, seq uint64) error {
	if !l.current(session, seq) {
		return ErrSuperseded
	}
	return ctx.Err()
}

// Pending returns the number of sessions with a lookup in flight.
func (l *Latest[T]) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}
