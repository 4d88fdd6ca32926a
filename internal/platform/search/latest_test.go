package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLatest_RunsSingleQuery(t *testing.T) {
	l := NewLatest[string](10 * time.Millisecond)

	got, err := l.Do(context.Background(), "s1", func(context.Context) (string, error) {
		return "para", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "para" {
		t.Errorf("expected para, got %q", got)
	}
	if l.Pending() != 0 {
		t.Errorf("expected no pending sessions, got %d", l.Pending())
	}
}

func TestLatest_NewerQuerySupersedesOlder(t *testing.T) {
	l := NewLatest[string](0)
	started := make(chan struct{})

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = l.Do(context.Background(), "s1", func(ctx context.Context) (string, error) {
			close(started)
			<-ctx.Done()
			return "stale", ctx.Err()
		})
	}()

	<-started
	got, err := l.Do(context.Background(), "s1", func(context.Context) (string, error) {
		return "fresh", nil
	})
	wg.Wait()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "fresh" {
		t.Errorf("expected fresh, got %q", got)
	}
	if !errors.Is(firstErr, ErrSuperseded) {
		t.Errorf("expected ErrSuperseded for the older query, got %v", firstErr)
	}
}

func TestLatest_SlowOlderResultDiscarded(t *testing.T) {
	l := NewLatest[int](0)
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Ignores cancellation and finishes late.
		_, firstErr = l.Do(context.Background(), "s1", func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
	}()

	<-started
	got, err := l.Do(context.Background(), "s1", func(context.Context) (int, error) { return 2, nil })
	close(release)
	wg.Wait()

	if err != nil || got != 2 {
		t.Fatalf("expected 2, got %d (err %v)", got, err)
	}
	if !errors.Is(firstErr, ErrSuperseded) {
		t.Errorf("expected ErrSuperseded, got %v", firstErr)
	}
}

func TestLatest_DebounceSkipsIntermediateQueries(t *testing.T) {
	l := NewLatest[string](50 * time.Millisecond)
	var runs atomic.Int32

	var wg sync.WaitGroup
	results := make([]error, 3)
	for i, q := range []string{"p", "pa", "par"} {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			_, results[i] = l.Do(context.Background(), "s1", func(context.Context) (string, error) {
				runs.Add(1)
				return q, nil
			})
		}(i, q)
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	if runs.Load() != 1 {
		t.Errorf("expected 1 lookup to run, got %d", runs.Load())
	}
	if results[2] != nil {
		t.Errorf("expected last query to succeed, got %v", results[2])
	}
	for _, err := range results[:2] {
		if !errors.Is(err, ErrSuperseded) {
			t.Errorf("expected ErrSuperseded, got %v", err)
		}
	}
}

func TestLatest_SessionsAreIndependent(t *testing.T) {
	l := NewLatest[string](0)
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = l.Do(context.Background(), "s1", func(context.Context) (string, error) {
			close(started)
			<-release
			return "a", nil
		})
	}()

	<-started
	if _, err := l.Do(context.Background(), "s2", func(context.Context) (string, error) { return "b", nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(release)
	wg.Wait()

	if firstErr != nil {
		t.Errorf("expected s1 to be unaffected, got %v", firstErr)
	}
}

func TestLatest_EmptySessionIsNotSuperseded(t *testing.T) {
	l := NewLatest[string](10 * time.Millisecond)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.Do(context.Background(), "", func(context.Context) (string, error) { return "x", nil })
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("call %d: unexpected error: %v", i, err)
		}
	}
}

func TestLatest_ParentCancellation(t *testing.T) {
	l := NewLatest[string](time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Do(ctx, "s1", func(context.Context) (string, error) { return "x", nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
