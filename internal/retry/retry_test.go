package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recordingSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func TestLinear(t *testing.T) {
	backoff := Linear(200 * time.Millisecond)

	for retry, want := range map[int]time.Duration{1: 200 * time.Millisecond, 2: 400 * time.Millisecond, 3: 600 * time.Millisecond} {
		if got := backoff(retry); got != want {
			t.Errorf("Linear(200ms)(%d) = %v, want %v", retry, got, want)
		}
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	var waits []time.Duration
	p := Policy{MaxRetries: 2, Backoff: Linear(200 * time.Millisecond), Sleep: recordingSleep(&waits)}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(waits) != 2 || waits[0] != 200*time.Millisecond || waits[1] != 400*time.Millisecond {
		t.Errorf("unexpected waits: %v", waits)
	}
}

func TestDo_Exhausted(t *testing.T) {
	var waits []time.Duration
	p := Policy{MaxRetries: 2, Backoff: Linear(time.Millisecond), Sleep: recordingSleep(&waits)}
	last := errors.New("attempt 3")

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt == 3 {
			return last
		}
		return errors.New("earlier")
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 || !errors.Is(err, last) {
		t.Errorf("unexpected exhausted error: %+v", exhausted)
	}
	if calls != 3 || len(waits) != 2 {
		t.Errorf("expected 3 calls and 2 waits, got %d and %d", calls, len(waits))
	}
}

func TestDo_NonRetryableStops(t *testing.T) {
	fatal := errors.New("fatal")
	p := Policy{
		MaxRetries: 5,
		Retryable:  func(err error) bool { return !errors.Is(err, fatal) },
		Sleep:      recordingSleep(new([]time.Duration)),
	}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) || calls != 1 {
		t.Fatalf("expected single fatal attempt, got err=%v calls=%d", err, calls)
	}
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxRetries: 3, Backoff: Linear(time.Hour)}

	calls := 0
	err := p.Do(ctx, func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return errors.New("not yet")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected no attempt after cancellation, got %d", calls)
	}
}
