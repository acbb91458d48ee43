package retry

import (
    "context"
    "errors"
    "testing"
    "time"

    "github.com/jeffmoss/disco/pkg/failure"
)

func TestPolicy_Do_SucceedsWithoutRetry(t *testing.T) {
    p := Default()
    calls := 0
    err := p.Do(context.Background(), func(ctx context.Context) error {
        calls++
        return nil
    })
    if err != nil {
        t.Fatalf("Do: %v", err)
    }
    if calls != 1 {
        t.Fatalf("calls = %d, want 1", calls)
    }
}

func TestPolicy_Do_RetriesTransientUntilSuccess(t *testing.T) {
    p := Policy{Base: time.Millisecond, Cap: 10 * time.Millisecond, Jitter: 0, MaxAttempts: 5}
    calls := 0
    err := p.Do(context.Background(), func(ctx context.Context) error {
        calls++
        if calls < 3 {
            return failure.New(failure.Transient, errors.New("throttled"))
        }
        return nil
    })
    if err != nil {
        t.Fatalf("Do: %v", err)
    }
    if calls != 3 {
        t.Fatalf("calls = %d, want 3", calls)
    }
}

func TestPolicy_Do_StopsAfterMaxAttempts(t *testing.T) {
    p := Policy{Base: time.Millisecond, Cap: 10 * time.Millisecond, Jitter: 0, MaxAttempts: 3}
    calls := 0
    err := p.Do(context.Background(), func(ctx context.Context) error {
        calls++
        return failure.New(failure.Transient, errors.New("throttled"))
    })
    if err == nil {
        t.Fatalf("Do: expected error after exhausting attempts")
    }
    if calls != 3 {
        t.Fatalf("calls = %d, want 3", calls)
    }
}

func TestPolicy_Do_NonTransientReturnsImmediately(t *testing.T) {
    p := Default()
    calls := 0
    sentinel := failure.New(failure.Auth, errors.New("bad cert"))
    err := p.Do(context.Background(), func(ctx context.Context) error {
        calls++
        return sentinel
    })
    if !errors.Is(err, sentinel) {
        t.Fatalf("Do: expected sentinel error, got %v", err)
    }
    if calls != 1 {
        t.Fatalf("calls = %d, want 1 (no retry on non-Transient)", calls)
    }
}

func TestPolicy_Do_RespectsContextCancellation(t *testing.T) {
    p := Policy{Base: 50 * time.Millisecond, Cap: time.Second, Jitter: 0, MaxAttempts: 10}
    ctx, cancel := context.WithCancel(context.Background())
    calls := 0
    go func() {
        time.Sleep(5 * time.Millisecond)
        cancel()
    }()
    err := p.Do(ctx, func(ctx context.Context) error {
        calls++
        return failure.New(failure.Transient, errors.New("throttled"))
    })
    if !errors.Is(err, context.Canceled) {
        t.Fatalf("Do: expected context.Canceled, got %v", err)
    }
}
