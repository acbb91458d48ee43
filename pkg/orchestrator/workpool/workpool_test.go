package workpool

import (
    "context"
    "errors"
    "sync/atomic"
    "testing"
    "time"
)

func TestPool_RunsAllSubmittedTasks(t *testing.T) {
    p := New(2)
    var done atomic.Int32
    for i := 0; i < 10; i++ {
        p.Submit(context.Background(), func(ctx context.Context) error {
            done.Add(1)
            return nil
        })
    }
    if errs := p.Wait(); len(errs) != 0 {
        t.Fatalf("Wait() errs = %v, want none", errs)
    }
    if got := done.Load(); got != 10 {
        t.Fatalf("completed tasks = %d, want 10", got)
    }
}

func TestPool_BoundsConcurrency(t *testing.T) {
    const concurrency = 3
    p := New(concurrency)
    var running, maxRunning atomic.Int32

    for i := 0; i < 12; i++ {
        p.Submit(context.Background(), func(ctx context.Context) error {
            n := running.Add(1)
            for {
                cur := maxRunning.Load()
                if n <= cur || maxRunning.CompareAndSwap(cur, n) {
                    break
                }
            }
            time.Sleep(5 * time.Millisecond)
            running.Add(-1)
            return nil
        })
    }
    p.Wait()

    if got := maxRunning.Load(); got > concurrency {
        t.Fatalf("observed concurrency %d exceeds bound %d", got, concurrency)
    }
}

func TestPool_CollectsTaskErrors(t *testing.T) {
    p := New(2)
    boom := errors.New("boom")
    p.Submit(context.Background(), func(ctx context.Context) error { return nil })
    p.Submit(context.Background(), func(ctx context.Context) error { return boom })

    errs := p.Wait()
    if len(errs) != 1 {
        t.Fatalf("Wait() errs = %v, want exactly one error", errs)
    }
    if !errors.Is(errs[0], boom) {
        t.Fatalf("errs[0] = %v, want boom", errs[0])
    }
}

func TestPool_SubmitRespectsCancellation(t *testing.T) {
    p := New(1)
    release := make(chan struct{})
    p.Submit(context.Background(), func(ctx context.Context) error {
        <-release
        return nil
    })

    ctx, cancel := context.WithCancel(context.Background())
    cancel()

    ran := false
    p.Submit(ctx, func(ctx context.Context) error {
        ran = true
        return nil
    })
    close(release)

    errs := p.Wait()
    if ran {
        t.Fatalf("task ran despite already-cancelled context")
    }

    foundCanceled := false
    for _, err := range errs {
        if errors.Is(err, context.Canceled) {
            foundCanceled = true
        }
    }
    if !foundCanceled {
        t.Fatalf("Wait() errs = %v, want one to be context.Canceled", errs)
    }
}
