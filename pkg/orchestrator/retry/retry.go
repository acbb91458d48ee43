// Package retry implements the orchestrator's cloud-provider call retry
// policy (spec.md §4.6): exponential backoff with jitter on transient
// errors, immediate surfacing of everything else. original_source's AWS
// calls (provider/aws.rs) have no retry/backoff at all — spec.md §7
// classifies throttling as Transient and requires retry, so this package is
// new, shaped after the teacher's gRPC-dial backoff
// (pkg/transport/grpc/client.go's backoff.Config{BaseDelay, MaxDelay,
// Jitter}) rather than lifted from the original.
package retry

import (
    "context"
    "math/rand"
    "time"

    "github.com/jeffmoss/disco/pkg/failure"
)

// Policy is the base/cap/jitter/attempt-budget shape spec.md §4.6 names for
// cloud-provider calls: base 500ms, cap 30s, max 6 attempts.
type Policy struct {
    Base        time.Duration
    Cap         time.Duration
    Jitter      float64
    MaxAttempts int
}

// Default is the spec.md §4.6 policy.
func Default() Policy {
    return Policy{Base: 500 * time.Millisecond, Cap: 30 * time.Second, Jitter: 0.25, MaxAttempts: 6}
}

// Do runs fn, retrying with exponential backoff while fn returns a
// Transient *failure.Error, up to MaxAttempts. A non-Transient
// *failure.Error is returned at once, without a retry. A plain error not
// classified via pkg/failure counts as Transient (KindOf's default) and is
// retried — callers that want immediate surfacing of a non-retriable error
// should wrap it with a non-Transient *failure.Error before returning.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
    var lastErr error
    delay := p.Base
    for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
        err := fn(ctx)
        if err == nil {
            return nil
        }
        lastErr = err
        if failure.KindOf(err) != failure.Transient {
            return err
        }
        if attempt == p.MaxAttempts {
            break
        }
        wait := withJitter(delay, p.Jitter)
        select {
        case <-ctx.Done():
            return ctx.Err()
        case <-time.After(wait):
        }
        delay *= 2
        if delay > p.Cap {
            delay = p.Cap
        }
    }
    return lastErr
}

func withJitter(d time.Duration, jitter float64) time.Duration {
    if jitter <= 0 {
        return d
    }
    delta := float64(d) * jitter
    offset := (rand.Float64()*2 - 1) * delta
    return time.Duration(float64(d) + offset)
}
