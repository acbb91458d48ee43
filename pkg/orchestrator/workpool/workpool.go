// Package workpool bounds the concurrency of fanned-out orchestrator work
// (ssh_install/start_instance across many hosts), generalizing
// original_source/disco-common/src/task_pool/task_pool.rs's actor pool
// (an mpsc channel feeding a tokio::Semaphore-bounded set of concurrent
// task goroutines) into a counting semaphore (a buffered chan struct{}).
// There is no separate queue: Submit blocks its caller while every slot is
// taken.
// Go has no actor-trait equivalent of the Rust Box<dyn Actor>, so a task
// here is simply a context-aware closure.
package workpool

import (
    "context"
    "sync"
)

// Task is one unit of orchestrator work, e.g. "ssh_install onto this host".
type Task func(ctx context.Context) error

// Pool runs submitted Tasks with at most `concurrency` running at once.
// Unlike task_pool.rs's unbounded mpsc channel, nothing is queued: a Submit
// made while all slots are busy waits until one frees up.
type Pool struct {
    sem  chan struct{}
    wg   sync.WaitGroup
    mu   sync.Mutex
    errs []error
}

// New builds a Pool that runs at most concurrency Tasks simultaneously.
func New(concurrency int) *Pool {
    if concurrency <= 0 {
        concurrency = 1
    }
    return &Pool{sem: make(chan struct{}, concurrency)}
}

// Submit launches a task. It returns once a concurrency slot is acquired and
// the task has been launched (not once it completes) — the same
// "process_receiver acquires a permit then spawns process_actor" shape as
// the original's task_pool.rs.
func (p *Pool) Submit(ctx context.Context, t Task) {
    p.wg.Add(1)
    select {
    case p.sem <- struct{}{}:
    case <-ctx.Done():
        p.wg.Done()
        p.recordErr(ctx.Err())
        return
    }
    go func() {
        defer p.wg.Done()
        defer func() { <-p.sem }()
        if err := t(ctx); err != nil {
            p.recordErr(err)
        }
    }()
}

func (p *Pool) recordErr(err error) {
    p.mu.Lock()
    p.errs = append(p.errs, err)
    p.mu.Unlock()
}

// Wait blocks until every submitted task has returned and reports the
// accumulated errors, if any (nil if all tasks succeeded).
func (p *Pool) Wait() []error {
    p.wg.Wait()
    p.mu.Lock()
    defer p.mu.Unlock()
    return p.errs
}
