package scripthost

import "sync"

// HandleID is an opaque id into the Script Host's object arena. Script-visible
// wrapper objects hold only a HandleID; the underlying Go value never crosses
// into goja directly. This resolves the Cluster/Provider/Deployment cyclic
// object graph without requiring goja to model Go pointer cycles (spec.md §9).
type HandleID uint64

// arena is the host-owned table of live objects, keyed by opaque id. It is
// owned exclusively by the Script Host's single executor goroutine; nothing
// outside that goroutine ever reads or writes it directly.
type arena struct {
    mu      sync.Mutex
    next    uint64
    objects map[HandleID]any
}

func newArena() *arena {
    return &arena{objects: make(map[HandleID]any)}
}

// put stores obj and returns a fresh handle. Ids start at 1 so the zero value
// of HandleID is never valid, matching the teacher's convention of reserving
// zero-value sentinels for "not set".
func (a *arena) put(obj any) HandleID {
    a.mu.Lock()
    defer a.mu.Unlock()
    a.next++
    id := HandleID(a.next)
    a.objects[id] = obj
    return id
}

func (a *arena) get(id HandleID) (any, bool) {
    a.mu.Lock()
    defer a.mu.Unlock()
    obj, ok := a.objects[id]
    return obj, ok
}

func (a *arena) delete(id HandleID) {
    a.mu.Lock()
    defer a.mu.Unlock()
    delete(a.objects, id)
}
