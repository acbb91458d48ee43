// Package kvstore is the state machine's deterministic key-value map: a
// mapping from string key to string value with per-key watch subscriptions,
// applied strictly in log-index order by the FSM above it.
package kvstore

import (
    "encoding/json"
    "sort"
    "sync"
)

// ValueChange is delivered to a Watch subscriber for each commit that sets
// or deletes the watched key, in commit order. A subscriber whose 16-entry
// buffer is full when a change is applied does not receive that change
// (see notify).
type ValueChange struct {
    Key     string
    Value   string
    Deleted bool
    Index   uint64
}

// Store is the single-writer/multi-reader KV map. The apply loop is the only
// writer; reads use a snapshot view for linearizability (the read-index
// barrier that makes that view safe lives one layer up, in pkg/raftnode).
type Store struct {
    mu       sync.RWMutex
    data     map[string]string
    watchers map[string][]chan ValueChange
}

func New() *Store {
    return &Store{
        data:     make(map[string]string),
        watchers: make(map[string][]chan ValueChange),
    }
}

// Set mutates the map and notifies watchers of key, in the order apply is
// called (the FSM guarantees that order matches commit order).
func (s *Store) Set(key, value string, index uint64) {
    s.mu.Lock()
    s.data[key] = value
    subs := append([]chan ValueChange(nil), s.watchers[key]...)
    s.mu.Unlock()
    s.notify(subs, ValueChange{Key: key, Value: value, Index: index})
}

// Delete removes key and notifies watchers.
func (s *Store) Delete(key string, index uint64) {
    s.mu.Lock()
    delete(s.data, key)
    subs := append([]chan ValueChange(nil), s.watchers[key]...)
    s.mu.Unlock()
    s.notify(subs, ValueChange{Key: key, Deleted: true, Index: index})
}

func (s *Store) notify(subs []chan ValueChange, ev ValueChange) {
    for _, ch := range subs {
        select {
        case ch <- ev:
        default:
            // slow watcher; drop rather than block the apply loop.
        }
    }
}

// Get returns the current value for key. Callers needing a linearizable read
// must first clear the leader's read-index barrier.
func (s *Store) Get(key string) (string, bool) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    v, ok := s.data[key]
    return v, ok
}

// Watch subscribes to every change to key committed after subscription.
// The returned channel is closed, and the subscription removed, when stop
// fires.
func (s *Store) Watch(key string, stop <-chan struct{}) <-chan ValueChange {
    ch := make(chan ValueChange, 16)
    s.mu.Lock()
    s.watchers[key] = append(s.watchers[key], ch)
    s.mu.Unlock()

    go func() {
        <-stop
        s.mu.Lock()
        subs := s.watchers[key]
        for i, c := range subs {
            if c == ch {
                s.watchers[key] = append(subs[:i], subs[i+1:]...)
                break
            }
        }
        s.mu.Unlock()
        close(ch)
    }()
    return ch
}

type snapshotDoc struct {
    Version int               `json:"version"`
    Entries map[string]string `json:"entries"`
}

// Snapshot serializes the map as sorted-key JSON for deterministic byte
// output across replicas (spec's snapshot-round-trip property).
func (s *Store) Snapshot() ([]byte, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    keys := make([]string, 0, len(s.data))
    for k := range s.data {
        keys = append(keys, k)
    }
    sort.Strings(keys)
    entries := make(map[string]string, len(keys))
    for _, k := range keys {
        entries[k] = s.data[k]
    }
    return json.Marshal(snapshotDoc{Version: 1, Entries: entries})
}

// Restore replaces the map wholesale from a prior Snapshot. Existing watch
// subscriptions are left intact; restoring does not itself fire watch
// notifications (it is not a commit, it is the replay of a prefix of
// commits the watcher was never meant to observe mid-restore).
func (s *Store) Restore(buf []byte) error {
    var doc snapshotDoc
    if err := json.Unmarshal(buf, &doc); err != nil {
        return err
    }
    data := make(map[string]string, len(doc.Entries))
    for k, v := range doc.Entries {
        data[k] = v
    }
    s.mu.Lock()
    s.data = data
    s.mu.Unlock()
    return nil
}
