package kvstore

import "testing"

func TestStore_SetGet(t *testing.T) {
    s := New()
    s.Set("k", "v", 1)
    got, ok := s.Get("k")
    if !ok || got != "v" {
        t.Fatalf("Get(k) = %q, %v; want v, true", got, ok)
    }
}

func TestStore_Delete(t *testing.T) {
    s := New()
    s.Set("k", "v", 1)
    s.Delete("k", 2)
    if _, ok := s.Get("k"); ok {
        t.Fatalf("key present after Delete")
    }
}

func TestStore_Watch_ReceivesSetAndDelete(t *testing.T) {
    s := New()
    stop := make(chan struct{})
    defer close(stop)
    ch := s.Watch("k", stop)

    s.Set("k", "v1", 1)
    ev := <-ch
    if ev.Value != "v1" || ev.Deleted || ev.Index != 1 {
        t.Fatalf("unexpected first event: %+v", ev)
    }

    s.Delete("k", 2)
    ev = <-ch
    if !ev.Deleted || ev.Index != 2 {
        t.Fatalf("unexpected second event: %+v", ev)
    }
}

func TestStore_Watch_UnrelatedKeyIsIgnored(t *testing.T) {
    s := New()
    stop := make(chan struct{})
    defer close(stop)
    ch := s.Watch("k", stop)

    s.Set("other", "v", 1)
    select {
    case ev := <-ch:
        t.Fatalf("unexpected event for unrelated key: %+v", ev)
    default:
    }
}

func TestStore_Watch_ClosesOnStop(t *testing.T) {
    s := New()
    stop := make(chan struct{})
    ch := s.Watch("k", stop)
    close(stop)

    for range ch {
    }
}

func TestStore_SnapshotRestore(t *testing.T) {
    s := New()
    s.Set("a", "1", 1)
    s.Set("b", "2", 2)

    blob, err := s.Snapshot()
    if err != nil {
        t.Fatalf("Snapshot: %v", err)
    }

    restored := New()
    if err := restored.Restore(blob); err != nil {
        t.Fatalf("Restore: %v", err)
    }

    for k, want := range map[string]string{"a": "1", "b": "2"} {
        got, ok := restored.Get(k)
        if !ok || got != want {
            t.Fatalf("restored.Get(%s) = %q, %v; want %s, true", k, got, ok, want)
        }
    }
}

func TestStore_RestoreReplacesExistingData(t *testing.T) {
    s := New()
    s.Set("stale", "value", 1)

    other := New()
    other.Set("fresh", "value", 1)
    blob, err := other.Snapshot()
    if err != nil {
        t.Fatalf("Snapshot: %v", err)
    }

    if err := s.Restore(blob); err != nil {
        t.Fatalf("Restore: %v", err)
    }
    if _, ok := s.Get("stale"); ok {
        t.Fatalf("stale key survived Restore")
    }
    if v, ok := s.Get("fresh"); !ok || v != "value" {
        t.Fatalf("Get(fresh) = %q, %v; want value, true", v, ok)
    }
}
