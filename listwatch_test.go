package oadalist_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	oadalist "github.com/trellisfw/oada-list-lib-go"
)

// fakeConn is a minimal in-memory Conn sufficient to drive the coordinator
// end to end: HEAD/GET/PUT against a single in-memory store, and a Watch
// channel the test feeds batches into directly.
type fakeConn struct {
	mu    sync.Mutex
	store map[string]any

	watchCh   chan oadalist.ChangeBatch
	watchedAt int64
}

func newFakeConn(listPath string, listBody any) *fakeConn {
	return &fakeConn{
		store:   map[string]any{listPath: listBody},
		watchCh: make(chan oadalist.ChangeBatch, 16),
	}
}

func (f *fakeConn) Head(ctx context.Context, path string) (*oadalist.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.store[path]; !ok {
		return nil, &oadalist.StatusError{Path: path, Status: 404}
	}
	return &oadalist.Response{}, nil
}

func (f *fakeConn) Get(ctx context.Context, req oadalist.GetRequest) (*oadalist.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.store[req.Path]
	if !ok {
		return nil, &oadalist.StatusError{Path: req.Path, Status: 404}
	}
	return &oadalist.Response{Data: data}, nil
}

func (f *fakeConn) Put(ctx context.Context, req oadalist.PutRequest) (*oadalist.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[req.Path] = req.Data
	return &oadalist.Response{}, nil
}

func (f *fakeConn) Post(ctx context.Context, req oadalist.PostRequest) (*oadalist.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("resources/%d", len(f.store))
	f.store[id] = req.Data
	return &oadalist.Response{Headers: map[string]string{"Location": "/" + id}}, nil
}

func (f *fakeConn) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.store, path)
	return nil
}

func (f *fakeConn) Watch(ctx context.Context, req oadalist.WatchRequest) (<-chan oadalist.ChangeBatch, error) {
	f.mu.Lock()
	f.watchedAt = req.Rev
	f.mu.Unlock()
	return f.watchCh, nil
}

func waitForEvent(t *testing.T, ch <-chan oadalist.Event) oadalist.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return oadalist.Event{}
	}
}

func newUnstarted(t *testing.T, conn *fakeConn, opts oadalist.Options) *oadalist.ListWatch {
	t.Helper()
	opts.Conn = conn
	opts.OnNewList = oadalist.OnNewListHandled // tests drive batches explicitly, not the snapshot
	lw, err := oadalist.New(context.Background(), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return lw
}

// S1 — new item.
func TestIntegrationItemAdded(t *testing.T) {
	conn := newFakeConn("/bookmarks/list", map[string]any{"_rev": float64(0)})
	lw := newUnstarted(t, conn, oadalist.Options{Path: "/bookmarks/list"})
	added, _ := lw.OnChan(oadalist.ItemAdded)
	anyCh, _ := lw.OnChan(oadalist.ItemAny)

	if err := lw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer lw.Stop()

	conn.watchCh <- oadalist.ChangeBatch{
		Root: oadalist.Change{
			Type: oadalist.ChangeMerge,
			Body: map[string]any{"K": map[string]any{"_id": "resources/foo"}, "_rev": float64(4)},
		},
	}

	ev := waitForEvent(t, added)
	if ev.Pointer != "/K" || ev.ListRev != 4 {
		t.Fatalf("unexpected ItemAdded: %#v", ev)
	}
	waitForEvent(t, anyCh)
}

// S2 — removed item.
func TestIntegrationItemRemoved(t *testing.T) {
	conn := newFakeConn("/bookmarks/list", map[string]any{"_rev": float64(0)})
	lw := newUnstarted(t, conn, oadalist.Options{Path: "/bookmarks/list"})
	removed, _ := lw.OnChan(oadalist.ItemRemoved)

	if err := lw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer lw.Stop()

	conn.watchCh <- oadalist.ChangeBatch{
		Root: oadalist.Change{
			Type: oadalist.ChangeDelete,
			Body: map[string]any{"K": nil, "_rev": float64(4)},
		},
	}

	ev := waitForEvent(t, removed)
	if ev.Pointer != "/K" || ev.ListRev != 4 {
		t.Fatalf("unexpected ItemRemoved: %#v", ev)
	}
}

// S3 — existing item changed via a child sub-change.
func TestIntegrationItemChanged(t *testing.T) {
	conn := newFakeConn("/bookmarks/list", map[string]any{"_rev": float64(0)})
	lw := newUnstarted(t, conn, oadalist.Options{Path: "/bookmarks/list"})
	changed, _ := lw.OnChan(oadalist.ItemChanged)

	if err := lw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer lw.Stop()

	conn.watchCh <- oadalist.ChangeBatch{
		Root: oadalist.Change{
			Type: oadalist.ChangeMerge,
			Body: map[string]any{"K": map[string]any{"_rev": float64(4)}, "_rev": float64(4)},
		},
		Children: []oadalist.Change{
			{Type: oadalist.ChangeMerge, Path: "/K", Body: map[string]any{"foo": "bar", "_rev": float64(4)}},
		},
	}

	ev := waitForEvent(t, changed)
	if ev.Pointer != "/K" || ev.Change == nil || ev.Change.Rev != 4 {
		t.Fatalf("unexpected ItemChanged: %#v", ev)
	}
}

// S6 — list self-delete terminates the watch with no further events.
func TestIntegrationListSelfDeleteStopsCleanly(t *testing.T) {
	conn := newFakeConn("/bookmarks/list", map[string]any{"_rev": float64(0)})
	lw := newUnstarted(t, conn, oadalist.Options{Path: "/bookmarks/list"})

	if err := lw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn.watchCh <- oadalist.ChangeBatch{
		Root: oadalist.Change{Type: oadalist.ChangeDelete, Path: "", Body: nil},
	}

	deadline := time.After(2 * time.Second)
	for {
		if lw.Err() == oadalist.ErrListDeleted {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for list-deleted termination")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if err := lw.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

// Listener errors are isolated: one failing listener does not stop another
// from receiving the same event.
func TestIntegrationListenerErrorIsIsolated(t *testing.T) {
	conn := newFakeConn("/bookmarks/list", map[string]any{"_rev": float64(0)})
	lw := newUnstarted(t, conn, oadalist.Options{Path: "/bookmarks/list", Resume: true, Name: "test"})

	var otherCalled bool
	var mu sync.Mutex
	done := make(chan struct{})
	lw.On(oadalist.ItemAdded, func(ctx context.Context, ev oadalist.Event) error {
		return errs("boom")
	})
	lw.On(oadalist.ItemAdded, func(ctx context.Context, ev oadalist.Event) error {
		mu.Lock()
		otherCalled = true
		mu.Unlock()
		close(done)
		return nil
	})

	if err := lw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer lw.Stop()

	conn.watchCh <- oadalist.ChangeBatch{
		Root: oadalist.Change{
			Type: oadalist.ChangeMerge,
			Body: map[string]any{"K": map[string]any{"_id": "resources/foo"}, "_rev": float64(4)},
		},
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second listener was never invoked")
	}
	mu.Lock()
	defer mu.Unlock()
	if !otherCalled {
		t.Fatal("expected the non-failing listener to still run")
	}
}

type errs string

func (e errs) Error() string { return string(e) }

// S4 — resuming from stored metadata opens the watch at the recorded rev.
func TestIntegrationResumeOpensWatchAtStoredRev(t *testing.T) {
	conn := newFakeConn("/bookmarks/list", map[string]any{"_rev": float64(900)})
	conn.store["/bookmarks/list/_meta/oada-list-lib/test"] = map[string]any{"rev": float64(766)}

	lw, err := oadalist.New(context.Background(), oadalist.Options{
		Path: "/bookmarks/list", Conn: conn, Resume: true, Name: "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := lw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer lw.Stop()

	conn.mu.Lock()
	got := conn.watchedAt
	conn.mu.Unlock()
	if got != 766 {
		t.Fatalf("expected watch opened at rev=766, got %d", got)
	}
}
