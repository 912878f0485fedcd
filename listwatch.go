// Package oadalist turns an OADA list resource's change feed into a
// reactive stream of per-item Added/Changed/Removed events, with a
// persisted resume cursor and per-listener error isolation.
package oadalist

import (
	"context"
	"fmt"
	"sync"

	"github.com/trellisfw/oada-list-lib-go/internal/classify"
	"github.com/trellisfw/oada-list-lib-go/internal/dispatch"
	"github.com/trellisfw/oada-list-lib-go/internal/metadata"
	"github.com/trellisfw/oada-list-lib-go/internal/oadatree"
	"github.com/trellisfw/oada-list-lib-go/internal/selector"
	"github.com/trellisfw/oada-list-lib-go/internal/wire"
)

// ListWatch is the coordinator: it owns the metadata manager, the watch
// handle, and the event dispatch registry. Listeners are weakly attached —
// they receive events but do not prolong a ListWatch's lifetime.
type ListWatch struct {
	opts    Options
	matcher *selector.Matcher
	meta    *metadata.Manager

	registry *dispatch.Registry

	snapshotBody any
	snapshotRev  int64
	needSnapshot bool
	startRev     int64

	cancel context.CancelFunc

	mu      sync.Mutex
	err     error
	started bool

	stopOnce sync.Once
	runDone  chan struct{}
}

// New runs the initialization protocol (ensure the list exists, load any
// prior resume metadata) and returns a ListWatch ready to have listeners
// registered on it. Call Start to begin consuming change batches — this
// gap gives the caller a deterministic window to attach On/OnChan
// listeners before the initial snapshot (if any) is dispatched, since Go
// has no implicit event-loop tick to rely on for that ordering.
func New(ctx context.Context, opts Options) (*ListWatch, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("oadalist: Options.Path is required")
	}
	if opts.Conn == nil {
		return nil, fmt.Errorf("oadalist: Options.Conn is required")
	}

	if err := ensureList(ctx, opts); err != nil {
		return nil, err
	}

	matcher, err := selector.Compile(opts.itemsPath())
	if err != nil {
		return nil, err
	}

	snapshot, err := opts.Conn.Get(ctx, wire.GetRequest{Path: opts.Path, Tree: opts.Tree})
	if err != nil {
		return nil, fmt.Errorf("oadalist: fetching starting snapshot: %w", err)
	}
	currentRev := wire.ExtractRev(snapshot.Data)

	var (
		meta         *metadata.Manager
		startRev     int64
		needSnapshot bool
	)
	if opts.Resume {
		meta = metadata.New(opts.Conn, opts.Path, opts.name(), opts.persistInterval(), opts.logger())
		rev, found, err := meta.Init(ctx)
		if err != nil {
			return nil, err
		}
		if found {
			startRev = rev
		} else if opts.OnNewList == OnNewListHandled {
			meta.SetRev(currentRev)
			startRev = currentRev
		} else {
			startRev = currentRev
			needSnapshot = true
		}
	} else {
		startRev = currentRev
		if opts.OnNewList != OnNewListHandled {
			needSnapshot = true
		}
	}

	return &ListWatch{
		opts:         opts,
		matcher:      matcher,
		meta:         meta,
		registry:     dispatch.New(0),
		snapshotBody: snapshot.Data,
		snapshotRev:  currentRev,
		needSnapshot: needSnapshot,
		startRev:     startRev,
		runDone:      make(chan struct{}),
	}, nil
}

func ensureList(ctx context.Context, opts Options) error {
	_, err := opts.Conn.Head(ctx, opts.Path)
	if err == nil {
		return nil
	}
	var statusErr *wire.StatusError
	if se, ok := err.(*wire.StatusError); ok {
		statusErr = se
	}
	if statusErr == nil || (statusErr.Status != 403 && statusErr.Status != 404) {
		return fmt.Errorf("oadalist: checking list existence: %w", err)
	}
	_, err = opts.Conn.Put(ctx, wire.PutRequest{Path: opts.Path, Data: map[string]any{}, Tree: opts.Tree})
	if err != nil {
		return fmt.Errorf("oadalist: materializing list: %w", err)
	}
	return nil
}

// On registers l for every event of kind. l is invoked from a dedicated
// goroutine per listener, so a slow listener does not delay another
// listener's receipt of the same event; its own events are always
// delivered to it in order. The next event is dispatched only after every
// listener has finished with the current one.
func (lw *ListWatch) On(kind EventKind, l Listener) {
	lw.registry.On(kind, l)
}

// Once registers l to fire at most once, then auto-deregisters.
func (lw *ListWatch) Once(kind EventKind, l Listener) {
	lw.registry.Once(kind, l)
}

// OnChan returns a channel of every event of kind, open until the returned
// func is invoked. Stop does not close it.
func (lw *ListWatch) OnChan(kind EventKind) (<-chan Event, func()) {
	return lw.registry.OnChan(kind)
}

// OnceChan returns a channel delivering at most one event of kind.
func (lw *ListWatch) OnceChan(kind EventKind) (<-chan Event, func()) {
	return lw.registry.OnceChan(kind)
}

// Start begins consuming change batches: it opens the watch at the
// recorded cursor, dispatches the starting-items snapshot (if the
// initialization protocol called for one), and launches the background
// processing loop. It returns once the watch is open; batch processing continues
// asynchronously until Stop is called or the watch ends fatally.
func (lw *ListWatch) Start(ctx context.Context) error {
	lw.mu.Lock()
	if lw.started {
		lw.mu.Unlock()
		return fmt.Errorf("oadalist: Start called twice")
	}
	lw.started = true
	lw.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	lw.cancel = cancel

	if lw.meta != nil {
		lw.meta.Start(context.Background())
	}

	changes, err := lw.opts.Conn.Watch(runCtx, wire.WatchRequest{Path: lw.opts.Path, Rev: lw.startRev, Type: "tree"})
	if err != nil {
		cancel()
		return fmt.Errorf("oadalist: opening watch: %w", err)
	}

	if lw.needSnapshot {
		batch := wire.ChangeBatch{Root: wire.Change{Type: wire.ChangeMerge, Body: lw.snapshotBody}}
		lw.processBatch(runCtx, batch, lw.snapshotRev)
	}

	go lw.run(runCtx, changes)
	return nil
}

func (lw *ListWatch) run(ctx context.Context, changes <-chan wire.ChangeBatch) {
	defer close(lw.runDone)
	for {
		if lw.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-changes:
			if !ok {
				if ctx.Err() == nil {
					lw.fail(ctx, wire.ErrFeedTerminated)
				}
				return
			}
			if isListDelete(batch) {
				lw.setErr(wire.ErrListDeleted)
				return
			}
			lw.processBatch(ctx, batch, wire.ExtractRev(batch.Root.Body))
		}
	}
}

func isListDelete(batch wire.ChangeBatch) bool {
	return batch.Root.Type == ChangeDelete && batch.Root.Path == "" && batch.Root.Body == nil
}

func (lw *ListWatch) fail(ctx context.Context, err error) {
	lw.setErr(err)
	lw.registry.Dispatch(ctx, Event{Kind: EventError, Err: err})
}

func (lw *ListWatch) processBatch(ctx context.Context, batch wire.ChangeBatch, listRev int64) {
	tree, sidecar, err := oadatree.Build(batch)
	if err != nil {
		lw.fail(ctx, err)
		return
	}
	matches, err := lw.matcher.Match(tree)
	if err != nil {
		lw.fail(ctx, err)
		return
	}

	events := classify.Classify(matches, sidecar, listRev, lw.itemFetch)
	for _, ev := range events {
		for _, lerr := range lw.registry.Dispatch(ctx, ev) {
			if lw.meta != nil {
				lw.meta.SetErrored(ev.Pointer, ev.ListRev, lerr)
			}
		}
	}
	if lw.meta != nil {
		lw.meta.SetRev(listRev)
	}
}

func (lw *ListWatch) itemFetch(pointer string) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		resp, err := lw.opts.Conn.Get(ctx, wire.GetRequest{Path: lw.opts.Path + pointer})
		if err != nil {
			return nil, err
		}
		if lw.opts.AssertItem != nil {
			if aerr := lw.opts.AssertItem(resp.Data); aerr != nil {
				return resp.Data, aerr
			}
		}
		return resp.Data, nil
	}
}

func (lw *ListWatch) setErr(err error) {
	lw.mu.Lock()
	lw.err = err
	lw.mu.Unlock()
}

// Err returns why the watch ended on its own: ErrListDeleted,
// ErrFeedTerminated, or the error that made a batch fail to process (such
// as ErrUnknownChangeType). It is nil until the watch ends, and stays nil
// if it only ever ended via an explicit Stop call.
func (lw *ListWatch) Err() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.err
}

// Stop closes the watch, flushes any pending cursor write, and tears the
// metadata manager down. Idempotent; safe to call even if Start was never
// called or already returned on its own.
func (lw *ListWatch) Stop() error {
	lw.stopOnce.Do(func() {
		if lw.cancel != nil {
			lw.cancel()
			<-lw.runDone
		}
		if lw.meta != nil {
			lw.meta.Stop()
		}
	})
	return nil
}
