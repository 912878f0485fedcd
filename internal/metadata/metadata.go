// Package metadata owns the resume cursor and per-pointer error log that
// live at <list-path>/_meta/oada-list-lib/<name>, and the debounced writer
// that flushes them back to the store.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/trellisfw/oada-list-lib-go/internal/wire"
)

// Document is the persisted shape at the metadata path.
type Document struct {
	Rev    int64                        `json:"rev"`
	Errors map[string]map[string]string `json:"errors,omitempty"`
}

// Manager tracks the live cursor and error log in memory, flushing dirty
// state to the store no more often than every interval. Clean/Dirty state
// is a single bool guarded by mu; Writing is implicit in flush() holding no
// lock while the PUT is in flight, so SetRev/SetErrored calls made mid-flush
// land on the next tick rather than being lost.
type Manager struct {
	conn     wire.Conn
	path     string
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	doc   Document
	dirty bool

	stop chan struct{}
	done chan struct{}
}

// New constructs a Manager that persists at <listPath>/_meta/oada-list-lib/<name>.
func New(conn wire.Conn, listPath, name string, interval time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		conn:     conn,
		path:     listPath + "/_meta/oada-list-lib/" + name,
		interval: interval,
		logger:   logger,
	}
}

// Init loads any prior metadata. found is false the first time a watch runs
// against this (list, name) pair; the caller decides how to seed the
// cursor in that case (spec §4.1's OnNewList policy). Per spec §4.5, the
// not-present case bootstraps the metadata resource itself — POSTing an
// empty resource and PUTting a link to it at the metadata path — rather
// than leaving creation to the first debounced flush.
func (m *Manager) Init(ctx context.Context) (rev int64, found bool, err error) {
	resp, err := m.conn.Get(ctx, wire.GetRequest{Path: m.path})
	if err != nil {
		var statusErr *wire.StatusError
		if !asStatusError(err, &statusErr) || (statusErr.Status != 404 && statusErr.Status != 403) {
			return 0, false, fmt.Errorf("oadalist: loading metadata: %w", err)
		}
		if err := m.bootstrap(ctx); err != nil {
			return 0, false, err
		}
		m.mu.Lock()
		m.doc = Document{}
		m.mu.Unlock()
		return 0, false, nil
	}

	doc, err := decodeDocument(resp.Data)
	if err != nil {
		return 0, false, fmt.Errorf("oadalist: decoding metadata: %w", err)
	}
	m.mu.Lock()
	m.doc = doc
	m.mu.Unlock()
	return doc.Rev, true, nil
}

// bootstrap creates the metadata resource per spec §4.5's not-present
// protocol: POST an empty resource, then PUT a link to it at the metadata
// path, so the debounced writer's later PUTs to that path land on the
// linked resource instead of first having to create one itself.
func (m *Manager) bootstrap(ctx context.Context) error {
	resp, err := m.conn.Post(ctx, wire.PostRequest{Data: map[string]any{}, ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("oadalist: creating metadata resource: %w", err)
	}
	id := resourceID(resp)
	if id == "" {
		return fmt.Errorf("oadalist: metadata POST response carried no resource id")
	}
	if _, err := m.conn.Put(ctx, wire.PutRequest{Path: m.path, Data: map[string]any{"_id": id}}); err != nil {
		return fmt.Errorf("oadalist: linking metadata resource: %w", err)
	}
	return nil
}

// resourceID extracts the newly created resource's id from a POST
// response: the Location header an OADA-style server returns, falling back
// to an "_id" field in the body for a Conn that returns it there instead.
func resourceID(resp *wire.Response) string {
	if resp == nil {
		return ""
	}
	if loc := resp.Headers["Location"]; loc != "" {
		return strings.TrimPrefix(loc, "/")
	}
	if m, ok := resp.Data.(map[string]any); ok {
		if id, ok := m["_id"].(string); ok {
			return id
		}
	}
	return ""
}

func asStatusError(err error, target **wire.StatusError) bool {
	se, ok := err.(*wire.StatusError)
	if !ok {
		return false
	}
	*target = se
	return true
}

func decodeDocument(data any) (Document, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Rev returns the in-memory cursor.
func (m *Manager) Rev() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Rev
}

// SetRev advances the in-memory cursor and marks it dirty. Callers are
// expected to only ever move it forward; SetRev does not enforce that
// itself so a coordinator test can exercise edge cases directly.
func (m *Manager) SetRev(rev int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.Rev = rev
	m.dirty = true
}

// SetErrored records err against pointer at rev, merged into the persisted
// document via an RFC 7396 JSON merge patch rather than a hand-rolled
// object walk.
func (m *Manager) SetErrored(pointer string, rev int64, listenerErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, err := json.Marshal(m.doc)
	if err != nil {
		m.logger.Error("oadalist: marshaling metadata document", "error", err)
		return
	}
	patch, err := json.Marshal(map[string]any{
		"errors": map[string]any{
			pointer: map[string]any{
				fmt.Sprintf("%d", rev): listenerErr.Error(),
			},
		},
	})
	if err != nil {
		m.logger.Error("oadalist: marshaling error patch", "error", err)
		return
	}
	merged, err := jsonpatch.MergePatch(original, patch)
	if err != nil {
		m.logger.Error("oadalist: merging error patch", "error", err)
		return
	}
	var doc Document
	if err := json.Unmarshal(merged, &doc); err != nil {
		m.logger.Error("oadalist: decoding merged metadata", "error", err)
		return
	}
	m.doc = doc
	m.dirty = true
}

// Start launches the debounced writer. It returns once the background
// goroutine is running; Stop must be called to flush and release it.
func (m *Manager) Start(ctx context.Context) {
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(ctx)
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.flush(ctx)
		case <-m.stop:
			m.flush(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

// flush writes the dirty document, if any. It is not called under mu while
// the PUT is in flight, so it re-takes the lock only to snapshot and only
// to clear the dirty flag, matching the reference Clean→Dirty→Writing→Clean
// state machine without literally encoding it as states.
func (m *Manager) flush(ctx context.Context) {
	m.mu.Lock()
	if !m.dirty {
		m.mu.Unlock()
		return
	}
	snapshot := m.doc
	m.dirty = false
	m.mu.Unlock()

	_, err := m.conn.Put(ctx, wire.PutRequest{Path: m.path, Data: snapshot})
	if err != nil {
		m.logger.Error("oadalist: persisting metadata", "path", m.path, "error", err)
		m.mu.Lock()
		m.dirty = true
		m.mu.Unlock()
	}
}

// Stop flushes any dirty state synchronously and releases the writer.
func (m *Manager) Stop() {
	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.done
}
