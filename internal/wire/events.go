package wire

import (
	"context"
	"fmt"
	"sync"
)

// EventKind is the closed set of events a ListWatch can emit (spec §4.1).
type EventKind string

const (
	// ItemAdded fires when an item link becomes newly present, including
	// once per item in the initial "starting items" snapshot.
	ItemAdded EventKind = "ItemAdded"
	// ItemChanged fires once per raw sub-change tagged on an existing item.
	ItemChanged EventKind = "ItemChanged"
	// ItemRemoved fires when an item link disappears.
	ItemRemoved EventKind = "ItemRemoved"
	// ItemAny is a convenience aggregate: fired once, in order, after every
	// ItemAdded and ItemChanged — never after ItemRemoved.
	ItemAny EventKind = "ItemAny"
	// EventError is fatal to the watch: emitted at most once, when the
	// change feed itself fails.
	EventError EventKind = "error"
)

// ItemChange carries the per-change detail attached to an ItemChanged (and
// its mirroring ItemAny) event.
type ItemChange struct {
	// Rev is the item-level revision extracted from the sub-change's body
	// (body._meta._rev, falling back to body._rev).
	Rev int64
	// Path is the sub-change's path re-rooted at the item: the item's
	// pointer prefix has been stripped.
	Path string
	Type ChangeType
	Body any
}

// itemState backs Event's lazy item accessor. A fresh one is allocated per
// emitted event so memoization never leaks across events, but copies of the
// same Event (e.g. delivered to two listeners) share one fetch.
type itemState struct {
	once  sync.Once
	val   any
	err   error
	fetch func(ctx context.Context) (any, error)
}

// Event is what listeners and async-sequence consumers receive. Pointer is
// the matched item's JSON pointer, relative to the list root.
type Event struct {
	Kind    EventKind
	ListRev int64
	Pointer string

	// Change is set only for ItemChanged, and for the ItemAny that mirrors
	// an ItemChanged.
	Change *ItemChange

	// Err is set only for Kind == EventError.
	Err error

	item *itemState
}

// WithItem returns a copy of e with its lazy item accessor bound to fetch.
// Packages constructing Event drafts outside this package (internal/classify)
// use this instead of reaching into the unexported item field.
func (e Event) WithItem(fetch func(ctx context.Context) (any, error)) Event {
	e.item = &itemState{fetch: fetch}
	return e
}

// Item lazily fetches the item's current body via GET <list-path>/<pointer>
// and runs the configured AssertItem predicate. The result is memoized for
// this Event value (and any copies of it) but not shared with other events.
func (e Event) Item(ctx context.Context) (any, error) {
	if e.item == nil {
		return nil, fmt.Errorf("oadalist: event %s has no item accessor", e.Kind)
	}
	e.item.once.Do(func() {
		e.item.val, e.item.err = e.item.fetch(ctx)
	})
	return e.item.val, e.item.err
}

// Listener is a callback registered via On/Once. A returned error (or a
// recovered panic) is recorded under _meta as a per-pointer error; it never
// stops the watch and never blocks delivery to other listeners.
type Listener func(ctx context.Context, ev Event) error
