package oadalist

import "github.com/trellisfw/oada-list-lib-go/internal/wire"

// EventKind is the closed set of events a ListWatch can emit (spec §4.1).
type EventKind = wire.EventKind

const (
	// ItemAdded fires when an item link becomes newly present, including
	// once per item in the initial "starting items" snapshot.
	ItemAdded = wire.ItemAdded
	// ItemChanged fires once per raw sub-change tagged on an existing item.
	ItemChanged = wire.ItemChanged
	// ItemRemoved fires when an item link disappears.
	ItemRemoved = wire.ItemRemoved
	// ItemAny is a convenience aggregate: fired once, in order, after every
	// ItemAdded and ItemChanged — never after ItemRemoved.
	ItemAny = wire.ItemAny
	// EventError is fatal to the watch: emitted at most once, when the
	// change feed itself fails.
	EventError = wire.EventError
)

// ItemChange carries the per-change detail attached to an ItemChanged (and
// its mirroring ItemAny) event.
type ItemChange = wire.ItemChange

// Event is what listeners and async-sequence consumers receive. Pointer is
// the matched item's JSON pointer, relative to the list root.
type Event = wire.Event

// Listener is a callback registered via On/Once. A returned error (or a
// recovered panic) is recorded under _meta as a per-pointer error; it never
// stops the watch and never blocks delivery to other listeners.
type Listener = wire.Listener
