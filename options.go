package oadalist

import (
	"log/slog"
	"time"

	"github.com/trellisfw/oada-list-lib-go/internal/selector"
)

// OnNewListPolicy controls how pre-existing items are treated the first
// time a watch runs against a list with no prior metadata (spec §4.1).
type OnNewListPolicy int

const (
	// OnNewListNew emits an ItemAdded for every item already present in the
	// list before any change batches are consumed.
	OnNewListNew OnNewListPolicy = iota
	// OnNewListHandled assumes the caller already knows about pre-existing
	// items; the recorded cursor is seeded from the list's current rev
	// instead of 0, and no synthetic ItemAdded events are emitted.
	OnNewListHandled
)

// DefaultItemsPath is the default items selector: direct children of the
// list whose key does not start with "_". Expressed here in the same
// JSONPath-with-property-filter notation the spec documents; internally it
// is recognized by exact match and compiled to a fast built-in path rather
// than run through the general JSONPath engine (see internal/selector).
const DefaultItemsPath = selector.DefaultItemsPath

// DefaultPersistInterval is how often the metadata manager flushes a dirty
// cursor to the store, absent an explicit PersistInterval.
const DefaultPersistInterval = time.Second

// Options configures a ListWatch. Every field's effect is documented in
// spec.md §4.1; Conn and Path are the only required fields.
type Options struct {
	// Path is the list's location in the remote store. Required.
	Path string

	// ItemsPath is the JSONPath selector identifying item nodes relative to
	// the list root. Defaults to DefaultItemsPath.
	ItemsPath string

	// Tree is an optional shape descriptor, consulted only to materialize
	// the list (and its ancestors) if Path does not yet exist, and to allow
	// a tree-mode GET for the starting snapshot.
	Tree any

	// Name is this watch's stable identity, used to namespace its progress
	// record under _meta/oada-list-lib/<name>. Multiple ListWatch instances
	// over the same list must use distinct names. Defaults to "oada-list-lib".
	Name string

	// Resume, when true, loads and advances the cursor under _meta. When
	// false, no persistence happens and the watch starts from the current
	// tip every time.
	Resume bool

	// Conn is the transport adapter. Required.
	Conn Conn

	// PersistInterval is how often the debounced cursor writer flushes a
	// dirty rev. Defaults to DefaultPersistInterval.
	PersistInterval time.Duration

	// AssertItem, if set, is run against every item body the first time an
	// event's lazy Item() accessor is resolved. A non-nil return is treated
	// as a listener error for that event (spec §7).
	AssertItem func(item any) error

	// OnNewList controls emission for pre-existing items the first time a
	// watch runs with no prior metadata. Defaults to OnNewListNew.
	OnNewList OnNewListPolicy

	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) name() string {
	if o.Name != "" {
		return o.Name
	}
	return "oada-list-lib"
}

func (o Options) itemsPath() string {
	if o.ItemsPath != "" {
		return o.ItemsPath
	}
	return DefaultItemsPath
}

func (o Options) persistInterval() time.Duration {
	if o.PersistInterval > 0 {
		return o.PersistInterval
	}
	return DefaultPersistInterval
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
