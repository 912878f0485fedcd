// Package classify turns matched (value, pointer) pairs from a batch's
// built tree into the ordered sequence of typed events a batch produces.
package classify

import (
	"context"

	"github.com/trellisfw/oada-list-lib-go/internal/oadatree"
	"github.com/trellisfw/oada-list-lib-go/internal/selector"
	"github.com/trellisfw/oada-list-lib-go/internal/wire"
)

// ItemFetch builds the lazy item-body fetch closure for a given pointer. The
// coordinator supplies this; classify never calls a transport itself.
type ItemFetch func(pointer string) func(ctx context.Context) (any, error)

// Classify decides, per matched pointer, between Added/Removed/Changed and
// returns the full ordered event sequence for the batch (including the
// ItemAny mirrors), per the precedence rules:
//  1. an Absent value (from a delete) is a removal;
//  2. no sub-change tagged at that exact pointer, and the value carries an
//     "_id" link, is an addition;
//  3. any sub-change tagged at that exact pointer is a change, one event per
//     tagged sub-change, in order.
func Classify(matches []selector.Match, sidecar oadatree.Sidecar, listRev int64, fetch ItemFetch) []wire.Event {
	var events []wire.Event

	for _, match := range matches {
		changes := sidecar[match.Pointer]

		switch {
		case match.Value == oadatree.Absent:
			events = append(events, wire.Event{
				Kind:    wire.ItemRemoved,
				ListRev: listRev,
				Pointer: match.Pointer,
			}.WithItem(fetch(match.Pointer)))

		case len(changes) == 0:
			if !hasID(match.Value) {
				continue
			}
			added := wire.Event{
				Kind:    wire.ItemAdded,
				ListRev: listRev,
				Pointer: match.Pointer,
			}.WithItem(fetch(match.Pointer))
			events = append(events, added)
			events = append(events, mirror(added, fetch(match.Pointer)))

		default:
			for _, change := range changes {
				changed := wire.Event{
					Kind:    wire.ItemChanged,
					ListRev: listRev,
					Pointer: match.Pointer,
					Change: &wire.ItemChange{
						Rev:  wire.ExtractRev(change.Body),
						Path: oadatree.Rebase(change.Path, match.Pointer),
						Type: change.Type,
						Body: change.Body,
					},
				}.WithItem(fetch(match.Pointer))
				events = append(events, changed)
				events = append(events, mirror(changed, fetch(match.Pointer)))
			}
		}
	}

	return events
}

// mirror builds the ItemAny event that follows an ItemAdded or ItemChanged,
// sharing its fields but with its own independent item memoization.
func mirror(ev wire.Event, fetch func(ctx context.Context) (any, error)) wire.Event {
	out := ev
	out.Kind = wire.ItemAny
	return out.WithItem(fetch)
}

func hasID(value any) bool {
	m, ok := value.(map[string]any)
	if !ok {
		return false
	}
	_, ok = m["_id"]
	return ok
}

