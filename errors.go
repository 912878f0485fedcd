package oadalist

import "github.com/trellisfw/oada-list-lib-go/internal/wire"

// Sentinel errors the coordinator and its callers can match on.
var (
	// ErrStopped names the stopped state of a watch. No function in this
	// package returns it.
	ErrStopped = wire.ErrStopped

	// ErrListDeleted is what Err reports once the list resource itself was
	// deleted (spec §4.6). No EventError is dispatched for it; the batch
	// loop has already ended by the time a caller observes this.
	ErrListDeleted = wire.ErrListDeleted

	// ErrFeedTerminated is surfaced once when the transport's change feed
	// ends unexpectedly (channel closed without ctx cancellation). The
	// watch is fatal at this point; a new ListWatch must be constructed.
	ErrFeedTerminated = wire.ErrFeedTerminated

	// ErrUnknownChangeType is a fatal construction-time error: the transport
	// is assumed to only ever emit "merge" or "delete".
	ErrUnknownChangeType = wire.ErrUnknownChangeType
)
