package wire

import "errors"

// Sentinel errors shared between the root package and the internal packages
// that need to produce or recognize them.
var (
	// ErrStopped names the stopped state of a watch. No function in this
	// module returns it.
	ErrStopped = errors.New("oadalist: watch stopped")

	// ErrListDeleted is what ListWatch.Err reports once the list resource
	// itself was deleted (spec §4.6). No EventError is dispatched for it;
	// the batch loop has already ended by the time a caller observes this.
	ErrListDeleted = errors.New("oadalist: list was deleted")

	// ErrFeedTerminated is surfaced once when the transport's change feed
	// ends unexpectedly (channel closed without ctx cancellation). The
	// watch is fatal at this point; a new ListWatch must be constructed.
	ErrFeedTerminated = errors.New("oadalist: change feed terminated")

	// ErrUnknownChangeType is a fatal construction-time error: the transport
	// is assumed to only ever emit "merge" or "delete".
	ErrUnknownChangeType = errors.New("oadalist: unknown change type")
)
