package oadalist

import "github.com/trellisfw/oada-list-lib-go/internal/wire"

// ChangeType identifies whether a Change merges data into the tree or
// deletes it.
type ChangeType = wire.ChangeType

const (
	// ChangeMerge deep-merges Body into the tree at Path.
	ChangeMerge = wire.ChangeMerge
	// ChangeDelete removes the value at Path (Body is nil, or an object
	// whose leaves are all nil).
	ChangeDelete = wire.ChangeDelete
)

// Change is one sub-change of a ChangeBatch, as delivered by the transport's
// watch feed. Path is a JSON pointer relative to the list root; it may be
// empty (the root change itself).
type Change = wire.Change

// ChangeBatch is an ordered sequence of sub-changes delivered atomically by
// the transport. Root is always first and always carries Path == "".
type ChangeBatch = wire.ChangeBatch

// Response is the result of a Head/Get/Put/Post call against the transport.
type Response = wire.Response

// GetRequest parameterizes a Get call.
type GetRequest = wire.GetRequest

// PutRequest parameterizes a Put call.
type PutRequest = wire.PutRequest

// PostRequest parameterizes a Post call, used to create a new resource and
// receive back its generated ID.
type PostRequest = wire.PostRequest

// WatchRequest parameterizes a Watch call.
type WatchRequest = wire.WatchRequest

// Conn is the transport adapter this library consumes. It is implemented by
// an OADA client; the library treats it as an external collaborator and
// retries only one kind of failed call itself — a metadata cursor write,
// re-attempted on the debounced writer's next tick. Other transport
// resilience lives in the transport adapter (see internal/oadahttp for a
// reference implementation).
type Conn = wire.Conn

// StatusError reports a Head/Get/etc. response that failed with an HTTP-like
// status code. Conn implementations should return this (or wrap it) so the
// coordinator can distinguish "not found" from other failures.
type StatusError = wire.StatusError
