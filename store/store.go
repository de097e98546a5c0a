// Package store defines the real-time store capability consumed by the
// tunnel engine: a hierarchical keyspace with write/update/delete, one-shot
// reads, ordered change subscriptions and a server-side disconnect hook.
//
// All backends guarantee that subscribers to the same path observe
// notifications in a single shared order, and that Push-assigned child keys
// are unique and sortable by creation order.
package store

import "context"

// Unsubscribe detaches a subscription. Safe to call more than once.
type Unsubscribe func()

// ChildAddedFunc receives a newly added child of the subscribed path.
// Delivery is at-least-once; consumers must deduplicate by key.
type ChildAddedFunc func(key string, value any)

// ValueFunc receives the full current snapshot of the subscribed path.
// A nil value means the path does not exist.
type ValueFunc func(value any)

// Store is the capability interface over the backing real-time store.
// Map values are materialized as subtrees; a read of an interior path
// returns map[string]any keyed by child name.
type Store interface {
	// Write replaces the value at path, creating intermediate nodes.
	Write(ctx context.Context, path string, value any) error

	// Update sets individual fields under path without touching siblings.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Delete removes path and everything beneath it. Deleting an absent
	// path is a no-op, not an error.
	Delete(ctx context.Context, path string) error

	// Push appends value under path with a store-assigned child key and
	// returns the key. Keys sort by creation order.
	Push(ctx context.Context, path string, value any) (string, error)

	// ReadOnce returns the current value at path, nil if absent.
	ReadOnce(ctx context.Context, path string) (any, error)

	// SubscribeChildAdded delivers every existing child of path and then
	// each subsequently added child, in creation order.
	SubscribeChildAdded(path string, fn ChildAddedFunc) (Unsubscribe, error)

	// SubscribeValue delivers the current snapshot of path immediately
	// and again after every change anywhere beneath it.
	SubscribeValue(path string, fn ValueFunc) (Unsubscribe, error)

	// OnDisconnectDelete registers a server-side deletion of path executed
	// if this client goes away without cleaning up.
	OnDisconnectDelete(path string) error

	// Close tears down subscriptions and releases the connection.
	Close() error
}
