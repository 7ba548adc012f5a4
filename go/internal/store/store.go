package store

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Get when no document exists at the path.
var ErrKeyNotFound = errors.New("store: key not found")

// ErrAlreadyExists is returned by Create when a document already exists at the path.
var ErrAlreadyExists = errors.New("store: key already exists")

// Update is one change pushed to a Watcher. Value is nil when the document
// at Path was deleted.
type Update struct {
	Path  string
	Value []byte
}

// Watcher delivers changes for documents under a watched prefix. The store
// guarantees delivery of at least the latest value per path, not every
// intermediate value.
type Watcher interface {
	// Updates returns the channel changes arrive on. The channel is closed
	// when the watcher is stopped or its context is cancelled.
	Updates() <-chan Update
	// Stop releases the watcher. Safe to call more than once.
	Stop()
}

// CancelFunc unregisters a previously registered disconnect-triggered write.
type CancelFunc func(ctx context.Context) error

// Store is the shared mutable store every core component is written against:
// a key-path-addressable document store with merge writes, push-based change
// subscription, and a disconnect-triggered write primitive. Any networked
// key-value store with equivalent primitives can sit behind it.
//
// Paths are slash-separated, e.g. "rooms/room_abc/currentSession". Documents
// are JSON objects. All writes to a single path are last-writer-wins; a Merge
// applies all of its fields as one atomic update so readers never observe a
// half-applied transition.
type Store interface {
	// Get reads the document at path. Returns ErrKeyNotFound if absent.
	Get(ctx context.Context, path string) ([]byte, error)

	// List returns all documents whose path starts with prefix, keyed by path.
	List(ctx context.Context, prefix string) (map[string][]byte, error)

	// Set writes the document at path, replacing any existing value.
	Set(ctx context.Context, path string, value []byte) error

	// Create writes the document at path only if nothing exists there yet.
	// Returns ErrAlreadyExists otherwise.
	Create(ctx context.Context, path string, value []byte) error

	// Merge updates the named top-level fields of the document at path as a
	// single atomic write, creating the document if absent. A nil field value
	// removes that field.
	Merge(ctx context.Context, path string, fields map[string]any) error

	// Delete removes the document at path. Deleting an absent path is not an
	// error.
	Delete(ctx context.Context, path string) error

	// Watch subscribes to changes for all documents under prefix. The current
	// values are delivered first, then changes as they happen.
	Watch(ctx context.Context, prefix string) (Watcher, error)

	// OnDisconnect registers a Merge(path, fields) to be applied by the store
	// if this client's connection drops without the returned CancelFunc being
	// called. This is the only reliable abrupt-loss signal in a client-driven
	// architecture; how "drop" is detected is backend-specific (native
	// disconnect hooks, or a heartbeat lease).
	OnDisconnect(ctx context.Context, path string, fields map[string]any) (CancelFunc, error)

	// ServerNow returns a store-assigned timestamp. Anchor timestamps written
	// to sessions must come from here rather than the local wall clock, to
	// bound cross-client skew.
	ServerNow(ctx context.Context) (time.Time, error)

	// Close releases the client connection. Backends that emulate disconnect
	// writes with leases stop renewing them here.
	Close() error
}
