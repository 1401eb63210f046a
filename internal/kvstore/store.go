// Package kvstore is a path-addressed JSON store with live subscriptions.
//
// Paths are slash-separated (products/{id}, users/{uid}/cart/{entryId}). Reading a
// path returns the whole subtree below it; Update merges only the named fields;
// Subscribe delivers the full value at a path on every change, starting with the
// current value. Two backends exist: Memory for tests and single-process use, and
// Postgres which fans changes out to every process through LISTEN/NOTIFY.
package kvstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrOutsideTransaction is returned when a transaction touches a path outside its root.
var ErrOutsideTransaction = errors.New("path outside transaction root")

// Reader reads values once.
type Reader interface {
	Read(ctx context.Context, path string) (Snapshot, error)
}

// Writer mutates values.
type Writer interface {
	// Write replaces the value at path. Writing nil deletes it.
	Write(ctx context.Context, path string, value any) error
	// Update merges the named fields into the value at path; a nil field value deletes that field.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Delete removes the value at path. Deleting an absent path succeeds.
	Delete(ctx context.Context, path string) error
	// Push stores value under a new time-ordered child key of path and returns the key.
	Push(ctx context.Context, path string, value any) (string, error)
}

// Tx is the view of the store inside Transaction. Reads observe the transaction's own writes.
type Tx interface {
	Reader
	Writer
}

// Unsubscribe releases a subscription. After it returns no callback is running or will start.
// It must not be called from inside the subscription's own callback.
type Unsubscribe func()

// Store is the full key-value contract.
type Store interface {
	Reader
	Writer
	// Transaction runs fn with exclusive access to the subtree at root among transactions
	// on the same root. Writes are applied only if fn returns nil.
	Transaction(ctx context.Context, root string, fn func(tx Tx) error) error
	// Subscribe invokes fn with the value at path now and after every change that can affect it.
	Subscribe(path string, fn func(Snapshot)) (Unsubscribe, error)
}

// NewKey returns a time-ordered child key, so pushed children sort by creation.
func NewKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
