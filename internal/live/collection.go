// Package live keeps a local copy of a store collection in sync with the store.
package live

import (
	"sync"

	"github.com/sirupsen/logrus"

	"storefront/internal/kvstore"
	"storefront/internal/logging"
)

// Subscriber is the part of kvstore.Store a collection needs.
type Subscriber interface {
	Subscribe(path string, fn func(kvstore.Snapshot)) (kvstore.Unsubscribe, error)
}

// DecodeFunc turns one child of the collection into an item. Children that fail to
// decode are logged and left out.
type DecodeFunc[T any] func(child kvstore.Snapshot) (T, error)

// Collection mirrors the children of a store path. Every change replaces the whole
// local snapshot.
type Collection[T any] struct {
	path   string
	decode DecodeFunc[T]
	log    logrus.FieldLogger

	mu      sync.RWMutex
	items   []T
	loaded  bool
	ready   chan struct{}
	changed chan struct{}

	unsub     kvstore.Unsubscribe
	closeOnce sync.Once
}

// Watch subscribes to path and starts mirroring it. The caller must Close the collection.
func Watch[T any](sub Subscriber, path string, decode DecodeFunc[T], log logrus.FieldLogger) (*Collection[T], error) {
	c := &Collection[T]{
		path:    path,
		decode:  decode,
		log:     logging.OrDiscard(log),
		ready:   make(chan struct{}),
		changed: make(chan struct{}, 1),
	}
	unsub, err := sub.Subscribe(path, c.apply)
	if err != nil {
		return nil, err
	}
	c.unsub = unsub
	return c, nil
}

func (c *Collection[T]) apply(snap kvstore.Snapshot) {
	children := snap.Children()
	items := make([]T, 0, len(children))
	for _, child := range children {
		item, err := c.decode(child)
		if err != nil {
			c.log.WithFields(logrus.Fields{"path": child.Path, "error": err}).Warn("live: skipping undecodable entry")
			continue
		}
		items = append(items, item)
	}

	c.mu.Lock()
	c.items = items
	first := !c.loaded
	c.loaded = true
	c.mu.Unlock()

	if first {
		close(c.ready)
	}
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of the current items.
func (c *Collection[T]) Snapshot() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Ready is closed once the first value has been delivered.
func (c *Collection[T]) Ready() <-chan struct{} { return c.ready }

// Changed signals after each delivery. Signals coalesce; read Snapshot for the value.
// The channel is closed by Close.
func (c *Collection[T]) Changed() <-chan struct{} { return c.changed }

// Close stops mirroring. It is safe to call more than once but not from a DecodeFunc.
func (c *Collection[T]) Close() {
	c.closeOnce.Do(func() {
		c.unsub()
		close(c.changed)
	})
}
