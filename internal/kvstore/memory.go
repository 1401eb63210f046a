package kvstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"storefront/internal/logging"
)

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	leaves leafSet

	txLocks *keyedMutex
	hub     *hub
}

// NewMemory returns an empty in-memory store.
func NewMemory(log logrus.FieldLogger) *Memory {
	m := &Memory{
		leaves:  make(leafSet),
		txLocks: newKeyedMutex(),
	}
	m.hub = newHub(m.Read, logging.OrDiscard(log))
	return m
}

func (m *Memory) Read(_ context.Context, path string) (Snapshot, error) {
	p, err := Clean(path)
	if err != nil {
		return Snapshot{}, err
	}
	m.mu.RLock()
	raw, err := m.leaves.read(p)
	m.mu.RUnlock()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Path: p, raw: raw}, nil
}

func (m *Memory) Write(ctx context.Context, path string, value any) error {
	op, err := writeOp(path, value)
	if err != nil {
		return err
	}
	return m.apply(ctx, []mutation{op})
}

func (m *Memory) Update(ctx context.Context, path string, fields map[string]any) error {
	ops, err := updateOps(path, fields)
	if err != nil {
		return err
	}
	return m.apply(ctx, ops)
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	p, err := Clean(path)
	if err != nil {
		return err
	}
	return m.apply(ctx, []mutation{{path: p}})
}

func (m *Memory) Push(ctx context.Context, path string, value any) (string, error) {
	key := NewKey()
	if err := m.Write(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (m *Memory) Transaction(ctx context.Context, root string, fn func(tx Tx) error) error {
	r, err := Clean(root)
	if err != nil {
		return err
	}
	unlock := m.txLocks.lock(r)
	defer unlock()

	m.mu.RLock()
	local := leafSet(m.leaves.under(r)).clone()
	m.mu.RUnlock()

	tx := &memoryTx{root: r, local: local}
	if err := fn(tx); err != nil {
		return err
	}
	return m.apply(ctx, tx.ops)
}

func (m *Memory) Subscribe(path string, fn func(Snapshot)) (Unsubscribe, error) {
	p, err := Clean(path)
	if err != nil {
		return nil, err
	}
	return m.hub.subscribe(p, fn), nil
}

func (m *Memory) apply(ctx context.Context, ops []mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	m.mu.Lock()
	for _, op := range ops {
		op.applyTo(m.leaves)
	}
	m.mu.Unlock()
	for _, op := range ops {
		m.hub.publish(op.path)
	}
	return nil
}

// mutation replaces the subtree at path with leaves; no leaves means delete.
type mutation struct {
	path   string
	leaves map[string]json.RawMessage
}

func (op mutation) applyTo(s leafSet) {
	if len(op.leaves) == 0 {
		s.remove(op.path)
		return
	}
	s.replace(op.path, op.leaves)
}

func writeOp(path string, value any) (mutation, error) {
	p, err := Clean(path)
	if err != nil {
		return mutation{}, err
	}
	leaves, err := flatten(p, value)
	if err != nil {
		return mutation{}, err
	}
	return mutation{path: p, leaves: leaves}, nil
}

func updateOps(path string, fields map[string]any) ([]mutation, error) {
	p, err := Clean(path)
	if err != nil {
		return nil, err
	}
	ops := make([]mutation, 0, len(fields))
	for k, v := range fields {
		op, err := writeOp(Join(p, k), v)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

type memoryTx struct {
	root  string
	local leafSet
	ops   []mutation
}

func (t *memoryTx) Read(_ context.Context, path string) (Snapshot, error) {
	p, err := t.scoped(path)
	if err != nil {
		return Snapshot{}, err
	}
	raw, err := t.local.read(p)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Path: p, raw: raw}, nil
}

func (t *memoryTx) Write(_ context.Context, path string, value any) error {
	if _, err := t.scoped(path); err != nil {
		return err
	}
	op, err := writeOp(path, value)
	if err != nil {
		return err
	}
	t.record(op)
	return nil
}

func (t *memoryTx) Update(_ context.Context, path string, fields map[string]any) error {
	if _, err := t.scoped(path); err != nil {
		return err
	}
	ops, err := updateOps(path, fields)
	if err != nil {
		return err
	}
	for _, op := range ops {
		t.record(op)
	}
	return nil
}

func (t *memoryTx) Delete(_ context.Context, path string) error {
	p, err := t.scoped(path)
	if err != nil {
		return err
	}
	t.record(mutation{path: p})
	return nil
}

func (t *memoryTx) Push(ctx context.Context, path string, value any) (string, error) {
	key := NewKey()
	if err := t.Write(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (t *memoryTx) record(op mutation) {
	op.applyTo(t.local)
	t.ops = append(t.ops, op)
}

func (t *memoryTx) scoped(path string) (string, error) {
	p, err := Clean(path)
	if err != nil {
		return "", err
	}
	if !within(t.root, p) {
		return "", ErrOutsideTransaction
	}
	return p, nil
}

// keyedMutex hands out one mutex per key and drops it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
