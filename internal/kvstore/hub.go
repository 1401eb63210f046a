package kvstore

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const readTimeout = 5 * time.Second

type readFunc func(ctx context.Context, path string) (Snapshot, error)

// hub fans change notifications out to subscriptions. Each subscription owns a
// goroutine and a one-slot dirty flag: bursts of changes collapse into one re-read,
// which is safe because every delivery carries the full current value.
type hub struct {
	read readFunc
	log  logrus.FieldLogger

	mu   sync.Mutex
	next uint64
	subs map[uint64]*subscription
}

type subscription struct {
	path   string
	fn     func(Snapshot)
	dirty  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	exited chan struct{}
}

func newHub(read readFunc, log logrus.FieldLogger) *hub {
	return &hub{read: read, log: log, subs: make(map[uint64]*subscription)}
}

func (h *hub) subscribe(path string, fn func(Snapshot)) Unsubscribe {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		path:   path,
		fn:     fn,
		dirty:  make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		exited: make(chan struct{}),
	}
	sub.dirty <- struct{}{}

	h.mu.Lock()
	h.next++
	id := h.next
	h.subs[id] = sub
	h.mu.Unlock()

	go h.run(sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			sub.cancel()
			<-sub.exited
		})
	}
}

func (h *hub) run(sub *subscription) {
	defer close(sub.exited)
	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-sub.dirty:
		}
		ctx, cancel := context.WithTimeout(sub.ctx, readTimeout)
		snap, err := h.read(ctx, sub.path)
		cancel()
		if sub.ctx.Err() != nil {
			return
		}
		if err != nil {
			h.log.WithFields(logrus.Fields{"path": sub.path, "error": err}).Warn("kvstore: subscription read failed")
			continue
		}
		sub.fn(snap)
	}
}

// publish marks every subscription whose value may have changed with path.
func (h *hub) publish(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if overlaps(sub.path, path) {
			sub.mark()
		}
	}
}

// publishAll marks every subscription, used after a notification gap.
func (h *hub) publishAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		sub.mark()
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *subscription) mark() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}
