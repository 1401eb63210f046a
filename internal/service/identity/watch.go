package identity

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
)

// AuthState is one auth-state notification. A zero User with SignedIn false means signed out.
type AuthState struct {
	SignedIn bool
	User     domain.User
}

type stateFunc func(ctx context.Context, token string) (AuthState, error)

// watchHub re-evaluates a token's state whenever something that may change it happens and
// hands the result to the watcher's own goroutine. Repeated signals coalesce.
type watchHub struct {
	state stateFunc
	log   logrus.FieldLogger

	mu       sync.Mutex
	next     uint64
	watchers map[uint64]*watcher
}

type watcher struct {
	token     string
	accountID string
	fn        func(AuthState)
	dirty     chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	exited    chan struct{}
}

func newWatchHub(state stateFunc, log logrus.FieldLogger) *watchHub {
	return &watchHub{state: state, log: log, watchers: make(map[uint64]*watcher)}
}

func (h *watchHub) watch(token string, fn func(AuthState)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	w := &watcher{
		token:  token,
		fn:     fn,
		dirty:  make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		exited: make(chan struct{}),
	}
	w.dirty <- struct{}{}

	h.mu.Lock()
	h.next++
	id := h.next
	h.watchers[id] = w
	h.mu.Unlock()

	go h.run(id, w)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.watchers, id)
			h.mu.Unlock()
			w.cancel()
			<-w.exited
		})
	}
}

func (h *watchHub) run(id uint64, w *watcher) {
	defer close(w.exited)
	var last *AuthState
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.dirty:
		}
		ctx, cancel := context.WithTimeout(w.ctx, 5*time.Second)
		st, err := h.state(ctx, w.token)
		cancel()
		if w.ctx.Err() != nil {
			return
		}
		if err != nil {
			h.log.WithError(err).Warn("identity: auth state lookup failed")
			continue
		}
		h.mu.Lock()
		w.accountID = st.User.ID
		h.mu.Unlock()
		if last != nil && *last == st {
			continue
		}
		last = &st
		w.fn(st)
	}
}

func (h *watchHub) notifyToken(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.watchers {
		if w.token == token {
			w.mark()
		}
	}
}

func (h *watchHub) notifyAccount(accountID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.watchers {
		if w.accountID == accountID {
			w.mark()
		}
	}
}

func (w *watcher) mark() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}
