package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
	"storefront/internal/logging"
)

type cartLister interface {
	List(ctx context.Context, userID string) ([]domain.CartEntry, error)
}

// Service keeps each user's checkout flows in memory. Finished flows stay readable until
// Sweep drops them.
type Service struct {
	cart   cartLister
	delay  time.Duration
	ttl    time.Duration
	logger logrus.FieldLogger
	now    func() time.Time

	mu    sync.Mutex
	flows map[string]*tracked
}

type tracked struct {
	userID  string
	flow    *Flow
	started time.Time
}

// New creates a Service. delay is the confirmation auto-redirect delay; flows older than
// ttl are dropped by Sweep.
func New(cart cartLister, delay, ttl time.Duration, logger logrus.FieldLogger) *Service {
	return &Service{
		cart:   cart,
		delay:  delay,
		ttl:    ttl,
		logger: logging.OrDiscard(logger),
		now:    time.Now,
		flows:  make(map[string]*tracked),
	}
}

// Start selects entryIDs from the user's cart and opens a flow in Form.
// An empty selection fails before any flow exists.
func (s *Service) Start(ctx context.Context, userID string, entryIDs []string) (*Flow, error) {
	if len(entryIDs) == 0 {
		return nil, ErrEmptySelection
	}
	entries, err := s.cart.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	selected, err := SelectSubset(entries, entryIDs)
	if err != nil {
		return nil, err
	}
	flow, err := NewFlow(uuid.NewString(), selected, s.delay)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.flows[flow.ID()] = &tracked{userID: userID, flow: flow, started: s.now()}
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{"user_id": userID, "flow_id": flow.ID(), "lines": len(selected)}).Info("checkout: flow started")
	return flow, nil
}

// Get returns the user's flow. Flows of other users are reported as not found.
func (s *Service) Get(userID, flowID string) (*Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.flows[flowID]
	if !ok || t.userID != userID {
		return nil, domain.ErrNotFound
	}
	return t.flow, nil
}

// Sweep closes and forgets flows that are older than the ttl.
func (s *Service) Sweep() {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.flows {
		if t.started.Before(cutoff) {
			t.flow.Close()
			delete(s.flows, id)
		}
	}
}

// Run sweeps every interval until ctx ends, then closes every flow.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-t.C:
			s.Sweep()
		}
	}
}

// Close stops every pending timer.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.flows {
		t.flow.Close()
		delete(s.flows, id)
	}
}
