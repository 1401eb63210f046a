package checkout

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

// State is a checkout flow state.
type State string

const (
	StateForm       State = "form"
	StateConfirmed  State = "confirmed"
	StateRedirected State = "redirected"
	StateCancelled  State = "cancelled"
)

// PaymentCOD is the only payment option.
const PaymentCOD = "COD"

var (
	// ErrMissingFields is returned when placing an order without name or address.
	ErrMissingFields = domain.Invalid("Please fill in all required fields.")
	// ErrInvalidTransition is returned for actions not allowed in the current state.
	ErrInvalidTransition = errors.New("action not allowed in current checkout state")
)

// Draft is what the user typed into the checkout form.
type Draft struct {
	Fullname string `json:"fullname"`
	Address  string `json:"address"`
	Payment  string `json:"paymentOption"`
}

// View is a point-in-time copy of a flow.
type View struct {
	ID          string             `json:"id"`
	State       State              `json:"state"`
	Draft       Draft              `json:"draft"`
	Lines       []domain.CartEntry `json:"lines"`
	Total       decimal.Decimal    `json:"total"`
	Summary     string             `json:"summary"`
	Destination domain.Destination `json:"destination,omitempty"`
	// RedirectAt is set while confirmed.
	RedirectAt *time.Time `json:"redirectAt,omitempty"`
}

// Flow is one checkout: Form, then Confirmed, then Redirected; or Cancelled from Form.
// All methods are safe for concurrent use.
type Flow struct {
	id    string
	lines []domain.CartEntry
	total decimal.Decimal
	delay time.Duration
	now   func() time.Time

	mu          sync.Mutex
	state       State
	draft       Draft
	destination domain.Destination
	redirectAt  time.Time
	timer       *time.Timer
	done        chan struct{}
	closed      bool
}

// NewFlow starts a flow in Form over an already selected, non-empty set of lines.
func NewFlow(id string, lines []domain.CartEntry, delay time.Duration) (*Flow, error) {
	if len(lines) == 0 {
		return nil, ErrEmptySelection
	}
	own := make([]domain.CartEntry, len(lines))
	copy(own, lines)
	return &Flow{
		id:    id,
		lines: own,
		total: Total(own),
		delay: delay,
		now:   time.Now,
		state: StateForm,
		draft: Draft{Payment: PaymentCOD},
		done:  make(chan struct{}),
	}, nil
}

func (f *Flow) ID() string { return f.id }

// Place validates the form and confirms the order. On a validation failure the flow stays
// in Form and keeps the entered fields. The confirmation redirects on its own after the delay.
func (f *Flow) Place(fullname, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateForm {
		return ErrInvalidTransition
	}
	f.draft.Fullname = fullname
	f.draft.Address = address
	if strings.TrimSpace(fullname) == "" || strings.TrimSpace(address) == "" {
		return ErrMissingFields
	}
	f.state = StateConfirmed
	f.redirectAt = f.now().Add(f.delay)
	f.timer = time.AfterFunc(f.delay, f.expire)
	return nil
}

func (f *Flow) expire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateConfirmed && !f.closed {
		f.finish(StateRedirected, domain.DestinationUserDashboard)
	}
}

// Acknowledge dismisses the confirmation before the delay runs out.
func (f *Flow) Acknowledge() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateConfirmed {
		return ErrInvalidTransition
	}
	f.finish(StateRedirected, domain.DestinationUserDashboard)
	return nil
}

// Cancel leaves the form and returns to the cart.
func (f *Flow) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateForm {
		return ErrInvalidTransition
	}
	f.finish(StateCancelled, domain.DestinationCart)
	return nil
}

// finish must be called with f.mu held.
func (f *Flow) finish(s State, d domain.Destination) {
	f.state = s
	f.destination = d
	f.stopTimer()
	close(f.done)
}

// Close stops the pending redirect timer. A closed flow no longer changes state on its own.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.stopTimer()
}

func (f *Flow) stopTimer() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

// Done is closed when the flow reaches Redirected or Cancelled.
func (f *Flow) Done() <-chan struct{} { return f.done }

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]domain.CartEntry, len(f.lines))
	copy(lines, f.lines)
	v := View{
		ID:          f.id,
		State:       f.state,
		Draft:       f.draft,
		Lines:       lines,
		Total:       f.total,
		Summary:     FormatSummary(f.lines),
		Destination: f.destination,
	}
	if f.state == StateConfirmed {
		at := f.redirectAt
		v.RedirectAt = &at
	}
	return v
}
