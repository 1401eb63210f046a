// Package session carries the signed-in user explicitly and decides whether a screen may
// be shown for a session.
package session

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
	"storefront/internal/logging"
	"storefront/internal/service/identity"
)

// UnverifiedMessage is shown when an unverified session reaches a guarded screen.
const UnverifiedMessage = "Please verify your email before accessing the dashboard."

// Context is the session a request acts for.
type Context struct {
	Token string
	User  domain.User
	Role  domain.Role
}

// IsAdmin reports whether the session has the admin role.
func (c Context) IsAdmin() bool { return c.Role == domain.RoleAdmin }

// Decision is the guard's verdict for one auth state.
type Decision struct {
	Allow      bool               `json:"allow"`
	RedirectTo domain.Destination `json:"redirectTo,omitempty"`
	Message    string             `json:"message,omitempty"`
}

type authority interface {
	CurrentUser(ctx context.Context, token string) (*domain.User, error)
	SignOut(ctx context.Context, token string) error
	Watch(token string, fn func(identity.AuthState)) (stop func())
}

type roleLookup interface {
	Role(ctx context.Context, userID string) (domain.Role, error)
}

// Guard gates screens on a signed-in, verified session.
type Guard struct {
	auth   authority
	roles  roleLookup
	logger logrus.FieldLogger
}

func NewGuard(auth authority, roles roleLookup, logger logrus.FieldLogger) *Guard {
	return &Guard{auth: auth, roles: roles, logger: logging.OrDiscard(logger)}
}

// Decide applies the rules to one auth state. An unverified session is signed out.
func (g *Guard) Decide(ctx context.Context, token string, st identity.AuthState) Decision {
	if !st.SignedIn {
		return Decision{RedirectTo: domain.DestinationSignIn}
	}
	if !st.User.EmailVerified {
		if err := g.auth.SignOut(ctx, token); err != nil {
			g.logger.WithFields(logrus.Fields{"user_id": st.User.ID, "error": err}).Error("session: sign out unverified")
		}
		return Decision{RedirectTo: domain.DestinationSignIn, Message: UnverifiedMessage}
	}
	return Decision{Allow: true}
}

// Check evaluates the current state of token. The Context is only meaningful when the
// decision allows access.
func (g *Guard) Check(ctx context.Context, token string) (Context, Decision, error) {
	var st identity.AuthState
	user, err := g.auth.CurrentUser(ctx, token)
	switch {
	case errors.Is(err, identity.ErrInvalidToken):
	case err != nil:
		return Context{}, Decision{}, err
	default:
		st = identity.AuthState{SignedIn: true, User: *user}
	}

	d := g.Decide(ctx, token, st)
	if !d.Allow {
		return Context{}, d, nil
	}
	role, err := g.roles.Role(ctx, user.ID)
	if err != nil {
		return Context{}, Decision{}, err
	}
	return Context{Token: token, User: *user, Role: role}, d, nil
}

// Watch calls fn with a decision for every auth-state notification of token until stop
// is called. stop must not be called from inside fn.
func (g *Guard) Watch(token string, fn func(Decision)) (stop func()) {
	return g.auth.Watch(token, func(st identity.AuthState) {
		fn(g.Decide(context.Background(), token, st))
	})
}
