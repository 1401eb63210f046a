// Package identity is the identity provider: accounts, sessions and email ownership.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/domain"
	"storefront/internal/logging"
	accountrepo "storefront/internal/repository/account"
	tokenrepo "storefront/internal/repository/token"
)

var (
	// ErrInvalidCredentials is returned when email/password do not match.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailNotVerified is returned by operations that need a verified email.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrEmailInUse is returned when signing up with a registered email.
	ErrEmailInUse = errors.New("email already in use")
	// ErrInvalidCode is returned for malformed, expired or used action codes.
	ErrInvalidCode = errors.New("invalid or expired code")
	// ErrInvalidToken indicates the session token could not be validated.
	ErrInvalidToken = errors.New("invalid token")
	// ErrEmailRequired is returned when signing up without an email.
	ErrEmailRequired = errors.New("email required")
	// ErrWeakPassword is returned for passwords shorter than MinPasswordLength.
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

const (
	verifyCodeTTL = 72 * time.Hour
	resetCodeTTL  = time.Hour
)

// Session is a signed-in session. The caller must sign out sessions whose user is unverified.
type Session struct {
	Token     string      `json:"token"`
	User      domain.User `json:"user"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// Options configures a Provider.
type Options struct {
	SigningKey    []byte
	SessionTTL    time.Duration
	PublicBaseURL string
	Mailer        Mailer
	Logger        logrus.FieldLogger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Provider implements sign-up, sign-in, email verification and password reset.
type Provider struct {
	accounts   accountrepo.Repository
	tokens     *tokenManager
	codes      codeSigner
	mailer     Mailer
	log        logrus.FieldLogger
	baseURL    string
	sessionTTL time.Duration
	now        func() time.Time
	watchers   *watchHub
}

// New creates a Provider with defaults for unset options.
func New(accounts accountrepo.Repository, tokens tokenrepo.Repository, opts Options) *Provider {
	log := logging.OrDiscard(opts.Logger)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	mailer := opts.Mailer
	if mailer == nil {
		mailer = LogMailer{Log: log}
	}
	p := &Provider{
		accounts:   accounts,
		tokens:     newTokenManager(tokens, now),
		codes:      codeSigner{key: opts.SigningKey, now: now},
		mailer:     mailer,
		log:        log,
		baseURL:    strings.TrimRight(opts.PublicBaseURL, "/"),
		sessionTTL: ttl,
		now:        now,
	}
	p.watchers = newWatchHub(p.state, log)
	return p
}

// SignUp creates an unverified account and mails a verification link.
// A failed mail does not undo the account; the user can ask for a new link.
func (p *Provider) SignUp(ctx context.Context, email, password string) (*domain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, ErrEmailRequired
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	acc, err := p.accounts.Create(ctx, accountrepo.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hashed),
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, ErrEmailInUse
		}
		return nil, err
	}
	user := toUser(acc)
	p.log.WithField("user_id", user.ID).Info("identity: account created")

	if err := p.SendVerification(ctx, user.ID); err != nil {
		p.log.WithFields(logrus.Fields{"user_id": user.ID, "error": err}).Warn("identity: verification mail failed")
	}
	return &user, nil
}

// SendVerification mails a fresh verification link. Verified accounts are left alone.
func (p *Provider) SendVerification(ctx context.Context, userID string) error {
	acc, err := p.accounts.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if acc.EmailVerified {
		return nil
	}
	code, err := p.codes.issue(purposeVerifyEmail, acc.ID, "", verifyCodeTTL)
	if err != nil {
		return err
	}
	body := "Confirm your email address by opening this link:\n\n" + p.link("/auth/verify", code)
	return p.mailer.Send(ctx, acc.Email, "Verify your email", body)
}

// VerifyEmail consumes a verification code.
func (p *Provider) VerifyEmail(ctx context.Context, code string) (*domain.User, error) {
	claims, err := p.codes.parse(code, purposeVerifyEmail)
	if err != nil {
		return nil, err
	}
	if err := p.accounts.MarkVerified(ctx, claims.Subject); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, err
	}
	acc, err := p.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	p.watchers.notifyAccount(acc.ID)
	user := toUser(acc)
	p.log.WithField("user_id", user.ID).Info("identity: email verified")
	return &user, nil
}

// SignIn checks credentials and opens a session, verified or not.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	acc, err := p.accounts.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	token, expiresAt, err := p.tokens.Issue(ctx, acc.ID, p.sessionTTL)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: toUser(acc), ExpiresAt: expiresAt}, nil
}

// SignOut ends the session. Signing out an unknown token succeeds.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	if err := p.tokens.Revoke(ctx, token); err != nil {
		return err
	}
	p.watchers.notifyToken(token)
	return nil
}

// CurrentUser returns the user behind a live session token.
func (p *Provider) CurrentUser(ctx context.Context, token string) (*domain.User, error) {
	meta, err := p.tokens.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	acc, err := p.accounts.GetByID(ctx, meta.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	user := toUser(acc)
	return &user, nil
}

// RequestPasswordReset mails a reset link. Unknown emails are not reported to the caller.
func (p *Provider) RequestPasswordReset(ctx context.Context, email string) error {
	acc, err := p.accounts.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			p.log.Info("identity: password reset for unknown email")
			return nil
		}
		return err
	}
	code, err := p.codes.issue(purposeResetPassword, acc.ID, fingerprint(acc.PasswordHash), resetCodeTTL)
	if err != nil {
		return err
	}
	body := "Reset your password by opening this link:\n\n" + p.link("/auth/password-reset/confirm", code)
	return p.mailer.Send(ctx, acc.Email, "Reset your password", body)
}

// CheckPasswordResetCode reports whether code can still reset a password, without using it.
// It returns the email of the account the code belongs to.
func (p *Provider) CheckPasswordResetCode(ctx context.Context, code string) (string, error) {
	acc, err := p.resetAccount(ctx, code)
	if err != nil {
		return "", err
	}
	return acc.Email, nil
}

func (p *Provider) resetAccount(ctx context.Context, code string) (*accountrepo.Account, error) {
	claims, err := p.codes.parse(code, purposeResetPassword)
	if err != nil {
		return nil, err
	}
	acc, err := p.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, err
	}
	if claims.Fingerprint != fingerprint(acc.PasswordHash) {
		return nil, ErrInvalidCode
	}
	return acc, nil
}

// ConfirmPasswordReset sets a new password and ends every session of the account.
func (p *Provider) ConfirmPasswordReset(ctx context.Context, code, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}
	acc, err := p.resetAccount(ctx, code)
	if err != nil {
		return err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := p.accounts.SetPasswordHash(ctx, acc.ID, string(hashed)); err != nil {
		return err
	}
	revoked, err := p.tokens.RevokeAll(ctx, acc.ID)
	if err != nil {
		return err
	}
	for _, t := range revoked {
		p.watchers.notifyToken(t)
	}
	p.log.WithFields(logrus.Fields{"user_id": acc.ID, "sessions_ended": len(revoked)}).Info("identity: password reset")
	return nil
}

// DeleteAccount removes an account and ends its sessions. Deleting an unknown account succeeds.
func (p *Provider) DeleteAccount(ctx context.Context, userID string) error {
	revoked, err := p.tokens.RevokeAll(ctx, userID)
	if err != nil {
		return err
	}
	if err := p.accounts.Delete(ctx, userID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	for _, t := range revoked {
		p.watchers.notifyToken(t)
	}
	p.log.WithField("user_id", userID).Info("identity: account deleted")
	return nil
}

// Watch calls fn with the state of the session now and whenever it changes, until the
// returned stop func is called. stop must not be called from inside fn.
func (p *Provider) Watch(token string, fn func(AuthState)) (stop func()) {
	return p.watchers.watch(token, fn)
}

func (p *Provider) state(ctx context.Context, token string) (AuthState, error) {
	user, err := p.CurrentUser(ctx, token)
	if errors.Is(err, ErrInvalidToken) {
		return AuthState{}, nil
	}
	if err != nil {
		return AuthState{}, err
	}
	return AuthState{SignedIn: true, User: *user}, nil
}

func (p *Provider) link(path, code string) string {
	return p.baseURL + path + "?code=" + url.QueryEscape(code)
}

func toUser(a *accountrepo.Account) domain.User {
	return domain.User{
		ID:            a.ID,
		Email:         a.Email,
		EmailVerified: a.EmailVerified,
		CreatedAt:     a.CreatedAt,
	}
}
