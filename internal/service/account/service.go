// Package account runs the sign-up, sign-in and password recovery screens on top of the
// identity provider and the user profile records.
package account

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
	"storefront/internal/logging"
	"storefront/internal/service/identity"
)

const (
	SignUpMessage = "Verification email sent. Please check your inbox."
	SignInMessage = "Login successful! Checking role..."
)

var (
	emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)
	phonePattern = regexp.MustCompile(`^\d{10,15}$`)
)

// ErrVerifyEmailFirst is returned when an unverified user signs in. It matches
// identity.ErrEmailNotVerified.
var ErrVerifyEmailFirst error = unverifiedError{}

type unverifiedError struct{}

func (unverifiedError) Error() string {
	return "Please verify your email before logging in. Check your inbox."
}

func (unverifiedError) Is(target error) bool { return target == identity.ErrEmailNotVerified }

type identityProvider interface {
	SignUp(ctx context.Context, email, password string) (*domain.User, error)
	SignIn(ctx context.Context, email, password string) (*identity.Session, error)
	SignOut(ctx context.Context, token string) error
	VerifyEmail(ctx context.Context, code string) (*domain.User, error)
	RequestPasswordReset(ctx context.Context, email string) error
	CheckPasswordResetCode(ctx context.Context, code string) (string, error)
	ConfirmPasswordReset(ctx context.Context, code, newPassword string) error
	DeleteAccount(ctx context.Context, userID string) error
}

type profileRepo interface {
	Save(ctx context.Context, userID string, p domain.Profile) error
	MarkVerified(ctx context.Context, userID string) error
	Role(ctx context.Context, userID string) (domain.Role, error)
}

type Service struct {
	identity identityProvider
	profiles profileRepo
	logger   logrus.FieldLogger
	now      func() time.Time
}

func New(idp identityProvider, profiles profileRepo, logger logrus.FieldLogger) *Service {
	return &Service{identity: idp, profiles: profiles, logger: logging.OrDiscard(logger), now: time.Now}
}

// SignupInput is the sign-up form.
type SignupInput struct {
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (in SignupInput) validate() error {
	switch {
	case len(strings.TrimSpace(in.Name)) < 2:
		return domain.Invalid("Please enter a valid full name.")
	case !phonePattern.MatchString(in.Phone):
		return domain.Invalid("Phone must be 10 to 15 digits.")
	case !emailPattern.MatchString(in.Email):
		return domain.Invalid("Enter a valid email.")
	case len(in.Password) < identity.MinPasswordLength:
		return domain.Invalid(fmt.Sprintf("Password must be at least %d characters.", identity.MinPasswordLength))
	case in.Password != in.ConfirmPassword:
		return domain.Invalid("Passwords do not match.")
	}
	return nil
}

// SignUp validates the form, creates the account and writes the profile record. The
// account is removed again when the profile cannot be written, so the form can be resent.
func (s *Service) SignUp(ctx context.Context, in SignupInput) (*domain.User, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	user, err := s.identity.SignUp(ctx, in.Email, in.Password)
	if err != nil {
		return nil, err
	}
	profile := domain.Profile{
		Name:          strings.TrimSpace(in.Name),
		Phone:         in.Phone,
		Email:         user.Email,
		CreatedAt:     s.now().UTC(),
		EmailVerified: user.EmailVerified,
	}
	if err := s.profiles.Save(ctx, user.ID, profile); err != nil {
		log := s.logger.WithFields(logrus.Fields{"user_id": user.ID, "error": err})
		if derr := s.identity.DeleteAccount(ctx, user.ID); derr != nil {
			log.WithField("rollback_error", derr).Error("account: profile write failed, account left without profile")
		} else {
			log.Warn("account: profile write failed, account removed")
		}
		return nil, fmt.Errorf("save profile: %w", err)
	}
	s.logger.WithField("user_id", user.ID).Info("account: signed up")
	return user, nil
}

// SignInResult is a verified session and where to go next.
type SignInResult struct {
	Session     *identity.Session  `json:"session"`
	Role        domain.Role        `json:"role"`
	Destination domain.Destination `json:"destination"`
	Message     string             `json:"message"`
}

// SignIn opens a session for a verified user. Unverified sessions are signed straight back
// out and ErrVerifyEmailFirst is returned; the caller belongs on the sign-in screen.
func (s *Service) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	if email == "" || password == "" {
		return nil, domain.Invalid("Please enter email and password")
	}
	sess, err := s.identity.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if !sess.User.EmailVerified {
		if err := s.identity.SignOut(ctx, sess.Token); err != nil {
			s.logger.WithFields(logrus.Fields{"user_id": sess.User.ID, "error": err}).Error("account: sign out unverified session")
		}
		return nil, ErrVerifyEmailFirst
	}
	role, err := s.profiles.Role(ctx, sess.User.ID)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"user_id": sess.User.ID, "error": err}).Warn("account: role lookup failed")
		role = domain.RoleUser
	}
	return &SignInResult{
		Session:     sess,
		Role:        role,
		Destination: domain.DashboardFor(role),
		Message:     SignInMessage,
	}, nil
}

func (s *Service) SignOut(ctx context.Context, token string) error {
	return s.identity.SignOut(ctx, token)
}

// VerifyEmail consumes a verification code and mirrors the flag into the profile.
func (s *Service) VerifyEmail(ctx context.Context, code string) (*domain.User, error) {
	user, err := s.identity.VerifyEmail(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.profiles.MarkVerified(ctx, user.ID); err != nil {
		s.logger.WithFields(logrus.Fields{"user_id": user.ID, "error": err}).Warn("account: profile verify flag")
	}
	return user, nil
}

// RequestPasswordReset sends a reset link and returns the message to show.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", domain.Invalid("Please enter your email address.")
	}
	if err := s.identity.RequestPasswordReset(ctx, email); err != nil {
		return "", err
	}
	return fmt.Sprintf("A password reset link has been sent to %s. Please check your inbox.", email), nil
}

// ResetCodeMessage is shown when a mailed reset link is opened.
const ResetCodeMessage = "Enter a new password for %s."

// CheckPasswordResetCode validates a mailed reset code without using it and returns the
// message to show next to the new-password form.
func (s *Service) CheckPasswordResetCode(ctx context.Context, code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", identity.ErrInvalidCode
	}
	email, err := s.identity.CheckPasswordResetCode(ctx, code)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(ResetCodeMessage, email), nil
}

func (s *Service) ConfirmPasswordReset(ctx context.Context, code, newPassword string) error {
	err := s.identity.ConfirmPasswordReset(ctx, code, newPassword)
	if errors.Is(err, identity.ErrWeakPassword) {
		return domain.Invalid(fmt.Sprintf("Password must be at least %d characters.", identity.MinPasswordLength))
	}
	return err
}
