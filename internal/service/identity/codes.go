package identity

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type codePurpose string

const (
	purposeVerifyEmail   codePurpose = "verifyEmail"
	purposeResetPassword codePurpose = "resetPassword"
)

type codeClaims struct {
	Purpose codePurpose `json:"purpose"`
	// Fingerprint binds a reset code to the password it replaces, so it works once.
	Fingerprint string `json:"fp,omitempty"`
	jwt.RegisteredClaims
}

// codeSigner issues the out-of-band action codes mailed to users.
type codeSigner struct {
	key []byte
	now func() time.Time
}

func (s codeSigner) issue(purpose codePurpose, accountID, fingerprint string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := codeClaims{
		Purpose:     purpose,
		Fingerprint: fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

func (s codeSigner) parse(code string, purpose codePurpose) (*codeClaims, error) {
	var claims codeClaims
	_, err := jwt.ParseWithClaims(code, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.key, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	if claims.Purpose != purpose || claims.Subject == "" {
		return nil, ErrInvalidCode
	}
	return &claims, nil
}

func fingerprint(passwordHash string) string {
	sum := sha256.Sum256([]byte(passwordHash))
	return base64.RawURLEncoding.EncodeToString(sum[:12])
}
