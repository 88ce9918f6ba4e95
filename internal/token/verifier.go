package token

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Typed verification failures. The verifier never lets a jwt library error
// escape unclassified.
var (
	// ErrExpired indicates the token's lifetime has elapsed.
	ErrExpired = errors.New("token: expired")
	// ErrSignatureInvalid indicates a wrong, rotated, or tampered key.
	ErrSignatureInvalid = errors.New("token: signature invalid")
	// ErrMalformed indicates the token could not be parsed at all.
	ErrMalformed = errors.New("token: malformed")
)

// Reason codes returned across the API boundary.
const (
	ReasonExpired          = "expired"
	ReasonSignatureInvalid = "signature_invalid"
	ReasonMalformed        = "malformed"
)

// Reason maps a typed verification error to its wire reason code.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return ReasonExpired
	case errors.Is(err, ErrSignatureInvalid):
		return ReasonSignatureInvalid
	default:
		return ReasonMalformed
	}
}

// Verifier validates presented tokens using the same key-selection rule as
// issuance: service secret when a serviceID is given and provisioned,
// otherwise the hub-wide secret. A token signed with a rotated-out secret
// fails with ErrSignatureInvalid; there is no fallback key.
type Verifier struct {
	issuer *Issuer
	now    func() time.Time
}

// NewVerifier constructs a Verifier sharing the Issuer's key selection.
func NewVerifier(issuer *Issuer) *Verifier {
	return &Verifier{issuer: issuer, now: time.Now}
}

// Verify parses and validates a raw token, returning its claims or a typed
// failure.
func (v *Verifier) Verify(ctx context.Context, raw string, serviceID *uint64) (*Claims, error) {
	if raw == "" {
		return nil, ErrMalformed
	}
	key, _, errKey := v.issuer.signingKey(ctx, serviceID)
	if errKey != nil {
		return nil, errKey
	}

	parsed, errParse := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrSignatureInvalid
		}
		return key, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithIssuer(tokenIssuer))
	if errParse != nil {
		switch {
		case errors.Is(errParse, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(errParse, jwt.ErrTokenSignatureInvalid):
			return nil, ErrSignatureInvalid
		case errors.Is(errParse, jwt.ErrTokenMalformed):
			return nil, ErrMalformed
		default:
			return nil, ErrSignatureInvalid
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	if claims.UserID == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}
