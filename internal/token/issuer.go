package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/authhub/authhub/internal/audit"
	dbutil "github.com/authhub/authhub/internal/db"
	"github.com/authhub/authhub/internal/models"
	"github.com/authhub/authhub/internal/rbac"
	"github.com/authhub/authhub/internal/vault"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

// tokenIssuer is the iss claim on every hub-issued token.
const tokenIssuer = "authhub"

// ErrServiceNotFound indicates the serviceID given for key selection does
// not reference a registered service.
var ErrServiceNotFound = errors.New("token: service not found")

// Issuer signs tokens. With a serviceID present and a provisioned secret,
// the service's decrypted secret signs the token; otherwise the hub-wide
// secret does.
type Issuer struct {
	db        *gorm.DB
	vault     *vault.Vault
	recorder  *audit.Recorder
	hubSecret []byte
	now       func() time.Time
}

// NewIssuer constructs an Issuer.
func NewIssuer(db *gorm.DB, v *vault.Vault, recorder *audit.Recorder, hubSecret string) *Issuer {
	return &Issuer{db: db, vault: v, recorder: recorder, hubSecret: []byte(hubSecret), now: time.Now}
}

// signingKey selects the key for the given service context. Reads the
// service row fresh on every call so a rotation is picked up immediately.
func (i *Issuer) signingKey(ctx context.Context, serviceID *uint64) ([]byte, string, error) {
	if serviceID == nil {
		return i.hubSecret, "", nil
	}
	var service models.Service
	if errFind := i.db.WithContext(ctx).First(&service, *serviceID).Error; errFind != nil {
		if dbutil.IsNotFound(errFind) {
			return nil, "", ErrServiceNotFound
		}
		return nil, "", errFind
	}
	if service.EncryptedSecret == "" {
		return i.hubSecret, service.Name, nil
	}
	plaintext, errDecrypt := i.vault.Decrypt(service.EncryptedSecret)
	if errDecrypt != nil {
		i.recorder.Record(ctx, audit.Entry{
			Event:      audit.EventDecryptFailure,
			Severity:   models.SeverityCritical,
			Action:     "service secret failed to decrypt",
			TargetName: service.Name,
			Payload:    map[string]any{"service_id": service.ID},
		})
		return nil, "", errDecrypt
	}
	return []byte(plaintext), service.Name, nil
}

// Issue signs a token embedding the user identity and resolved access, and
// records an auth.login audit event.
func (i *Issuer) Issue(ctx context.Context, user *models.User, access rbac.ResolvedAccess, serviceID *uint64) (string, *Claims, error) {
	if user == nil {
		return "", nil, errors.New("token: user is required")
	}
	key, serviceName, errKey := i.signingKey(ctx, serviceID)
	if errKey != nil {
		return "", nil, errKey
	}

	roleClaim, permClaims, modelClaim := claimsFromAccess(access)
	now := i.now().UTC()
	claims := Claims{
		UserID:      user.ID,
		Email:       userEmail(user),
		Role:        user.Role,
		RbacRole:    roleClaim,
		Permissions: permClaims,
		RbacModel:   modelClaim,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TTL)),
		},
	}

	signed, errSign := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if errSign != nil {
		return "", nil, fmt.Errorf("token: sign: %w", errSign)
	}

	resolvedRole := ""
	if roleClaim != nil {
		resolvedRole = roleClaim.Name
	}
	i.recorder.Record(ctx, audit.Entry{
		Event:      audit.EventLogin,
		Severity:   models.SeverityInfo,
		ActorID:    user.ID,
		Action:     "token issued",
		TargetName: serviceName,
		Payload:    map[string]any{"resolved_role": resolvedRole, "service": serviceName},
	})
	return signed, &claims, nil
}
