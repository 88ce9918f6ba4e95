// Package gateway orchestrates logins: it resolves or creates the user,
// runs the permission resolver, and hands off to the token issuer.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/authhub/authhub/internal/audit"
	dbutil "github.com/authhub/authhub/internal/db"
	"github.com/authhub/authhub/internal/models"
	"github.com/authhub/authhub/internal/nostr"
	"github.com/authhub/authhub/internal/rbac"
	"github.com/authhub/authhub/internal/security"
	"github.com/authhub/authhub/internal/token"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrInvalidCredentials covers unknown identities and wrong passwords
	// alike, so responses don't reveal which one failed.
	ErrInvalidCredentials = errors.New("gateway: invalid credentials")
	// ErrMFARequired indicates the password checked out but a TOTP code is
	// needed to finish the login.
	ErrMFARequired = errors.New("gateway: totp code required")
	// ErrEmailTaken indicates the registration email is already in use.
	ErrEmailTaken = errors.New("gateway: email already registered")
	// ErrValidation indicates malformed login or registration input.
	ErrValidation = errors.New("gateway: invalid input")
)

// Gateway wires the login flows to the resolver/issuer pipeline.
type Gateway struct {
	db         *gorm.DB
	resolver   *rbac.Resolver
	issuer     *token.Issuer
	challenges *nostr.ChallengeStore
	recorder   *audit.Recorder
}

// New constructs a Gateway.
func New(db *gorm.DB, resolver *rbac.Resolver, issuer *token.Issuer, challenges *nostr.ChallengeStore, recorder *audit.Recorder) *Gateway {
	return &Gateway{db: db, resolver: resolver, issuer: issuer, challenges: challenges, recorder: recorder}
}

// createUser inserts a new user, promoting the first-ever account to the
// system admin role. The count and insert share one transaction so two
// concurrent first registrations cannot both become admin.
func (g *Gateway) createUser(ctx context.Context, user *models.User) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if errCount := tx.Model(&models.User{}).Count(&count).Error; errCount != nil {
			return errCount
		}
		user.Role = models.SystemRoleUser
		if count == 0 {
			user.Role = models.SystemRoleAdmin
		}
		now := time.Now().UTC()
		user.CreatedAt = now
		user.UpdatedAt = now
		return tx.Create(user).Error
	})
}

// LoginOrRegisterByUUID returns the user for the given UUID, creating the
// account on first sight. An empty id mints a fresh identity.
func (g *Gateway) LoginOrRegisterByUUID(ctx context.Context, id string) (*models.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	} else if _, errParse := uuid.Parse(id); errParse != nil {
		return nil, fmt.Errorf("%w: malformed uuid", ErrValidation)
	}

	var user models.User
	errFind := g.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errFind == nil {
		return &user, nil
	}
	if !dbutil.IsNotFound(errFind) {
		return nil, errFind
	}

	user = models.User{ID: id}
	if errCreate := g.createUser(ctx, &user); errCreate != nil {
		return nil, errCreate
	}
	g.recorder.Record(ctx, audit.Entry{
		Event: audit.EventRegister, ActorID: user.ID,
		Action: "user registered via uuid login",
	})
	return &user, nil
}

// RegisterByEmail creates an email/password account.
func (g *Gateway) RegisterByEmail(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrValidation)
	}
	if len(strings.TrimSpace(password)) < 6 {
		return nil, fmt.Errorf("%w: password must be at least 6 characters", ErrValidation)
	}

	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		return nil, errHash
	}
	user := models.User{ID: uuid.NewString(), Email: &email, PasswordHash: hash}
	if errCreate := g.createUser(ctx, &user); errCreate != nil {
		if dbutil.IsUniqueViolation(errCreate) {
			return nil, ErrEmailTaken
		}
		return nil, errCreate
	}
	g.recorder.Record(ctx, audit.Entry{
		Event: audit.EventRegister, ActorID: user.ID,
		Action: "user registered via email", TargetName: email,
	})
	return &user, nil
}

// LoginByEmail authenticates an email/password pair. Accounts with TOTP
// enabled must finish via LoginByEmailTOTP.
func (g *Gateway) LoginByEmail(ctx context.Context, email, password string) (*models.User, error) {
	user, errVerify := g.verifyEmailPassword(ctx, email, password)
	if errVerify != nil {
		return nil, errVerify
	}
	if user.TOTPEnabled {
		return nil, ErrMFARequired
	}
	return user, nil
}

// LoginByEmailTOTP authenticates an email/password pair plus a TOTP code.
func (g *Gateway) LoginByEmailTOTP(ctx context.Context, email, password, code string) (*models.User, error) {
	user, errVerify := g.verifyEmailPassword(ctx, email, password)
	if errVerify != nil {
		return nil, errVerify
	}
	if !user.TOTPEnabled {
		return nil, fmt.Errorf("%w: totp not enrolled", ErrValidation)
	}
	if !security.ValidateTOTP(code, user.TOTPSecret) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (g *Gateway) verifyEmailPassword(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	var user models.User
	if errFind := g.db.WithContext(ctx).First(&user, "email = ?", email).Error; errFind != nil {
		if dbutil.IsNotFound(errFind) {
			return nil, ErrInvalidCredentials
		}
		return nil, errFind
	}
	if errVerify := security.VerifyPassword(user.PasswordHash, password); errVerify != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// IssueChallenge creates a Nostr login challenge.
func (g *Gateway) IssueChallenge() (string, time.Time, error) {
	return g.challenges.Issue()
}

// LoginByNostr verifies a signed challenge and returns the user for the
// pubkey, creating the account on first login.
func (g *Gateway) LoginByNostr(ctx context.Context, pubkey, signature, challenge string) (*models.User, error) {
	pubkey = strings.TrimSpace(strings.ToLower(pubkey))
	if pubkey == "" || signature == "" || challenge == "" {
		return nil, ErrInvalidCredentials
	}
	if errConsume := g.challenges.Consume(challenge); errConsume != nil {
		return nil, ErrInvalidCredentials
	}
	if errVerify := nostr.VerifySignature(pubkey, signature, challenge); errVerify != nil {
		return nil, ErrInvalidCredentials
	}

	var user models.User
	errFind := g.db.WithContext(ctx).First(&user, "nostr_pubkey = ?", pubkey).Error
	if errFind == nil {
		return &user, nil
	}
	if !dbutil.IsNotFound(errFind) {
		return nil, errFind
	}

	user = models.User{ID: uuid.NewString(), NostrPubkey: &pubkey}
	if errCreate := g.createUser(ctx, &user); errCreate != nil {
		return nil, errCreate
	}
	g.recorder.Record(ctx, audit.Entry{
		Event: audit.EventRegister, ActorID: user.ID,
		Action: "user registered via nostr login",
	})
	return &user, nil
}

// Authenticate runs the resolve-then-issue pipeline for a logged-in user.
func (g *Gateway) Authenticate(ctx context.Context, user *models.User, serviceID *uint64) (string, *token.Claims, error) {
	access, errResolve := g.resolver.Resolve(ctx, user.ID, serviceID)
	if errResolve != nil {
		return "", nil, errResolve
	}
	return g.issuer.Issue(ctx, user, access, serviceID)
}
