// Package nostr implements challenge issuance and Schnorr signature
// verification for Nostr-keyed logins.
package nostr

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// ChallengeTTL is how long an issued challenge stays valid.
const ChallengeTTL = 5 * time.Minute

var (
	// ErrChallengeUnknown indicates the challenge was never issued or has
	// already been consumed or expired.
	ErrChallengeUnknown = errors.New("nostr: unknown or expired challenge")
	// ErrSignatureInvalid indicates the signature does not verify against
	// the pubkey and challenge.
	ErrSignatureInvalid = errors.New("nostr: signature verification failed")
)

// ChallengeStore holds outstanding login challenges in memory. Entries
// expire passively: expired rows are swept on lookup and issuance, never by
// a background timer.
type ChallengeStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewChallengeStore constructs a ChallengeStore with the default TTL.
func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{
		entries: make(map[string]time.Time),
		ttl:     ChallengeTTL,
		now:     time.Now,
	}
}

// Issue creates a new random challenge and returns it with its expiry.
func (s *ChallengeStore) Issue() (challenge string, expiresAt time.Time, err error) {
	raw := make([]byte, 32)
	if _, errRead := rand.Read(raw); errRead != nil {
		return "", time.Time{}, fmt.Errorf("nostr: generate challenge: %w", errRead)
	}
	challenge = hex.EncodeToString(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	expiresAt = s.now().Add(s.ttl)
	s.entries[challenge] = expiresAt
	return challenge, expiresAt, nil
}

// Consume removes the challenge, returning an error when it was never
// issued, already used, or expired. A challenge is single-use.
func (s *ChallengeStore) Consume(challenge string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	if _, ok := s.entries[challenge]; !ok {
		return ErrChallengeUnknown
	}
	delete(s.entries, challenge)
	return nil
}

// sweepLocked drops expired entries. Callers must hold the mutex.
func (s *ChallengeStore) sweepLocked() {
	now := s.now()
	for challenge, expiry := range s.entries {
		if now.After(expiry) {
			delete(s.entries, challenge)
		}
	}
}

// VerifySignature checks a 64-byte Schnorr signature (hex) by an x-only
// 32-byte pubkey (hex) over sha256(challenge), the Nostr signing convention.
func VerifySignature(pubkeyHex, signatureHex, challenge string) error {
	pkBytes, errPk := hex.DecodeString(pubkeyHex)
	if errPk != nil || len(pkBytes) != 32 {
		return fmt.Errorf("%w: bad pubkey encoding", ErrSignatureInvalid)
	}
	sigBytes, errSig := hex.DecodeString(signatureHex)
	if errSig != nil || len(sigBytes) != 64 {
		return fmt.Errorf("%w: bad signature encoding", ErrSignatureInvalid)
	}

	pubkey, errParse := schnorr.ParsePubKey(pkBytes)
	if errParse != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, errParse)
	}
	sig, errParseSig := schnorr.ParseSignature(sigBytes)
	if errParseSig != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, errParseSig)
	}

	digest := sha256.Sum256([]byte(challenge))
	if !sig.Verify(digest[:], pubkey) {
		return ErrSignatureInvalid
	}
	return nil
}
