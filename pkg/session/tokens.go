package session

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrTokenNotFound indicates no token is registered for the session.
	ErrTokenNotFound = errors.New("token not registered")
	// ErrTokenMismatch indicates the presented token failed verification.
	ErrTokenMismatch = errors.New("token mismatch")
	// ErrConcurrencyLimit indicates the token is already at its in-flight
	// call limit. Callers may retry.
	ErrConcurrencyLimit = errors.New("concurrency limit reached")
)

// tokenBytes is the entropy of a bearer token. URL-safe base64 encoded.
const tokenBytes = 32

// NewToken generates an opaque bearer token.
func NewToken() (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// TokenRegistry maps session id → token hash and grants per-token
// concurrency permits. The plaintext token is never stored. Sessions and
// tokens are one-to-one, so permits are keyed by session id.
type TokenRegistry struct {
	mu       sync.Mutex
	limit    int64
	hashes   map[uuid.UUID][sha256.Size]byte
	permits  map[uuid.UUID]*semaphore.Weighted
	dummyRef [sha256.Size]byte
}

// NewTokenRegistry creates a token registry granting up to maxInflight
// concurrent permits per token. maxInflight below 1 is treated as 1.
func NewTokenRegistry(maxInflight int64) *TokenRegistry {
	if maxInflight < 1 {
		maxInflight = 1
	}
	return &TokenRegistry{
		limit:    maxInflight,
		hashes:   make(map[uuid.UUID][sha256.Size]byte),
		permits:  make(map[uuid.UUID]*semaphore.Weighted),
		dummyRef: sha256.Sum256([]byte("caster.token.dummy")),
	}
}

// Register stores the token's hash for the session and returns the hash in
// hex. A second Register for the same session replaces the mapping.
func (t *TokenRegistry) Register(sessionID uuid.UUID, token string) string {
	sum := sha256.Sum256([]byte(token))

	t.mu.Lock()
	defer t.mu.Unlock()

	t.hashes[sessionID] = sum
	t.permits[sessionID] = semaphore.NewWeighted(t.limit)
	return hex.EncodeToString(sum[:])
}

// Verify checks the presented token against the stored hash. The comparison
// is constant-time in the presented token's bytes: the token is hashed
// unconditionally and the fixed-size digests are compared with
// subtle.ConstantTimeCompare. Unknown sessions compare against a dummy
// digest so the work done does not reveal registration state.
func (t *TokenRegistry) Verify(sessionID uuid.UUID, presented string) bool {
	presentedSum := sha256.Sum256([]byte(presented))

	t.mu.Lock()
	ref, ok := t.hashes[sessionID]
	if !ok {
		ref = t.dummyRef
	}
	t.mu.Unlock()

	match := subtle.ConstantTimeCompare(ref[:], presentedSum[:]) == 1
	return ok && match
}

// Acquire takes one in-flight permit for the session's token. It never
// blocks: contention beyond the limit fails immediately with
// ErrConcurrencyLimit.
func (t *TokenRegistry) Acquire(sessionID uuid.UUID) error {
	t.mu.Lock()
	sem, ok := t.permits[sessionID]
	t.mu.Unlock()

	if !ok {
		return ErrTokenNotFound
	}
	if !sem.TryAcquire(1) {
		return ErrConcurrencyLimit
	}
	return nil
}

// Release returns one permit. Releasing after Revoke is a no-op.
func (t *TokenRegistry) Release(sessionID uuid.UUID) {
	t.mu.Lock()
	sem, ok := t.permits[sessionID]
	t.mu.Unlock()

	if ok {
		sem.Release(1)
	}
}

// Revoke atomically removes the token mapping and its permit semaphore.
// In-flight calls keep their permits; their eventual Release is a no-op.
func (t *TokenRegistry) Revoke(sessionID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.hashes, sessionID)
	delete(t.permits, sessionID)
}
