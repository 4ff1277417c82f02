// Package keys issues and verifies the gateway's own opaque API tokens.
//
// Token format: sk_<id>.<secret> where id is 32 hex chars (128-bit random)
// and secret is 64 hex chars (256-bit random). Only a salted SHA-256 of the
// secret is persisted; the full token is returned to the caller exactly once
// at creation.
package keys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const tokenPrefix = "sk_"

// Record is the persisted form of a key. The secret itself is never stored.
type Record struct {
	ID         string   `json:"id"`
	SecretHash string   `json:"secret_hash"`
	Salt       string   `json:"salt"`
	Label      string   `json:"label,omitempty"`
	CreatedAt  int64    `json:"created_at"`
	ExpiresAt  int64    `json:"expires_at,omitempty"`
	RevokedAt  int64    `json:"revoked_at,omitempty"`
	Scopes     []string `json:"scopes,omitempty"`
}

// Meta is the client-visible view of a Record (no hash, no salt).
type Meta struct {
	ID        string   `json:"id"`
	Label     string   `json:"label,omitempty"`
	CreatedAt int64    `json:"created_at"`
	ExpiresAt int64    `json:"expires_at,omitempty"`
	RevokedAt int64    `json:"revoked_at,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
}

func (r *Record) meta() Meta {
	return Meta{
		ID:        r.ID,
		Label:     r.Label,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		RevokedAt: r.RevokedAt,
		Scopes:    r.Scopes,
	}
}

// Generated is returned once at creation and carries the full token.
type Generated struct {
	ID        string   `json:"id"`
	Token     string   `json:"token"`
	Label     string   `json:"label,omitempty"`
	CreatedAt int64    `json:"created_at"`
	ExpiresAt int64    `json:"expires_at,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
}

// Verification outcomes.
type Verification int

const (
	Invalid Verification = iota
	Valid
	Revoked
	Expired
)

// Store persists key records. Implementations must be safe for concurrent
// use.
type Store interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context) ([]*Record, error)
	// DeleteExpired removes records whose expiry is before cutoff and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// ErrNotFound is returned by Store.Get for unknown ids.
var ErrNotFound = errors.New("keys: not found")

// Policy controls issuance rules.
type Policy struct {
	// RequireExpiration rejects creation without a TTL or expires_at.
	RequireExpiration bool
	// AllowNoExpiration permits explicitly non-expiring keys even when a
	// default TTL is configured.
	AllowNoExpiration bool
	// DefaultTTL fills in the TTL when the caller omits one. Zero means no
	// default.
	DefaultTTL time.Duration
}

// Manager issues, verifies, revokes and expires keys against a Store.
type Manager struct {
	store  Store
	policy Policy
	now    func() time.Time
}

// NewManager creates a Manager.
func NewManager(store Store, policy Policy) *Manager {
	return &Manager{store: store, policy: policy, now: time.Now}
}

// GenerateInput is the creation request.
type GenerateInput struct {
	Label      string
	TTLSeconds int64
	// ExpiresAt is a unix-seconds timestamp; wins over TTLSeconds when both
	// are provided.
	ExpiresAt int64
	Scopes    []string
}

// Generate creates a key and returns the full token exactly once.
func (m *Manager) Generate(ctx context.Context, in GenerateInput) (*Generated, error) {
	now := m.now()

	var expiresAt int64
	switch {
	case in.ExpiresAt > 0:
		if in.ExpiresAt <= now.Unix() {
			return nil, fmt.Errorf("keys: expires_at must be in the future")
		}
		expiresAt = in.ExpiresAt
	case in.TTLSeconds > 0:
		expiresAt = now.Add(time.Duration(in.TTLSeconds) * time.Second).Unix()
	case m.policy.DefaultTTL > 0 && !m.policy.AllowNoExpiration:
		expiresAt = now.Add(m.policy.DefaultTTL).Unix()
	}

	if expiresAt == 0 && m.policy.RequireExpiration && !m.policy.AllowNoExpiration {
		return nil, fmt.Errorf("keys: expiration required: provide ttl_seconds or expires_at")
	}

	id, err := randomHex(16)
	if err != nil {
		return nil, err
	}
	secret, err := randomHex(32)
	if err != nil {
		return nil, err
	}
	salt, err := randomHex(16)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:         id,
		SecretHash: hashSecret(salt, secret),
		Salt:       salt,
		Label:      in.Label,
		CreatedAt:  now.Unix(),
		ExpiresAt:  expiresAt,
		Scopes:     in.Scopes,
	}
	if err := m.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("keys: persist: %w", err)
	}

	return &Generated{
		ID:        id,
		Token:     tokenPrefix + id + "." + secret,
		Label:     in.Label,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: expiresAt,
		Scopes:    in.Scopes,
	}, nil
}

// Verify checks a presented token. The hash comparison is constant-time.
func (m *Manager) Verify(ctx context.Context, token string) (Verification, *Meta) {
	id, secret, ok := splitToken(token)
	if !ok {
		return Invalid, nil
	}

	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return Invalid, nil
	}

	if rec.RevokedAt > 0 {
		meta := rec.meta()
		return Revoked, &meta
	}
	if rec.ExpiresAt > 0 && m.now().Unix() >= rec.ExpiresAt {
		meta := rec.meta()
		return Expired, &meta
	}

	want, err := hex.DecodeString(rec.SecretHash)
	if err != nil {
		return Invalid, nil
	}
	got := sha256.Sum256(append(saltBytes(rec.Salt), []byte(secret)...))
	if subtle.ConstantTimeCompare(want, got[:]) != 1 {
		return Invalid, nil
	}

	meta := rec.meta()
	return Valid, &meta
}

// Revoke marks a key revoked. Revocation is final: it reports false when the
// id is unknown and leaves an already-revoked key untouched.
func (m *Manager) Revoke(ctx context.Context, id string) (bool, error) {
	rec, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.RevokedAt > 0 {
		return true, nil
	}
	rec.RevokedAt = m.now().Unix()
	if err := m.store.Put(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

// SetExpiration updates or clears a key's expiry. expiresAt == 0 clears it.
func (m *Manager) SetExpiration(ctx context.Context, id string, expiresAt int64) (bool, error) {
	rec, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	rec.ExpiresAt = expiresAt
	if err := m.store.Put(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

// List returns metadata for all keys.
func (m *Manager) List(ctx context.Context) ([]Meta, error) {
	recs, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Meta, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.meta())
	}
	return out, nil
}

// DeleteExpired prunes keys whose expiry has passed.
func (m *Manager) DeleteExpired(ctx context.Context) (int, error) {
	return m.store.DeleteExpired(ctx, m.now())
}

// Close releases the underlying store.
func (m *Manager) Close() error { return m.store.Close() }

func splitToken(token string) (id, secret string, ok bool) {
	token = strings.TrimSpace(token)
	if !strings.HasPrefix(token, tokenPrefix) {
		return "", "", false
	}
	rest := token[len(tokenPrefix):]
	dot := strings.IndexByte(rest, '.')
	if dot != 32 || len(rest) != 32+1+64 {
		return "", "", false
	}
	return rest[:dot], rest[dot+1:], true
}

func hashSecret(salt, secret string) string {
	sum := sha256.Sum256(append(saltBytes(salt), []byte(secret)...))
	return hex.EncodeToString(sum[:])
}

func saltBytes(salt string) []byte {
	b, err := hex.DecodeString(salt)
	if err != nil {
		return []byte(salt)
	}
	return b
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("keys: entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
