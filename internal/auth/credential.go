// Package auth manages API credential lifecycle and per-request identity
// resolution.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

const secretPrefix = "ls_"

// Identity is the resolved caller of a request. It is derived per request
// and never persisted.
type Identity struct {
	ID             string
	Method         string // api_key, bearer, or anonymous
	IsActive       bool
	IsAdmin        bool
	QuotaPerMinute int
	Permissions    []string
}

// Credential is an issued API secret. Only the hash of the secret is ever
// stored; the plaintext exists once, at creation.
type Credential struct {
	ID             string
	SecretHash     string
	OwnerID        string
	Name           string
	Permissions    []string
	IsActive       bool
	QuotaPerMinute int
	CreatedAt      time.Time
	ExpiresAt      *time.Time
	LastUsedAt     *time.Time
}

// Expired reports whether the credential is past its expiry at now.
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// Info is the caller-visible view of a credential. It never carries the
// secret or its hash.
type Info struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used,omitempty"`
}

// InfoOf strips a credential down to its caller-visible metadata.
func InfoOf(c Credential) Info {
	return Info{
		ID:          c.ID,
		Name:        c.Name,
		Permissions: append([]string(nil), c.Permissions...),
		IsActive:    c.IsActive,
		CreatedAt:   c.CreatedAt,
		ExpiresAt:   c.ExpiresAt,
		LastUsedAt:  c.LastUsedAt,
	}
}

// Repository persists credentials. Implementations must be safe for
// concurrent use and return ErrNotFound for unknown ids/hashes.
type Repository interface {
	Insert(ctx context.Context, cred Credential) error
	GetByID(ctx context.Context, id string) (Credential, error)
	GetByHash(ctx context.Context, secretHash string) (Credential, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Credential, error)
	CountActiveByOwner(ctx context.Context, ownerID string) (int, error)
	SetActive(ctx context.Context, id string, active bool) error
	SetName(ctx context.Context, id, name string) error
	TouchLastUsed(ctx context.Context, id string, ts time.Time) error
}

// NewSecret generates a high-entropy API secret.
func NewSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return secretPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashSecret returns the hex SHA-256 digest stored in place of the secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
