// Package memory provides an in-memory credential repository for
// development and testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/leadflowhq/leadstream/internal/auth"
)

// Repository keeps credentials in process-local maps.
type Repository struct {
	mu     sync.RWMutex
	byID   map[string]auth.Credential
	byHash map[string]string // secret hash -> credential id
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		byID:   make(map[string]auth.Credential),
		byHash: make(map[string]string),
	}
}

// Insert stores a new credential.
func (r *Repository) Insert(_ context.Context, cred auth.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[cred.ID] = cred
	r.byHash[cred.SecretHash] = cred.ID
	return nil
}

// GetByID fetches a credential by id.
func (r *Repository) GetByID(_ context.Context, id string) (auth.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cred, ok := r.byID[id]
	if !ok {
		return auth.Credential{}, auth.ErrNotFound
	}
	return cred, nil
}

// GetByHash fetches a credential by its secret hash.
func (r *Repository) GetByHash(_ context.Context, secretHash string) (auth.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHash[secretHash]
	if !ok {
		return auth.Credential{}, auth.ErrNotFound
	}
	return r.byID[id], nil
}

// ListByOwner returns all credentials owned by ownerID, revoked included.
func (r *Repository) ListByOwner(_ context.Context, ownerID string) ([]auth.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []auth.Credential
	for _, cred := range r.byID {
		if cred.OwnerID == ownerID {
			out = append(out, cred)
		}
	}
	return out, nil
}

// CountActiveByOwner counts credentials still marked active for ownerID.
func (r *Repository) CountActiveByOwner(_ context.Context, ownerID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, cred := range r.byID {
		if cred.OwnerID == ownerID && cred.IsActive {
			count++
		}
	}
	return count, nil
}

// SetActive flips a credential's active flag.
func (r *Repository) SetActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	cred.IsActive = active
	r.byID[id] = cred
	return nil
}

// SetName updates a credential's display name.
func (r *Repository) SetName(_ context.Context, id, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	cred.Name = name
	r.byID[id] = cred
	return nil
}

// TouchLastUsed stamps the credential's last_used marker. Last write wins.
func (r *Repository) TouchLastUsed(_ context.Context, id string, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	cred.LastUsedAt = &ts
	r.byID[id] = cred
	return nil
}
