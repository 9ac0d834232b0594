package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leadflowhq/leadstream/internal/validate"
)

// Clock supplies the current time so expiry logic is testable.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints credential ids.
type IDGenerator interface {
	NewID() (string, error)
}

// ServiceConfig bounds credential issuance.
type ServiceConfig struct {
	MaxActivePerOwner int
	DefaultExpiryDays int
	MaxExpiryDays     int
	DefaultQuota      int
	Clock             Clock
	IDs               IDGenerator
	Logger            *zap.Logger
}

// Service owns the credential lifecycle: creation, validation, revocation,
// renaming, and listing.
type Service struct {
	repo   Repository
	cfg    ServiceConfig
	logger *zap.Logger
}

// NewService wires a Service around the given repository.
func NewService(repo Repository, cfg ServiceConfig) *Service {
	if cfg.MaxActivePerOwner <= 0 {
		cfg.MaxActivePerOwner = 10
	}
	if cfg.DefaultExpiryDays <= 0 {
		cfg.DefaultExpiryDays = 30
	}
	if cfg.MaxExpiryDays <= 0 {
		cfg.MaxExpiryDays = 365
	}
	if cfg.DefaultQuota <= 0 {
		cfg.DefaultQuota = 100
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, cfg: cfg, logger: logger}
}

// Create issues a new credential for ownerID and returns it together with
// the plaintext secret. The secret is never stored and never returned again.
func (s *Service) Create(
	ctx context.Context,
	ownerID, name string,
	permissions []string,
	expiresDays *int,
) (Credential, string, error) {
	name, err := validate.SanitizeString(name, validate.MaxCredentialName)
	if err != nil {
		return Credential{}, "", fmt.Errorf("credential name: %w", err)
	}
	if name == "" {
		return Credential{}, "", &validate.Error{Reason: "credential name is required"}
	}
	if len(permissions) == 0 {
		permissions = []string{PermRead}
	}
	if !ValidPermissions(permissions) {
		return Credential{}, "", &validate.Error{Reason: "unknown permission requested"}
	}

	days := s.cfg.DefaultExpiryDays
	if expiresDays != nil {
		days = *expiresDays
	}
	if days < 1 || days > s.cfg.MaxExpiryDays {
		return Credential{}, "", &validate.Error{
			Reason: fmt.Sprintf("expires_days must be within [1, %d]", s.cfg.MaxExpiryDays),
		}
	}

	active, err := s.repo.CountActiveByOwner(ctx, ownerID)
	if err != nil {
		return Credential{}, "", fmt.Errorf("count active credentials: %w", err)
	}
	if active >= s.cfg.MaxActivePerOwner {
		return Credential{}, "", ErrQuotaExceeded
	}

	secret, err := NewSecret()
	if err != nil {
		return Credential{}, "", err
	}
	id, err := s.cfg.IDs.NewID()
	if err != nil {
		return Credential{}, "", fmt.Errorf("generate credential id: %w", err)
	}

	now := s.cfg.Clock.Now()
	expiresAt := now.AddDate(0, 0, days)
	cred := Credential{
		ID:             id,
		SecretHash:     HashSecret(secret),
		OwnerID:        ownerID,
		Name:           name,
		Permissions:    append([]string(nil), permissions...),
		IsActive:       true,
		QuotaPerMinute: s.cfg.DefaultQuota,
		CreatedAt:      now,
		ExpiresAt:      &expiresAt,
	}
	if err := s.repo.Insert(ctx, cred); err != nil {
		return Credential{}, "", fmt.Errorf("insert credential: %w", err)
	}
	s.logger.Info("api credential created",
		zap.String("credential_id", cred.ID),
		zap.String("owner_id", ownerID),
	)
	return cred, secret, nil
}

// Validate resolves a plaintext secret to its credential. A disabled or
// expired credential never grants access, regardless of other fields.
// last_used is updated best-effort on success.
func (s *Service) Validate(ctx context.Context, secret string) (Credential, error) {
	cred, err := s.repo.GetByHash(ctx, HashSecret(secret))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Credential{}, ErrInvalidCredential
		}
		return Credential{}, fmt.Errorf("lookup credential: %w", err)
	}
	if !cred.IsActive {
		return Credential{}, ErrCredentialDisabled
	}
	if cred.Expired(s.cfg.Clock.Now()) {
		return Credential{}, ErrCredentialExpired
	}
	now := s.cfg.Clock.Now()
	if err := s.repo.TouchLastUsed(ctx, cred.ID, now); err != nil {
		// Last-write-wins and non-critical; validation already succeeded.
		s.logger.Warn("update credential last_used failed",
			zap.String("credential_id", cred.ID),
			zap.Error(err),
		)
	}
	cred.LastUsedAt = &now
	return cred, nil
}

// Revoke disables a credential. Revocation retains the record; it is not
// deletion.
func (s *Service) Revoke(ctx context.Context, id, requesterID string) error {
	cred, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if cred.OwnerID != requesterID {
		return ErrForbidden
	}
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	s.logger.Info("api credential revoked",
		zap.String("credential_id", id),
		zap.String("owner_id", requesterID),
	)
	return nil
}

// Rename updates a credential's display name after sanitization.
func (s *Service) Rename(ctx context.Context, id, requesterID, newName string) error {
	cred, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if cred.OwnerID != requesterID {
		return ErrForbidden
	}
	newName, err = validate.SanitizeString(newName, validate.MaxCredentialName)
	if err != nil {
		return fmt.Errorf("credential name: %w", err)
	}
	if newName == "" {
		return &validate.Error{Reason: "credential name is required"}
	}
	if err := s.repo.SetName(ctx, id, newName); err != nil {
		return fmt.Errorf("rename credential: %w", err)
	}
	return nil
}

// List returns caller-visible metadata for all of ownerID's credentials.
func (s *Service) List(ctx context.Context, ownerID string) ([]Info, error) {
	creds, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	infos := make([]Info, 0, len(creds))
	for _, c := range creds {
		infos = append(infos, InfoOf(c))
	}
	return infos, nil
}
