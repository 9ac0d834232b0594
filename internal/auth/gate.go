package auth

import (
	"fmt"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/leadflowhq/leadstream/internal/ratelimit"
	"github.com/leadflowhq/leadstream/internal/telemetry"
)

// Request headers consulted during identity resolution.
const (
	HeaderAPIKey = "X-API-Key"

	bearerPrefix = "Bearer "
)

// anonymousID is the synthesized identity used in open/development mode.
const anonymousID = "00000000-0000-0000-0000-000000000000"

const credentialWindow = time.Minute

// TokenVerifier resolves bearer tokens to identities. Verification itself is
// an external collaborator; the default implementation treats every token as
// an opaque, low-trust identity.
type TokenVerifier interface {
	Verify(token string) (Identity, error)
}

// GateConfig controls identity resolution order and fallbacks.
type GateConfig struct {
	// OpenMode synthesizes an elevated identity when no credentials are
	// presented. Never enable outside development deployments.
	OpenMode    bool
	AllowBearer bool
	// BearerQuota rate-limits token identities; zero disables the check.
	BearerQuota int
	Tokens      TokenVerifier
	Logger      *zap.Logger
}

// Gate resolves a request's effective identity: API credential first, then
// bearer token, then the environment-gated anonymous fallback. A presented
// API credential always takes precedence and is always rate-limited; a
// malformed or expired credential never falls through to a weaker method.
type Gate struct {
	creds   *Service
	limiter *ratelimit.Limiter
	cfg     GateConfig
	logger  *zap.Logger
}

// NewGate wires the credential service and limiter into a Gate.
func NewGate(creds *Service, limiter *ratelimit.Limiter, cfg GateConfig) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Tokens == nil {
		cfg.Tokens = opaqueVerifier{}
	}
	return &Gate{creds: creds, limiter: limiter, cfg: cfg, logger: logger}
}

// Resolve determines the identity behind r, applying per-identity admission
// control for credentialed callers.
func (g *Gate) Resolve(r *http.Request) (Identity, error) {
	if key := r.Header.Get(HeaderAPIKey); key != "" {
		return g.resolveAPIKey(r, key)
	}

	if authz := r.Header.Get("Authorization"); g.cfg.AllowBearer && len(authz) > len(bearerPrefix) &&
		authz[:len(bearerPrefix)] == bearerPrefix {
		return g.resolveBearer(r, authz[len(bearerPrefix):])
	}

	if g.cfg.OpenMode {
		telemetry.ObserveAuthResolution("anonymous", "ok")
		return Identity{
			ID:             anonymousID,
			Method:         "anonymous",
			IsActive:       true,
			IsAdmin:        true,
			QuotaPerMinute: 0,
			Permissions:    []string{PermAdmin},
		}, nil
	}

	telemetry.ObserveAuthResolution("none", "rejected")
	return Identity{}, ErrAuthenticationRequired
}

func (g *Gate) resolveAPIKey(r *http.Request, key string) (Identity, error) {
	cred, err := g.creds.Validate(r.Context(), key)
	if err != nil {
		telemetry.ObserveAuthResolution("api_key", "rejected")
		g.logger.Warn("api credential rejected",
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Error(err),
		)
		if IsAuthError(err) {
			return Identity{}, err
		}
		return Identity{}, fmt.Errorf("validate api credential: %w", err)
	}

	decision := g.limiter.Admit(r.Context(), "cred:"+cred.ID, cred.QuotaPerMinute, credentialWindow)
	if !decision.Allowed {
		telemetry.ObserveAuthResolution("api_key", "rate_limited")
		g.logger.Warn("rate limit exceeded",
			zap.String("credential_id", cred.ID),
			zap.String("owner_id", cred.OwnerID),
			zap.String("path", r.URL.Path),
		)
		return Identity{}, &RateLimitError{RetryAfter: decision.RetryAfter}
	}

	telemetry.ObserveAuthResolution("api_key", "ok")
	return Identity{
		ID:             cred.OwnerID,
		Method:         "api_key",
		IsActive:       true,
		IsAdmin:        slices.Contains(cred.Permissions, PermAdmin),
		QuotaPerMinute: cred.QuotaPerMinute,
		Permissions:    append([]string(nil), cred.Permissions...),
	}, nil
}

func (g *Gate) resolveBearer(r *http.Request, token string) (Identity, error) {
	identity, err := g.cfg.Tokens.Verify(token)
	if err != nil {
		telemetry.ObserveAuthResolution("bearer", "rejected")
		return Identity{}, err
	}
	if g.cfg.BearerQuota > 0 {
		decision := g.limiter.Admit(r.Context(), "token:"+identity.ID, g.cfg.BearerQuota, credentialWindow)
		if !decision.Allowed {
			telemetry.ObserveAuthResolution("bearer", "rate_limited")
			return Identity{}, &RateLimitError{RetryAfter: decision.RetryAfter}
		}
	}
	telemetry.ObserveAuthResolution("bearer", "ok")
	return identity, nil
}

// opaqueVerifier accepts any token as a fixed low-trust identity.
// TODO: replace with real JWT verification once the identity provider
// integration lands.
type opaqueVerifier struct{}

func (opaqueVerifier) Verify(string) (Identity, error) {
	return Identity{
		ID:          anonymousID,
		Method:      "bearer",
		IsActive:    true,
		IsAdmin:     false,
		Permissions: []string{PermRead},
	}, nil
}
