package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leadflowhq/leadstream/internal/auth"
)

// login is throttled per client IP ahead of any credential work so password
// guessing burns the attacker's budget, not ours. Password auth itself is
// handled by the identity provider; this endpoint only reserves the route.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	window := time.Duration(s.cfg.RateLimit.LoginWindow) * time.Second
	decision := s.limiter.Admit(r.Context(), "login:"+s.clientIP(r), s.cfg.RateLimit.LoginLimit, window)
	if !decision.Allowed {
		writeRateLimited(w, decision.RetryAfter)
		return
	}
	writeError(w, http.StatusNotImplemented, "password login is not available; use API keys")
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identify(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":               identity.ID,
		"auth_method":      identity.Method,
		"is_admin":         identity.IsAdmin,
		"permissions":      identity.Permissions,
		"quota_per_minute": identity.QuotaPerMinute,
	})
}

type createKeyRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	ExpiresDays *int     `json:"expires_days"`
}

func (s *Server) createKey(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identify(w, r)
	if !ok {
		return
	}

	window := time.Duration(s.cfg.RateLimit.KeyCreateWin) * time.Second
	decision := s.limiter.Admit(r.Context(), "keygen:"+identity.ID, s.cfg.RateLimit.KeyCreateLimit, window)
	if !decision.Allowed {
		writeRateLimited(w, decision.RetryAfter)
		return
	}

	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	cred, secret, err := s.creds.Create(r.Context(), identity.ID, req.Name, req.Permissions, req.ExpiresDays)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	// The plaintext secret appears exactly once, in this response.
	writeJSON(w, http.StatusCreated, map[string]any{
		"api_key":  secret,
		"key_info": auth.InfoOf(cred),
	})
}

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identify(w, r)
	if !ok {
		return
	}
	infos, err := s.creds.List(r.Context(), identity.ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"api_keys": infos, "total": len(infos)})
}

func (s *Server) revokeKey(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identify(w, r)
	if !ok {
		return
	}
	keyID := chi.URLParam(r, "key_id")
	if err := s.creds.Revoke(r.Context(), keyID, identity.ID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key_id": keyID, "status": "revoked"})
}

type renameKeyRequest struct {
	Name string `json:"name"`
}

func (s *Server) renameKey(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identify(w, r)
	if !ok {
		return
	}
	var req renameKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	keyID := chi.URLParam(r, "key_id")
	if err := s.creds.Rename(r.Context(), keyID, identity.ID, req.Name); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key_id": keyID, "status": "updated"})
}

// clientIP identifies the throttle peer. X-Forwarded-For is only consulted
// behind a trusted proxy; a direct client could otherwise mint a fresh
// throttle key per request.
func (s *Server) clientIP(r *http.Request) string {
	if s.cfg.Server.TrustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			if ip, _, ok := strings.Cut(fwd, ","); ok {
				return strings.TrimSpace(ip)
			}
			return strings.TrimSpace(fwd)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
