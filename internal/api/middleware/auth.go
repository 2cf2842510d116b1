package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mw10013/orgagent/internal/api/response"
	"github.com/mw10013/orgagent/internal/store"
	"github.com/mw10013/orgagent/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// Raw keys are "oga_" + random hex; the first 8 characters index the hash
// lookup, so several live keys may share a prefix and bcrypt disambiguates.
const keyPrefixLen = 8

// Auth authenticates requests against stored API keys.
type Auth struct {
	store store.Store
}

func NewAuth(s store.Store) *Auth {
	return &Auth{store: s}
}

// Authenticate validates the Bearer token and stamps the tenant identity
// into the request context. Every failure mode is a uniform 401 so callers
// cannot probe which prefixes exist.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := bearerToken(r)
		if len(rawKey) < keyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid API key", nil)
			return
		}

		key, err := a.match(r.Context(), rawKey)
		if err != nil {
			slog.Error("api key lookup", "error", err)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		}
		if key == nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}

		go a.touch(key)

		ctx := withIdentity(r.Context(), key.TenantID, rawKey[:keyPrefixLen], key.Scopes)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// match finds the stored key whose bcrypt hash verifies the raw key, or nil
// when no candidate under the prefix matches.
func (a *Auth) match(ctx context.Context, rawKey string) (*models.APIKey, error) {
	candidates, err := a.store.GetAPIKeyByPrefix(ctx, rawKey[:keyPrefixLen])
	if err != nil {
		return nil, err
	}
	for _, key := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) == nil {
			return key, nil
		}
	}
	return nil, nil
}

// touch records last_used_at off the request path. Best effort; a failure
// only leaves the audit column stale.
func (a *Auth) touch(key *models.APIKey) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.UpdateAPIKeyLastUsed(ctx, key.ID); err != nil {
		slog.Warn("update api key last_used_at", "key_id", key.ID, "error", err)
	}
}

// RequireScope gates a route group on the authenticated key carrying the
// given scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasScope(r, scope) {
				response.Error(w, http.StatusForbidden,
					"FORBIDDEN", "Insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
