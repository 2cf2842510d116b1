package middleware

import (
	"context"
	"net/http"
	"slices"

	"github.com/google/uuid"
)

// Request-scoped identity established by Authenticate. Tenant id scopes every
// data access; the key prefix is the rate-limit bucket.
type contextKey string

const (
	ctxTenantID  contextKey = "tenant_id"
	ctxKeyPrefix contextKey = "key_prefix"
	ctxScopes    contextKey = "api_key_scopes"
)

func withIdentity(ctx context.Context, tenantID uuid.UUID, keyPrefix string, scopes []string) context.Context {
	ctx = context.WithValue(ctx, ctxTenantID, tenantID)
	ctx = context.WithValue(ctx, ctxKeyPrefix, keyPrefix)
	return context.WithValue(ctx, ctxScopes, scopes)
}

// GetTenantID returns the authenticated tenant for the request. Handlers
// behind Authenticate can rely on ok being true.
func GetTenantID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(ctxTenantID).(uuid.UUID)
	return id, ok
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(ctxKeyPrefix).(string)
	return prefix, ok
}

func hasScope(r *http.Request, scope string) bool {
	scopes, _ := r.Context().Value(ctxScopes).([]string)
	return slices.Contains(scopes, scope)
}

// ExportedKeyPrefixKey returns the context key for key_prefix (for testing).
func ExportedKeyPrefixKey() contextKey {
	return ctxKeyPrefix
}
