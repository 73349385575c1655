package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/hemalyze/hemalyze/internal/api/response"
	"github.com/hemalyze/hemalyze/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefixLen = 8

// KeyStore is the slice of the store auth needs.
type KeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
}

// Auth provides authentication and scope-checking middleware.
type Auth struct {
	store KeyStore
}

// NewAuth creates a new Auth middleware.
func NewAuth(s KeyStore) *Auth {
	return &Auth{store: s}
}

// Authenticate accepts requests with or without credentials: reports
// can be submitted anonymously. When a Bearer token IS presented it
// must be a valid API key; the key's user and scopes are then attached
// to the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		key, ok := a.lookup(r, rawKey)
		if !ok {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}

		ctx := r.Context()
		ctx = SetUserID(ctx, key.UserID)
		ctx = setKeyPrefix(ctx, key.KeyPrefix)
		ctx = setScopes(ctx, key.Scopes)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope returns middleware that rejects requests whose API key
// lacks the given scope. Anonymous requests are rejected outright.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scopes := getScopes(r)
			if len(scopes) == 0 {
				response.Error(w, http.StatusUnauthorized,
					"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
				return
			}
			for _, s := range scopes {
				if s == scope {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
		})
	}
}

// lookup resolves a raw key to a stored API key via its prefix and a
// bcrypt comparison.
func (a *Auth) lookup(r *http.Request, rawKey string) (*models.APIKey, bool) {
	if len(rawKey) < keyPrefixLen {
		return nil, false
	}
	prefix := rawKey[:keyPrefixLen]

	keys, err := a.store.GetAPIKeyByPrefix(r.Context(), prefix)
	if err != nil {
		return nil, false
	}

	for _, key := range keys {
		if key.RevokedAt != nil {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) == nil {
			// Update last_used_at async
			go a.store.UpdateAPIKeyLastUsed(context.Background(), key.ID)
			return key, true
		}
	}
	return nil, false
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
