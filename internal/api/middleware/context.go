package middleware

import (
	"context"
	"net/http"
	"net/netip"

	"github.com/google/uuid"
)

type contextKey string

const (
	userIDKey       contextKey = "user_id"
	keyPrefixKey    contextKey = "key_prefix"
	apiKeyScopesKey contextKey = "api_key_scopes"
)

func SetUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// GetUserID returns the authenticated user, if any. Most endpoints also
// work anonymously, so absence is not an error.
func GetUserID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(userIDKey).(uuid.UUID)
	return id, ok
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

func setScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return scopes
}

// clientIdentifier is the rate-limit bucket key: the API key prefix for
// authenticated requests, the client address otherwise.
func clientIdentifier(r *http.Request) string {
	if prefix, ok := getKeyPrefix(r); ok {
		return prefix
	}
	if addrPort, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return addrPort.Addr().String()
	}
	return r.RemoteAddr
}
