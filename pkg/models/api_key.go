package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a bearer credential bound to a user. Only the bcrypt hash
// is stored; the prefix narrows the lookup before comparison.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	UserID     uuid.UUID  `db:"user_id"      json:"user_id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `db:"revoked_at"   json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
}
