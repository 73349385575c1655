package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an optional owner identity for analyses. Anonymous
// submissions carry no user and are listed without a filter.
type User struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Email     string    `db:"email"      json:"email"`
	FullName  string    `db:"full_name"  json:"full_name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
