package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskRef shadows the queue-side state of one analysis execution.
// It is created at enqueue time, updated by the worker on each attempt,
// and never outlives its Analysis. The Analysis row remains the source
// of truth; the task ref exists so operators can see retry counts and
// reconcile queue outcomes against job records.
type TaskRef struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	AnalysisID   uuid.UUID `db:"analysis_id"   json:"analysis_id"`
	Status       string    `db:"status"        json:"status"`
	Attempts     int       `db:"attempts"      json:"attempts"`
	ErrorMessage *string   `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}
