package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AnalysisStatusPending    = "pending"
	AnalysisStatusProcessing = "processing"
	AnalysisStatusCompleted  = "completed"
	AnalysisStatusFailed     = "failed"
)

// TerminalStatus reports whether a status admits no further transitions.
func TerminalStatus(status string) bool {
	return status == AnalysisStatusCompleted || status == AnalysisStatusFailed
}

// Analysis is the durable record of one blood-test analysis request.
// The API returns an analysis_id on POST /analyze; the client polls
// GET /status/{analysis_id} until the status is completed or failed,
// then fetches GET /results/{analysis_id}.
type Analysis struct {
	ID               uuid.UUID  `db:"id"                 json:"id"`
	UserID           *uuid.UUID `db:"user_id"            json:"user_id,omitempty"`
	OriginalFilename string     `db:"original_filename"  json:"original_filename"`
	FileSize         int64      `db:"file_size"          json:"file_size"`
	Fingerprint      string     `db:"fingerprint"        json:"fingerprint"`
	Query            string     `db:"query"              json:"query"`
	Status           string     `db:"status"             json:"status"`

	// Per-persona result sections, populated on completion.
	Summary      *string `db:"summary"       json:"summary,omitempty"`
	Verification *string `db:"verification"  json:"verification,omitempty"`
	Doctor       *string `db:"doctor"        json:"doctor,omitempty"`
	Nutrition    *string `db:"nutrition"     json:"nutrition,omitempty"`
	Exercise     *string `db:"exercise"      json:"exercise,omitempty"`

	EngineProvider    *string  `db:"engine_provider"    json:"engine_provider,omitempty"`
	EngineModel       *string  `db:"engine_model"       json:"engine_model,omitempty"`
	ErrorMessage      *string  `db:"error_message"      json:"error_message,omitempty"`
	ProcessingSeconds *float64 `db:"processing_seconds" json:"processing_seconds,omitempty"`

	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	StartedAt   *time.Time `db:"started_at"   json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
