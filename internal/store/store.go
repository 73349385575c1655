package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hemalyze/hemalyze/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid analysis status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	CreateAnalysis(ctx context.Context, analysis *models.Analysis) error
	GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
	ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]*models.Analysis, int, error)
	DeleteAnalysis(ctx context.Context, id uuid.UUID) error
	FindRecentCompletedByFingerprint(ctx context.Context, fingerprint string, since time.Time) (*models.Analysis, error)
	UpdateAnalysisStatus(ctx context.Context, id uuid.UUID, status string, opts ...AnalysisUpdateOption) error
	FailStuckProcessing(ctx context.Context, startedBefore time.Time, reason string) (int64, error)
	DeleteAnalysesOlderThan(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)

	CreateTaskRef(ctx context.Context, task *models.TaskRef) error
	GetTaskRefByAnalysis(ctx context.Context, analysisID uuid.UUID) (*models.TaskRef, error)
	UpdateTaskRef(ctx context.Context, id uuid.UUID, status string, attempts int, errMsg *string) error
}

// AnalysisFilter narrows and pages a listing. Skip/Limit follow the
// HTTP query parameters; a nil UserID lists all submissions.
type AnalysisFilter struct {
	UserID *uuid.UUID
	Skip   int
	Limit  int
}

// AnalysisUpdate collects the optional columns written alongside a
// status transition.
type AnalysisUpdate struct {
	ErrorMessage      *string
	Sections          *ResultSections
	EngineProvider    *string
	EngineModel       *string
	ProcessingSeconds *float64
}

// ResultSections holds the persona outputs written on completion.
type ResultSections struct {
	Summary      string
	Verification string
	Doctor       string
	Nutrition    string
	Exercise     string
}

// AnalysisUpdateOption customizes an UpdateAnalysisStatus call.
type AnalysisUpdateOption func(*AnalysisUpdate)

// ApplyAnalysisUpdates folds options into an AnalysisUpdate.
func ApplyAnalysisUpdates(opts []AnalysisUpdateOption) AnalysisUpdate {
	var u AnalysisUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithErrorMessage(msg string) AnalysisUpdateOption {
	return func(p *AnalysisUpdate) { p.ErrorMessage = &msg }
}

// WithSections attaches the persona result sections written on completion.
func WithSections(summary, verification, doctor, nutrition, exercise string) AnalysisUpdateOption {
	return func(p *AnalysisUpdate) {
		p.Sections = &ResultSections{
			Summary:      summary,
			Verification: verification,
			Doctor:       doctor,
			Nutrition:    nutrition,
			Exercise:     exercise,
		}
	}
}

func WithEngine(provider, model string) AnalysisUpdateOption {
	return func(p *AnalysisUpdate) {
		p.EngineProvider = &provider
		p.EngineModel = &model
	}
}

func WithProcessingSeconds(secs float64) AnalysisUpdateOption {
	return func(p *AnalysisUpdate) { p.ProcessingSeconds = &secs }
}
