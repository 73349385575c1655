package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hemalyze/hemalyze/internal/store"
	"github.com/hemalyze/hemalyze/pkg/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("hemalyze_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newAnalysis(fingerprint string) *models.Analysis {
	return &models.Analysis{
		ID:               uuid.New(),
		OriginalFilename: "report.pdf",
		FileSize:         2048,
		Fingerprint:      fingerprint,
		Query:            "Summarise my Blood Test Report",
		Status:           models.AnalysisStatusPending,
		CreatedAt:        time.Now().UTC(),
	}
}

// completeAnalysis walks an analysis through the full happy-path lifecycle.
func completeAnalysis(t *testing.T, s store.Store, a *models.Analysis) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateAnalysis(ctx, a))
	require.NoError(t, s.UpdateAnalysisStatus(ctx, a.ID, models.AnalysisStatusProcessing))
	require.NoError(t, s.UpdateAnalysisStatus(ctx, a.ID, models.AnalysisStatusCompleted,
		store.WithSections("summary", "verified", "doctor notes", "nutrition notes", "exercise notes"),
		store.WithEngine("mock", "mock-v1"),
		store.WithProcessingSeconds(12.5)))
}

// --- Analyses ---

func TestCreateAndGetAnalysis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	a := newAnalysis("fp-1")
	require.NoError(t, s.CreateAnalysis(ctx, a))

	got, err := s.GetAnalysis(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, models.AnalysisStatusPending, got.Status)
	assert.Equal(t, "fp-1", got.Fingerprint)
	assert.Nil(t, got.Summary)
	assert.Nil(t, got.CompletedAt)
}

func TestGetAnalysis_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	_, err := s.GetAnalysis(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLifecycle_HappyPath(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	a := newAnalysis("fp-life")
	completeAnalysis(t, s, a)

	got, err := s.GetAnalysis(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusCompleted, got.Status)
	require.NotNil(t, got.Summary)
	assert.Equal(t, "summary", *got.Summary)
	require.NotNil(t, got.Doctor)
	assert.Equal(t, "doctor notes", *got.Doctor)
	require.NotNil(t, got.EngineProvider)
	assert.Equal(t, "mock", *got.EngineProvider)
	require.NotNil(t, got.ProcessingSeconds)
	assert.InDelta(t, 12.5, *got.ProcessingSeconds, 0.001)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
}

func TestLifecycle_FailurePath(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	a := newAnalysis("fp-fail")
	require.NoError(t, s.CreateAnalysis(ctx, a))
	require.NoError(t, s.UpdateAnalysisStatus(ctx, a.ID, models.AnalysisStatusProcessing))
	require.NoError(t, s.UpdateAnalysisStatus(ctx, a.ID, models.AnalysisStatusFailed,
		store.WithErrorMessage("analysis engine unavailable")))

	got, err := s.GetAnalysis(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "analysis engine unavailable", *got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)
}

func TestUpdateAnalysisStatus_InvalidTransitions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	// pending cannot jump straight to a terminal state
	a := newAnalysis("fp-skip")
	require.NoError(t, s.CreateAnalysis(ctx, a))
	err := s.UpdateAnalysisStatus(ctx, a.ID, models.AnalysisStatusCompleted)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	// terminal states admit no further transitions
	b := newAnalysis("fp-terminal")
	completeAnalysis(t, s, b)
	err = s.UpdateAnalysisStatus(ctx, b.ID, models.AnalysisStatusProcessing)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	err = s.UpdateAnalysisStatus(ctx, b.ID, models.AnalysisStatusFailed)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

// Duplicate queue deliveries mean two workers can race the same
// pending->processing transition; the status guard in the UPDATE must
// let exactly one of them win.
func TestUpdateAnalysisStatus_ConcurrentClaim(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	a := newAnalysis("fp-race")
	require.NoError(t, s.CreateAnalysis(ctx, a))

	const claimers = 8
	errs := make(chan error, claimers)
	start := make(chan struct{})
	for i := 0; i < claimers; i++ {
		go func() {
			<-start
			errs <- s.UpdateAnalysisStatus(ctx, a.ID, models.AnalysisStatusProcessing)
		}()
	}
	close(start)

	var won, lost int
	for i := 0; i < claimers; i++ {
		err := <-errs
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
		lost++
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, claimers-1, lost)

	got, err := s.GetAnalysis(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusProcessing, got.Status)
}

func TestFindRecentCompletedByFingerprint(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	window := time.Now().UTC().Add(-24 * time.Hour)

	// no completed analysis yet -> miss
	a := newAnalysis("fp-dedup")
	require.NoError(t, s.CreateAnalysis(ctx, a))
	_, err := s.FindRecentCompletedByFingerprint(ctx, "fp-dedup", window)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// completed analysis inside the window -> hit
	require.NoError(t, s.UpdateAnalysisStatus(ctx, a.ID, models.AnalysisStatusProcessing))
	require.NoError(t, s.UpdateAnalysisStatus(ctx, a.ID, models.AnalysisStatusCompleted,
		store.WithSections("s", "v", "d", "n", "e")))

	got, err := s.FindRecentCompletedByFingerprint(ctx, "fp-dedup", window)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	// different fingerprint -> miss
	_, err = s.FindRecentCompletedByFingerprint(ctx, "fp-other", window)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// window that excludes the record -> miss
	_, err = s.FindRecentCompletedByFingerprint(ctx, "fp-dedup", time.Now().UTC().Add(time.Hour))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFailStuckProcessing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	stuck := newAnalysis("fp-stuck")
	require.NoError(t, s.CreateAnalysis(ctx, stuck))
	require.NoError(t, s.UpdateAnalysisStatus(ctx, stuck.ID, models.AnalysisStatusProcessing))

	fresh := newAnalysis("fp-fresh")
	require.NoError(t, s.CreateAnalysis(ctx, fresh))

	// cutoff in the future: the processing row qualifies as stuck
	n, err := s.FailStuckProcessing(ctx, time.Now().UTC().Add(time.Minute), "processing deadline exceeded")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetAnalysis(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "processing deadline exceeded", *got.ErrorMessage)

	// pending rows are untouched
	got, err = s.GetAnalysis(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusPending, got.Status)
}

func TestListAnalyses_PaginationAndFilter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	user := &models.User{ID: uuid.New(), Email: "pat@example.com", FullName: "Pat", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateUser(ctx, user))

	for i := 0; i < 5; i++ {
		a := newAnalysis("fp-list")
		if i < 3 {
			a.UserID = &user.ID
		}
		require.NoError(t, s.CreateAnalysis(ctx, a))
	}

	all, total, err := s.ListAnalyses(ctx, store.AnalysisFilter{Skip: 0, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, all, 2)

	rest, _, err := s.ListAnalyses(ctx, store.AnalysisFilter{Skip: 4, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	mine, total, err := s.ListAnalyses(ctx, store.AnalysisFilter{UserID: &user.ID, Skip: 0, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, mine, 3)
}

func TestDeleteAnalysis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	a := newAnalysis("fp-del")
	require.NoError(t, s.CreateAnalysis(ctx, a))
	require.NoError(t, s.CreateTaskRef(ctx, &models.TaskRef{
		ID: uuid.New(), AnalysisID: a.ID, Status: models.AnalysisStatusPending, CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, s.DeleteAnalysis(ctx, a.ID))

	_, err := s.GetAnalysis(ctx, a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// task ref cascades with its analysis
	_, err = s.GetTaskRefByAnalysis(ctx, a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, s.DeleteAnalysis(ctx, a.ID), store.ErrNotFound)
}

func TestDeleteAnalysesOlderThan(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	old := newAnalysis("fp-old")
	old.CreatedAt = time.Now().UTC().Add(-31 * 24 * time.Hour)
	require.NoError(t, s.CreateAnalysis(ctx, old))

	recent := newAnalysis("fp-recent")
	require.NoError(t, s.CreateAnalysis(ctx, recent))

	ids, err := s.DeleteAnalysesOlderThan(ctx, time.Now().UTC().Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, old.ID, ids[0])

	_, err = s.GetAnalysis(ctx, recent.ID)
	assert.NoError(t, err)
}

// --- Task refs ---

func TestTaskRef_OnePerAnalysis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	a := newAnalysis("fp-task")
	require.NoError(t, s.CreateAnalysis(ctx, a))

	task := &models.TaskRef{ID: uuid.New(), AnalysisID: a.ID, Status: models.AnalysisStatusPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateTaskRef(ctx, task))

	// second task for the same analysis violates the unique constraint
	dup := &models.TaskRef{ID: uuid.New(), AnalysisID: a.ID, Status: models.AnalysisStatusPending, CreatedAt: time.Now().UTC()}
	assert.ErrorIs(t, s.CreateTaskRef(ctx, dup), store.ErrDuplicateKey)
}

func TestTaskRef_Update(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	a := newAnalysis("fp-task-upd")
	require.NoError(t, s.CreateAnalysis(ctx, a))

	task := &models.TaskRef{ID: uuid.New(), AnalysisID: a.ID, Status: models.AnalysisStatusPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateTaskRef(ctx, task))

	msg := "rate limited"
	require.NoError(t, s.UpdateTaskRef(ctx, task.ID, models.AnalysisStatusFailed, 3, &msg))

	got, err := s.GetTaskRefByAnalysis(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "rate limited", *got.ErrorMessage)
}

// --- API keys ---

func TestAPIKeyRoundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	user := &models.User{ID: uuid.New(), Email: "admin@example.com", FullName: "Admin", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateUser(ctx, user))

	key := &models.APIKey{
		ID:        uuid.New(),
		UserID:    user.ID,
		Name:      "ci",
		KeyHash:   "$2a$10$fakehashfakehashfakehash",
		KeyPrefix: "hml_abcd",
		Scopes:    []string{"admin"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	found, err := s.GetAPIKeyByPrefix(ctx, "hml_abcd")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, key.ID, found[0].ID)
	assert.Equal(t, []string{"admin"}, found[0].Scopes)

	require.NoError(t, s.RevokeAPIKey(ctx, key.ID))

	found, err = s.GetAPIKeyByPrefix(ctx, "hml_abcd")
	require.NoError(t, err)
	assert.Empty(t, found)

	assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID), store.ErrNotFound)
}
