package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hemalyze/hemalyze/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, full_name, created_at) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Email, user.FullName, user.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, full_name, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.FullName, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, revoked_at, created_at
		 FROM api_keys WHERE key_prefix = $1 AND revoked_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.RevokedAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, revoked_at, created_at
		 FROM api_keys WHERE revoked_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.RevokedAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Analyses ---

const analysisColumns = `id, user_id, original_filename, file_size, fingerprint, query, status,
	summary, verification, doctor, nutrition, exercise,
	engine_provider, engine_model, error_message, processing_seconds,
	created_at, started_at, completed_at`

func scanAnalysis(row pgx.Row) (*models.Analysis, error) {
	var a models.Analysis
	err := row.Scan(&a.ID, &a.UserID, &a.OriginalFilename, &a.FileSize, &a.Fingerprint,
		&a.Query, &a.Status,
		&a.Summary, &a.Verification, &a.Doctor, &a.Nutrition, &a.Exercise,
		&a.EngineProvider, &a.EngineModel, &a.ErrorMessage, &a.ProcessingSeconds,
		&a.CreatedAt, &a.StartedAt, &a.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) CreateAnalysis(ctx context.Context, analysis *models.Analysis) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO analyses (id, user_id, original_filename, file_size, fingerprint, query, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		analysis.ID, analysis.UserID, analysis.OriginalFilename, analysis.FileSize,
		analysis.Fingerprint, analysis.Query, analysis.Status, analysis.CreatedAt)
	if err != nil {
		return fmt.Errorf("create analysis: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	a, err := scanAnalysis(s.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]*models.Analysis, int, error) {
	where := ""
	args := []any{}
	if filter.UserID != nil {
		where = " WHERE user_id = $1"
		args = append(args, *filter.UserID)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM analyses`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count analyses: %w", err)
	}

	query := `SELECT ` + analysisColumns + ` FROM analyses` + where +
		fmt.Sprintf(" ORDER BY created_at DESC OFFSET $%d LIMIT $%d", len(args)+1, len(args)+2)
	args = append(args, filter.Skip, filter.Limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var analyses []*models.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan analysis: %w", err)
		}
		analyses = append(analyses, a)
	}
	return analyses, total, rows.Err()
}

func (s *PostgresStore) DeleteAnalysis(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM analyses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindRecentCompletedByFingerprint returns the newest completed analysis
// with the given fingerprint created at or after since. This is the
// authoritative half of the dedup gate.
func (s *PostgresStore) FindRecentCompletedByFingerprint(ctx context.Context, fingerprint string, since time.Time) (*models.Analysis, error) {
	a, err := scanAnalysis(s.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM analyses
		 WHERE fingerprint = $1 AND status = $2 AND created_at >= $3
		 ORDER BY created_at DESC LIMIT 1`,
		fingerprint, models.AnalysisStatusCompleted, since))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find analysis by fingerprint: %w", err)
	}
	return a, nil
}

// Every analysis is created pending before a worker claims it, and no
// transition leaves a terminal state.
var validTransitions = map[string][]string{
	models.AnalysisStatusPending:    {models.AnalysisStatusProcessing},
	models.AnalysisStatusProcessing: {models.AnalysisStatusCompleted, models.AnalysisStatusFailed},
}

func (s *PostgresStore) UpdateAnalysisStatus(ctx context.Context, id uuid.UUID, status string, opts ...AnalysisUpdateOption) error {
	params := ApplyAnalysisUpdates(opts)

	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM analyses WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get analysis status: %w", err)
	}

	allowed := validTransitions[currentStatus]
	valid := false
	for _, a := range allowed {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE analyses SET status = $2`
	args := []any{id, status}
	argIdx := 3

	if status == models.AnalysisStatusProcessing {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if models.TerminalStatus(status) {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.Sections != nil {
		query += fmt.Sprintf(", summary = $%d, verification = $%d, doctor = $%d, nutrition = $%d, exercise = $%d",
			argIdx, argIdx+1, argIdx+2, argIdx+3, argIdx+4)
		args = append(args, params.Sections.Summary, params.Sections.Verification,
			params.Sections.Doctor, params.Sections.Nutrition, params.Sections.Exercise)
		argIdx += 5
	}
	if params.EngineProvider != nil {
		query += fmt.Sprintf(", engine_provider = $%d, engine_model = $%d", argIdx, argIdx+1)
		args = append(args, *params.EngineProvider, *params.EngineModel)
		argIdx += 2
	}
	if params.ProcessingSeconds != nil {
		query += fmt.Sprintf(", processing_seconds = $%d", argIdx)
		args = append(args, *params.ProcessingSeconds)
		argIdx++
	}

	// Compare-and-set on the status read above. Two workers holding a
	// duplicate delivery can both pass the validation, but only the one
	// whose UPDATE still sees the expected status wins the transition.
	query += fmt.Sprintf(" WHERE id = $1 AND status = $%d", argIdx)
	args = append(args, currentStatus)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update analysis status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentStatus, status)
	}
	return nil
}

// FailStuckProcessing force-fails analyses that entered processing
// before the cutoff and never reached a terminal state. The watchdog
// half of the lifecycle contract: nothing stays in processing forever.
func (s *PostgresStore) FailStuckProcessing(ctx context.Context, startedBefore time.Time, reason string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analyses SET status = $1, error_message = $2, completed_at = NOW()
		 WHERE status = $3 AND started_at < $4`,
		models.AnalysisStatusFailed, reason, models.AnalysisStatusProcessing, startedBefore)
	if err != nil {
		return 0, fmt.Errorf("fail stuck analyses: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAnalysesOlderThan removes records past the retention window and
// returns their ids so callers can remove any files left on disk.
func (s *PostgresStore) DeleteAnalysesOlderThan(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM analyses WHERE created_at < $1 RETURNING id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("prune analyses: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pruned id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Task refs ---

func (s *PostgresStore) CreateTaskRef(ctx context.Context, task *models.TaskRef) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_refs (id, analysis_id, status, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		task.ID, task.AnalysisID, task.Status, task.Attempts, task.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create task ref: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTaskRefByAnalysis(ctx context.Context, analysisID uuid.UUID) (*models.TaskRef, error) {
	var t models.TaskRef
	err := s.pool.QueryRow(ctx,
		`SELECT id, analysis_id, status, attempts, error_message, created_at, updated_at
		 FROM task_refs WHERE analysis_id = $1`, analysisID,
	).Scan(&t.ID, &t.AnalysisID, &t.Status, &t.Attempts, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task ref: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) UpdateTaskRef(ctx context.Context, id uuid.UUID, status string, attempts int, errMsg *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE task_refs SET status = $2, attempts = $3, error_message = $4, updated_at = NOW()
		 WHERE id = $1`,
		id, status, attempts, errMsg)
	if err != nil {
		return fmt.Errorf("update task ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
