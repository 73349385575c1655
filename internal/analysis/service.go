// Package analysis orchestrates the blood-test analysis lifecycle:
// submission with duplicate detection, queue dispatch, worker-side
// execution against the engine, and result retrieval.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/hemalyze/hemalyze/internal/cache"
	"github.com/hemalyze/hemalyze/internal/config"
	"github.com/hemalyze/hemalyze/internal/engine"
	"github.com/hemalyze/hemalyze/internal/queue"
	"github.com/hemalyze/hemalyze/internal/report"
	"github.com/hemalyze/hemalyze/internal/store"
	"github.com/hemalyze/hemalyze/pkg/models"
)

// DefaultQuery is applied when a submission carries no query.
const DefaultQuery = "Summarise my Blood Test Report"

// statusCacheTTL bounds the Redis status mirror; the store remains the
// source of truth.
const statusCacheTTL = 30 * time.Minute

const maxErrorMessageLen = 500

// Service orchestrates analysis submissions and execution.
type Service struct {
	store       store.Store
	queue       queue.Queue
	cache       cache.Cache
	files       *report.Store
	engine      models.AnalysisEngine
	cfg         config.AnalysisConfig
	maxFileSize int64

	// validate and extract are the report package functions,
	// replaceable in tests.
	validate func(filename string, content []byte, maxSize int64) error
	extract  func(path string) (string, error)
}

// NewService creates a new analysis Service.
func NewService(st store.Store, q queue.Queue, ca cache.Cache, files *report.Store, eng models.AnalysisEngine, cfg config.AnalysisConfig, maxFileSize int64) *Service {
	return &Service{
		store:       st,
		queue:       q,
		cache:       ca,
		files:       files,
		engine:      eng,
		cfg:         cfg,
		maxFileSize: maxFileSize,
		validate:    report.Validate,
		extract:     report.ExtractText,
	}
}

// SubmitParams holds a validated upload ready for submission.
type SubmitParams struct {
	Filename string
	Content  []byte
	Query    string
	UserID   *uuid.UUID
}

// SubmitResult is the outcome of a submission. Deduplicated means an
// existing fresh analysis was returned instead of queueing a new one,
// in which case TaskID is zero.
type SubmitResult struct {
	Analysis     *models.Analysis
	TaskID       uuid.UUID
	Deduplicated bool
}

// Submit validates the upload, short-circuits on a fresh duplicate, and
// otherwise persists a pending analysis and enqueues exactly one task.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (*SubmitResult, error) {
	query, fingerprint, err := s.checkSubmission(p)
	if err != nil {
		return nil, err
	}

	if existing, err := s.findFreshDuplicate(ctx, fingerprint); err == nil && existing != nil {
		return &SubmitResult{Analysis: existing, Deduplicated: true}, nil
	}

	analysis, task, path, err := s.createPending(ctx, p, query, fingerprint)
	if err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, queue.Message{
		TaskID:     task.ID,
		AnalysisID: analysis.ID,
		ReportPath: path,
		Query:      query,
	}); err != nil {
		s.discardPending(ctx, analysis.ID)
		return nil, fmt.Errorf("enqueueing task: %w", err)
	}

	_ = s.cache.SetAnalysisStatus(ctx, analysis.ID, models.AnalysisStatusPending, statusCacheTTL)

	return &SubmitResult{Analysis: analysis, TaskID: task.ID}, nil
}

// checkSubmission validates the upload and derives the effective query
// and content fingerprint.
func (s *Service) checkSubmission(p SubmitParams) (string, string, error) {
	query := strings.TrimSpace(p.Query)
	if query == "" {
		query = DefaultQuery
	}
	if err := s.validate(p.Filename, p.Content, s.maxFileSize); err != nil {
		return "", "", err
	}
	return query, report.Fingerprint(p.Content), nil
}

// createPending persists the upload file, the pending analysis row, and
// its task ref, undoing the earlier steps when a later one fails.
func (s *Service) createPending(ctx context.Context, p SubmitParams, query, fingerprint string) (*models.Analysis, *models.TaskRef, string, error) {
	analysis := &models.Analysis{
		ID:               uuid.New(),
		UserID:           p.UserID,
		OriginalFilename: p.Filename,
		FileSize:         int64(len(p.Content)),
		Fingerprint:      fingerprint,
		Query:            query,
		Status:           models.AnalysisStatusPending,
		CreatedAt:        time.Now().UTC(),
	}

	if err := s.store.CreateAnalysis(ctx, analysis); err != nil {
		return nil, nil, "", fmt.Errorf("creating analysis: %w", err)
	}

	path, err := s.files.Save(analysis.ID, p.Content)
	if err != nil {
		_ = s.store.DeleteAnalysis(ctx, analysis.ID)
		return nil, nil, "", err
	}

	task := &models.TaskRef{
		ID:         uuid.New(),
		AnalysisID: analysis.ID,
		Status:     models.AnalysisStatusPending,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateTaskRef(ctx, task); err != nil {
		s.discardPending(ctx, analysis.ID)
		return nil, nil, "", fmt.Errorf("creating task: %w", err)
	}

	return analysis, task, path, nil
}

func (s *Service) discardPending(ctx context.Context, id uuid.UUID) {
	_ = s.files.Remove(id)
	_ = s.store.DeleteAnalysis(ctx, id)
}

// findFreshDuplicate returns a completed analysis with the same
// fingerprint inside the freshness window, or nil. The cache entry is a
// fast path; the store query is authoritative on a miss.
func (s *Service) findFreshDuplicate(ctx context.Context, fingerprint string) (*models.Analysis, error) {
	since := time.Now().UTC().Add(-s.cfg.FreshnessWindow)

	if id, ok, err := s.cache.GetFingerprint(ctx, fingerprint); err == nil && ok {
		existing, err := s.store.GetAnalysis(ctx, id)
		if err == nil && existing.Status == models.AnalysisStatusCompleted && existing.CreatedAt.After(since) {
			return existing, nil
		}
	}

	existing, err := s.store.FindRecentCompletedByFingerprint(ctx, fingerprint, since)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	_ = s.cache.SetFingerprint(ctx, fingerprint, existing.ID, s.cfg.FreshnessWindow)
	return existing, nil
}

// Process executes one claimed task. A nil return means the delivery is
// settled (succeeded, permanently failed, or obsolete) and may be acked;
// an error means the delivery should be redelivered later.
func (s *Service) Process(ctx context.Context, msg queue.Message) error {
	analysis, err := s.store.GetAnalysis(ctx, msg.AnalysisID)
	if errors.Is(err, store.ErrNotFound) {
		// Deleted while queued; nothing to do.
		slog.Info("skipping task for deleted analysis", "analysis_id", msg.AnalysisID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading analysis: %w", err)
	}

	// At-least-once delivery: a redelivered task for a finished analysis
	// is dropped here.
	if models.TerminalStatus(analysis.Status) {
		slog.Info("skipping task for finished analysis",
			"analysis_id", analysis.ID, "status", analysis.Status)
		return nil
	}

	if err := s.store.UpdateAnalysisStatus(ctx, analysis.ID, models.AnalysisStatusProcessing); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Another worker claimed a duplicate delivery first.
			return nil
		}
		return fmt.Errorf("marking processing: %w", err)
	}
	_ = s.cache.SetAnalysisStatus(ctx, analysis.ID, models.AnalysisStatusProcessing, statusCacheTTL)

	started := time.Now().UTC()

	text, err := s.extract(msg.ReportPath)
	if err != nil {
		// Unreadable reports never succeed on retry.
		return s.fail(ctx, analysis, msg.TaskID, 1, started, err)
	}

	result, attempts, err := s.runEngine(ctx, models.ReportRequest{
		ReportText: text,
		Query:      msg.Query,
	})
	if err != nil {
		return s.fail(ctx, analysis, msg.TaskID, attempts, started, err)
	}

	elapsed := time.Since(started).Seconds()
	err = s.store.UpdateAnalysisStatus(ctx, analysis.ID, models.AnalysisStatusCompleted,
		store.WithSections(buildSummary(result), result.Verification, result.Doctor, result.Nutrition, result.Exercise),
		store.WithEngine(s.engine.Name(), result.Model),
		store.WithProcessingSeconds(elapsed),
	)
	if err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}

	_ = s.store.UpdateTaskRef(ctx, msg.TaskID, models.AnalysisStatusCompleted, attempts, nil)
	_ = s.cache.SetAnalysisStatus(ctx, analysis.ID, models.AnalysisStatusCompleted, statusCacheTTL)
	_ = s.cache.SetFingerprint(ctx, analysis.Fingerprint, analysis.ID, s.cfg.FreshnessWindow)
	_ = s.files.Remove(analysis.ID)

	slog.Info("analysis completed",
		"analysis_id", analysis.ID,
		"engine", s.engine.Name(),
		"attempts", attempts,
		"seconds", elapsed)
	return nil
}

// runEngine calls the engine under the processing deadline, retrying
// transient failures with exponential backoff. It returns the number of
// attempts made alongside the result.
func (s *Service) runEngine(ctx context.Context, req models.ReportRequest) (models.ReportResult, int, error) {
	procCtx, cancel := context.WithTimeout(ctx, s.cfg.ProcessingTimeout)
	defer cancel()

	attempts := 0
	result, err := retry.DoWithData(
		func() (models.ReportResult, error) {
			attempts++
			return s.engine.Analyze(procCtx, req)
		},
		retry.Context(procCtx),
		retry.Attempts(uint(s.cfg.MaxAttempts)),
		retry.Delay(s.cfg.RetryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(engine.IsTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("engine attempt failed, retrying", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		if procCtx.Err() != nil {
			err = fmt.Errorf("%w: %v", engine.ErrInferenceTimeout, err)
		}
		return models.ReportResult{}, attempts, err
	}
	return result, attempts, nil
}

// fail records a terminal failure. The upload is removed: a failed
// analysis is never re-executed from the same task.
func (s *Service) fail(ctx context.Context, analysis *models.Analysis, taskID uuid.UUID, attempts int, started time.Time, cause error) error {
	msg := sanitizeError(cause)
	err := s.store.UpdateAnalysisStatus(ctx, analysis.ID, models.AnalysisStatusFailed,
		store.WithErrorMessage(msg),
		store.WithProcessingSeconds(time.Since(started).Seconds()),
	)
	if err != nil {
		return fmt.Errorf("marking failed: %w", err)
	}

	_ = s.store.UpdateTaskRef(ctx, taskID, models.AnalysisStatusFailed, attempts, &msg)
	_ = s.cache.SetAnalysisStatus(ctx, analysis.ID, models.AnalysisStatusFailed, statusCacheTTL)
	_ = s.files.Remove(analysis.ID)

	slog.Error("analysis failed",
		"analysis_id", analysis.ID,
		"attempts", attempts,
		"error", msg)
	return nil
}

// Status returns the current state of an analysis. For in-flight
// analyses a cache hit answers without touching the store; terminal
// statuses always come from the store so timestamps and errors are
// present.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	if status, ok, err := s.cache.GetAnalysisStatus(ctx, id); err == nil && ok && !models.TerminalStatus(status) {
		return &models.Analysis{ID: id, Status: status}, nil
	}
	return s.store.GetAnalysis(ctx, id)
}

// Result returns a completed analysis. ErrNotReady for in-flight
// analyses, ErrAnalysisFailed (wrapping the stored message) for failed
// ones.
func (s *Service) Result(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	analysis, err := s.store.GetAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}

	switch analysis.Status {
	case models.AnalysisStatusCompleted:
		return analysis, nil
	case models.AnalysisStatusFailed:
		if analysis.ErrorMessage != nil {
			return nil, fmt.Errorf("%w: %s", ErrAnalysisFailed, *analysis.ErrorMessage)
		}
		return nil, ErrAnalysisFailed
	default:
		return nil, ErrNotReady
	}
}

// List pages through analyses, optionally filtered by user. Limit is
// clamped to [1, 100] with a default of 20; negative skip becomes 0.
func (s *Service) List(ctx context.Context, userID *uuid.UUID, skip, limit int) ([]*models.Analysis, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if skip < 0 {
		skip = 0
	}
	return s.store.ListAnalyses(ctx, store.AnalysisFilter{UserID: userID, Skip: skip, Limit: limit})
}

// Delete removes an analysis, its upload file, and its cache entries.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	analysis, err := s.store.GetAnalysis(ctx, id)
	if err != nil {
		return err
	}

	if err := s.files.Remove(id); err != nil {
		return err
	}
	if err := s.store.DeleteAnalysis(ctx, id); err != nil {
		return err
	}

	_ = s.cache.Delete(ctx, cache.AnalysisStatusKey(id))
	if cachedID, ok, err := s.cache.GetFingerprint(ctx, analysis.Fingerprint); err == nil && ok && cachedID == id {
		_ = s.cache.Delete(ctx, cache.FingerprintKey(analysis.Fingerprint))
	}
	return nil
}

// SubmitSync runs the whole pipeline inline and returns the finished
// analysis. The queue is bypassed entirely: no task is enqueued, so a
// concurrent worker can never claim the work away from the caller.
// Kept for callers that cannot poll; the queued path is preferred.
func (s *Service) SubmitSync(ctx context.Context, p SubmitParams) (*models.Analysis, error) {
	query, fingerprint, err := s.checkSubmission(p)
	if err != nil {
		return nil, err
	}

	if existing, err := s.findFreshDuplicate(ctx, fingerprint); err == nil && existing != nil {
		return existing, nil
	}

	analysis, task, path, err := s.createPending(ctx, p, query, fingerprint)
	if err != nil {
		return nil, err
	}

	if err := s.Process(ctx, queue.Message{
		TaskID:     task.ID,
		AnalysisID: analysis.ID,
		ReportPath: path,
		Query:      query,
	}); err != nil {
		return nil, err
	}

	return s.store.GetAnalysis(ctx, analysis.ID)
}

// buildSummary assembles the top-level summary returned to the caller
// from the individual persona sections.
func buildSummary(result models.ReportResult) string {
	var b strings.Builder
	write := func(heading, body string) {
		if body == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(heading)
		b.WriteString("\n")
		b.WriteString(body)
	}
	write("Document Verification", result.Verification)
	write("Medical Review", result.Doctor)
	write("Nutrition", result.Nutrition)
	write("Exercise", result.Exercise)
	return b.String()
}

// sanitizeError flattens an error for storage: single line, bounded length.
func sanitizeError(err error) string {
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	return msg
}
