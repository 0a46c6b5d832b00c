// Package service runs submissions against the remote judge and answers
// status and result queries.
package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"codejudge/internal/judge/catalog"
	"codejudge/internal/judge/judgeclient"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/repository"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxConcurrent = 8
	defaultMaxCodeChars  = 50000
	defaultLockTTL       = 15 * time.Minute
	defaultQueueTimeout  = 5 * time.Minute
	defaultPersistTries  = 5
	defaultPersistDelay  = 200 * time.Millisecond
	defaultPersistMaxGap = 5 * time.Second
	defaultListLimit     = 50
	maxListLimit         = 200
)

// JudgeRunner runs one test case on the remote judge.
type JudgeRunner interface {
	ValidateLimits(limits model.Limits) error
	MemoryLimitKB(memoryBytes int64) int64
	// Run returns an error only for configuration errors. Transport failures
	// and poll timeouts come back as synthetic results.
	Run(ctx context.Context, req judgeclient.SubmitRequest) (model.RawResult, error)
}

// StatusCache mirrors status views and guards submissions with a lock.
type StatusCache interface {
	Get(ctx context.Context, submissionID string) (model.StatusView, bool, error)
	Save(ctx context.Context, view model.StatusView) error
	Lock(ctx context.Context, submissionID, owner string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, submissionID, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, submissionID, owner string) error
}

// SourceArchiver keeps a copy of submitted source code.
type SourceArchiver interface {
	Put(ctx context.Context, submissionID, source string) (string, error)
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	Catalog time.Duration
	DB      time.Duration
	Cache   time.Duration
	Storage time.Duration
	MQ      time.Duration
	// Persist bounds the final write, which runs even if processing was cut short.
	Persist time.Duration
}

// Config holds service dependencies and settings.
type Config struct {
	Store   repository.SubmissionStore
	Catalog catalog.Catalog
	Judge   JudgeRunner

	// Optional.
	StatusCache StatusCache
	Publisher   repository.StatusEventPublisher
	Archive     SourceArchiver
	Metrics     *Metrics

	// MaxConcurrentSubmissions caps submissions holding a judge slot system-wide.
	MaxConcurrentSubmissions int
	// MaxParallelTests caps in-flight jobs per submission. Zero means one job per test.
	MaxParallelTests int
	MaxCodeChars     int
	// LockTTL is renewed every LockTTL/3 while the run holds the lock.
	LockTTL time.Duration
	// QueueTimeout bounds how long a submission waits for a judge slot.
	QueueTimeout time.Duration
	// PersistRetries bounds attempts at the terminal write. Backoff doubles
	// from PersistBackoff up to PersistBackoffMax.
	PersistRetries    int
	PersistBackoff    time.Duration
	PersistBackoffMax time.Duration
	Timeouts          TimeoutConfig
}

// Service orchestrates submissions.
type Service struct {
	store     repository.SubmissionStore
	catalog   catalog.Catalog
	judge     JudgeRunner
	status    StatusCache
	publisher repository.StatusEventPublisher
	archive   SourceArchiver
	metrics   *Metrics

	slots            *semaphore.Weighted
	maxParallelTests int
	maxCodeChars     int
	lockTTL          time.Duration
	queueTimeout     time.Duration

	persistRetries    int
	persistBackoff    time.Duration
	persistBackoffMax time.Duration
	timeouts          TimeoutConfig

	wg sync.WaitGroup
}

// SubmitInput describes a submission request.
type SubmitInput struct {
	UserID     int64
	ProblemID  int64
	Language   string
	SourceCode string
}

// runPlan is everything process needs, resolved before the record exists.
type runPlan struct {
	runtimeID     int
	limits        model.Limits
	memoryLimitKB int64
	tests         []model.TestCase
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("submission store is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if cfg.Judge == nil {
		return nil, fmt.Errorf("judge client is required")
	}
	if cfg.MaxConcurrentSubmissions <= 0 {
		cfg.MaxConcurrentSubmissions = defaultMaxConcurrent
	}
	if cfg.MaxCodeChars <= 0 {
		cfg.MaxCodeChars = defaultMaxCodeChars
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = defaultQueueTimeout
	}
	if cfg.PersistRetries <= 0 {
		cfg.PersistRetries = defaultPersistTries
	}
	if cfg.PersistBackoff <= 0 {
		cfg.PersistBackoff = defaultPersistDelay
	}
	if cfg.PersistBackoffMax <= 0 {
		cfg.PersistBackoffMax = defaultPersistMaxGap
	}
	return &Service{
		store:            cfg.Store,
		catalog:          cfg.Catalog,
		judge:            cfg.Judge,
		status:           cfg.StatusCache,
		publisher:        cfg.Publisher,
		archive:          cfg.Archive,
		metrics:          cfg.Metrics,
		slots:            semaphore.NewWeighted(int64(cfg.MaxConcurrentSubmissions)),
		maxParallelTests: cfg.MaxParallelTests,
		maxCodeChars:     cfg.MaxCodeChars,
		lockTTL:          cfg.LockTTL,
		queueTimeout:     cfg.QueueTimeout,

		persistRetries:    cfg.PersistRetries,
		persistBackoff:    cfg.PersistBackoff,
		persistBackoffMax: cfg.PersistBackoffMax,
		timeouts:          cfg.Timeouts,
	}, nil
}

// Submit validates the request, stores a pending submission and starts
// processing in the background. The returned record is still pending.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (*model.Submission, error) {
	input.Language = strings.ToLower(strings.TrimSpace(input.Language))
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	plan, err := s.plan(ctx, input.ProblemID, input.Language)
	if err != nil {
		return nil, err
	}

	submission := &model.Submission{
		ID:          uuid.NewString(),
		UserID:      input.UserID,
		ProblemID:   input.ProblemID,
		Language:    input.Language,
		SourceCode:  input.SourceCode,
		Status:      model.StatusPending,
		TotalTests:  len(plan.tests),
		Results:     []model.TestResult{},
		SubmittedAt: time.Now().UTC(),
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	err = s.store.Create(ctxDB.ctx, submission)
	ctxDB.cancel()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
	}

	s.saveView(ctx, submission.View())
	s.archiveSource(ctx, submission)

	logger.Info(ctx, "submission accepted",
		zap.String("submission_id", submission.ID),
		zap.Int64("problem_id", submission.ProblemID),
		zap.String("language", submission.Language),
		zap.Int("tests", len(plan.tests)),
	)

	// Processing outlives the request; the caller may disconnect right away.
	bg := context.WithValue(context.WithoutCancel(ctx), contextkey.SubmissionID, submission.ID)
	job := *submission
	s.wg.Add(1)
	go s.process(bg, &job, plan)

	return submission, nil
}

// GetStatus returns the polling projection, reading the status cache first.
func (s *Service) GetStatus(ctx context.Context, submissionID string) (model.StatusView, error) {
	if strings.TrimSpace(submissionID) == "" {
		return model.StatusView{}, appErr.ValidationError("submission_id", "required")
	}
	if s.status != nil {
		ctxCache := withTimeout(ctx, s.timeouts.Cache)
		view, ok, err := s.status.Get(ctxCache.ctx, submissionID)
		ctxCache.cancel()
		if err != nil {
			logger.Warn(ctx, "read status cache failed", zap.String("submission_id", submissionID), zap.Error(err))
		} else if ok {
			return view, nil
		}
	}

	submission, err := s.load(ctx, submissionID)
	if err != nil {
		return model.StatusView{}, err
	}
	view := submission.View()
	// Only terminal views are written back. A pending or running view read
	// here may already be stale and must not overwrite a newer terminal one.
	if view.Status.IsTerminal() {
		s.saveView(ctx, view)
	}
	return view, nil
}

// GetResult returns the full submission as seen by role. Students never
// receive results of hidden test cases.
func (s *Service) GetResult(ctx context.Context, submissionID string, role model.Role) (*model.Submission, error) {
	if strings.TrimSpace(submissionID) == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	submission, err := s.load(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	return submission.VisibleTo(role), nil
}

// ListAttempts returns a user's submissions on a problem, newest first.
func (s *Service) ListAttempts(ctx context.Context, userID, problemID int64, limit int) ([]model.Submission, error) {
	if userID <= 0 {
		return nil, appErr.ValidationError("user_id", "required")
	}
	if problemID <= 0 {
		return nil, appErr.ValidationError("problem_id", "required")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	list, err := s.store.ListByUserProblem(ctxDB.ctx, userID, problemID, limit)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list submissions failed")
	}
	return list, nil
}

// Wait blocks until every background run has written its terminal record or
// ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) validateInput(input SubmitInput) error {
	if input.UserID <= 0 {
		return appErr.ValidationError("user_id", "required")
	}
	if input.ProblemID <= 0 {
		return appErr.ValidationError("problem_id", "required")
	}
	if input.Language == "" {
		return appErr.ValidationError("language", "required")
	}
	if strings.TrimSpace(input.SourceCode) == "" {
		return appErr.ValidationError("source_code", "required")
	}
	if utf8.RuneCountInString(input.SourceCode) > s.maxCodeChars {
		return appErr.New(appErr.CodeTooLarge).
			WithMessagef("source code exceeds %d characters", s.maxCodeChars).
			WithDetail("max_chars", s.maxCodeChars)
	}
	return nil
}

// plan resolves the problem, runtime, tests and limits. Every failure here is
// reported to the caller before a record is created.
func (s *Service) plan(ctx context.Context, problemID int64, language string) (runPlan, error) {
	ctxCatalog := withTimeout(ctx, s.timeouts.Catalog)
	defer ctxCatalog.cancel()

	problem, err := s.catalog.GetProblem(ctxCatalog.ctx, problemID)
	if err != nil {
		return runPlan{}, catalogError(err, "get problem failed")
	}
	if !problem.Submittable() {
		return runPlan{}, appErr.New(appErr.ProblemNotSubmittable).WithDetail("state", string(problem.State))
	}
	runtimeID, err := s.catalog.GetRuntimeID(ctxCatalog.ctx, problemID, language)
	if err != nil {
		return runPlan{}, catalogError(err, "resolve language failed")
	}
	tests, err := s.catalog.GetTestCases(ctxCatalog.ctx, problemID)
	if err != nil {
		return runPlan{}, catalogError(err, "get test cases failed")
	}
	if len(tests) == 0 {
		return runPlan{}, appErr.New(appErr.ProblemNotSubmittable).WithMessage("problem has no test cases")
	}
	if err := s.judge.ValidateLimits(problem.Limits); err != nil {
		logger.Error(ctx, "problem limits rejected by judge configuration",
			zap.Int64("problem_id", problemID), zap.Error(err))
		return runPlan{}, err
	}
	return runPlan{
		runtimeID:     runtimeID,
		limits:        problem.Limits,
		memoryLimitKB: s.judge.MemoryLimitKB(problem.Limits.MemoryBytes),
		tests:         tests,
	}, nil
}

func (s *Service) load(ctx context.Context, submissionID string) (*model.Submission, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	submission, err := s.store.Get(ctxDB.ctx, submissionID)
	if err != nil {
		if stderrors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", submissionID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	return submission, nil
}

func (s *Service) saveView(ctx context.Context, view model.StatusView) {
	if s.status == nil {
		return
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.status.Save(ctxCache.ctx, view); err != nil {
		logger.Warn(ctx, "update status cache failed", zap.String("submission_id", view.SubmissionID), zap.Error(err))
	}
}

func (s *Service) archiveSource(ctx context.Context, submission *model.Submission) {
	if s.archive == nil {
		return
	}
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	if _, err := s.archive.Put(ctxStorage.ctx, submission.ID, submission.SourceCode); err != nil {
		logger.Warn(ctx, "archive source failed", zap.String("submission_id", submission.ID), zap.Error(err))
	}
}

// catalogError keeps coded catalog errors and wraps anything else.
func catalogError(err error, msg string) error {
	if appErr.GetCode(err) != appErr.InternalServerError {
		return err
	}
	return appErr.Wrapf(err, appErr.DatabaseError, "%s", msg)
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
