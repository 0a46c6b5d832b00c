package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"time"

	"codejudge/internal/judge/judgeclient"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/repository"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// jobResult is one test case's raw outcome. err is set when the job never
// produced a judge result: a configuration error or a recovered panic.
type jobResult struct {
	raw model.RawResult
	err error
}

// process drives submission from pending to a terminal status. Once the lock
// is held, exactly one terminal write happens on every path, panics included.
func (s *Service) process(ctx context.Context, submission *model.Submission, plan runPlan) {
	defer s.wg.Done()

	owner := uuid.NewString()
	proceed, held := s.claim(ctx, submission.ID, owner)
	if !proceed {
		return
	}
	if held {
		defer s.release(ctx, submission.ID, owner)
		defer s.keepLock(ctx, submission.ID, owner)()
	}

	outcome := internalSummary(len(plan.tests), "processing aborted")
	write := true
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "submission processing panicked",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			outcome = internalSummary(len(plan.tests), fmt.Sprintf("internal error: %v", r))
			write = true
		}
		if write {
			s.finalize(ctx, submission, outcome)
		}
	}()

	outcome, write = s.run(ctx, submission, plan)
}

// run returns the outcome and whether this run owns the terminal write.
func (s *Service) run(ctx context.Context, submission *model.Submission, plan runPlan) (summary, bool) {
	total := len(plan.tests)

	waitStart := time.Now()
	release, err := s.acquireSlot(ctx)
	s.metrics.observeQueueWait(time.Since(waitStart))
	if err != nil {
		logger.Error(ctx, "no judge slot available", zap.Error(err))
		return internalSummary(total, err.Error()), true
	}
	defer release()
	s.metrics.incInflight()
	defer s.metrics.decInflight()

	if err := s.markRunning(ctx, submission); err != nil {
		if stderrors.Is(err, repository.ErrStatusConflict) {
			logger.Warn(ctx, "submission is no longer pending, skipping")
			return summary{}, false
		}
		logger.Error(ctx, "mark submission running failed", zap.Error(err))
		return internalSummary(total, "mark running failed"), true
	}

	logger.Info(ctx, "dispatching submission", zap.Int("tests", total), zap.Int("runtime_id", plan.runtimeID))
	jobs := s.dispatch(ctx, submission.SourceCode, plan)

	raws := make([]model.RawResult, total)
	dispatched := 0
	var configErr error
	for i, job := range jobs {
		raws[i] = job.raw
		if job.err != nil {
			if configErr == nil && appErr.Is(job.err, appErr.JudgeConfigError) {
				configErr = job.err
			}
			continue
		}
		if job.raw.Verdict != model.VerdictTransportError {
			dispatched++
		}
	}

	outcome := aggregate(plan.tests, raws, plan.memoryLimitKB)
	switch {
	case configErr != nil:
		logger.Error(ctx, "remote judge rejected submission configuration", zap.Error(configErr))
		return orchestrationFailure(outcome, "judge configuration error: "+configErr.Error()), true
	case dispatched == 0:
		return orchestrationFailure(outcome, "no test case reached the remote judge"), true
	}
	return outcome, true
}

// orchestrationFailure turns outcome into internal_error while keeping the
// per-test diagnostics.
func orchestrationFailure(outcome summary, msg string) summary {
	outcome.Status = model.StatusInternalError
	outcome.PassedTests = 0
	outcome.Score = 0
	outcome.Error = msg
	return outcome
}

// dispatch runs one job per test case and joins them by index. Jobs never
// cancel each other; each resolves on its own poll budget.
func (s *Service) dispatch(ctx context.Context, code string, plan runPlan) []jobResult {
	results := make([]jobResult, len(plan.tests))
	var g errgroup.Group
	if s.maxParallelTests > 0 {
		g.SetLimit(s.maxParallelTests)
	}
	for i, tc := range plan.tests {
		g.Go(func() error {
			results[i] = s.runJob(ctx, code, plan, tc)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) runJob(ctx context.Context, code string, plan runPlan, tc model.TestCase) (res jobResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "judge job panicked",
				zap.Int("test_index", tc.Index),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			err := fmt.Errorf("job panicked: %v", r)
			res = jobResult{
				raw: model.RawResult{Verdict: model.VerdictInternal, LocalError: err.Error()},
				err: err,
			}
		}
		s.metrics.observeJob(res.raw.Verdict, time.Since(start))
	}()

	raw, err := s.judge.Run(ctx, judgeclient.SubmitRequest{
		SourceCode:     code,
		RuntimeID:      plan.runtimeID,
		Stdin:          tc.Input,
		ExpectedOutput: tc.ExpectedOutput,
		Limits:         plan.limits,
	})
	if err != nil {
		return jobResult{
			raw: model.RawResult{Verdict: model.VerdictInternal, LocalError: err.Error()},
			err: err,
		}
	}
	switch raw.Verdict {
	case model.VerdictTransportError:
		logger.Warn(ctx, "judge transport failed", zap.Int("test_index", tc.Index), zap.String("error", raw.LocalError))
	case model.VerdictPollTimeout:
		logger.Warn(ctx, "judge poll budget exceeded", zap.Int("test_index", tc.Index), zap.String("token", raw.Token))
	}
	return jobResult{raw: raw}
}

func (s *Service) markRunning(ctx context.Context, submission *model.Submission) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	err := s.store.MarkRunning(ctxDB.ctx, submission.ID)
	ctxDB.cancel()
	if err != nil {
		return err
	}
	submission.Status = model.StatusRunning
	s.saveView(ctx, submission.View())
	return nil
}

// finalize writes the terminal record and then fans the result out to the
// status cache, event stream and metrics.
func (s *Service) finalize(ctx context.Context, submission *model.Submission, outcome summary) {
	completedAt := time.Now().UTC()
	submission.Status = outcome.Status
	submission.Results = outcome.Results
	if submission.Results == nil {
		submission.Results = []model.TestResult{}
	}
	submission.PassedTests = outcome.PassedTests
	submission.TotalTests = outcome.TotalTests
	submission.Score = outcome.Score
	submission.TotalTimeMs = outcome.TotalTimeMs
	submission.MaxMemoryKB = outcome.MaxMemoryKB
	submission.Error = outcome.Error
	submission.CompletedAt = &completedAt

	if err := s.persistFinal(ctx, submission); err != nil {
		if stderrors.Is(err, repository.ErrAlreadyFinal) {
			logger.Warn(ctx, "submission already final, dropping write", zap.String("status", string(outcome.Status)))
			return
		}
		logger.Error(ctx, "persist final submission failed", zap.String("status", string(outcome.Status)), zap.Error(err))
		// Pollers still see the outcome while the record needs repair.
		s.saveView(ctx, submission.View())
		return
	}

	s.saveView(ctx, submission.View())
	s.publishFinal(ctx, submission)
	s.metrics.observeSubmission(submission.Status)

	fields := []zap.Field{
		zap.String("status", string(submission.Status)),
		zap.Int("passed_tests", submission.PassedTests),
		zap.Int("total_tests", submission.TotalTests),
		zap.Int("score", submission.Score),
		zap.Int("earned_points", outcome.EarnedPoints),
		zap.Int("possible_points", outcome.PossiblePoints),
	}
	if submission.Status == model.StatusInternalError {
		logger.Error(ctx, "submission finished with internal error", append(fields, zap.String("error", submission.Error))...)
		return
	}
	logger.Info(ctx, "submission finished", fields...)
}

func (s *Service) publishFinal(ctx context.Context, submission *model.Submission) {
	if s.publisher == nil {
		return
	}
	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	if err := s.publisher.PublishFinalStatus(ctxMQ.ctx, submission); err != nil {
		logger.Warn(ctx, "publish final status failed", zap.Error(err))
	}
}

func (s *Service) acquireSlot(ctx context.Context) (func(), error) {
	ctxWait := withTimeout(ctx, s.queueTimeout)
	defer ctxWait.cancel()
	if err := s.slots.Acquire(ctxWait.ctx, 1); err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeQueueFull, "no judge slot within %s", s.queueTimeout)
	}
	return func() { s.slots.Release(1) }, nil
}

// claim takes the single-writer lock. proceed is false when another run owns
// the submission. A lock backend failure proceeds without holding the lock
// and relies on the store's status guards.
func (s *Service) claim(ctx context.Context, submissionID, owner string) (proceed, held bool) {
	if s.status == nil {
		return true, false
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	ok, err := s.status.Lock(ctxCache.ctx, submissionID, owner, s.lockTTL)
	if err != nil {
		logger.Warn(ctx, "acquire submission lock failed, relying on store guards", zap.Error(err))
		return true, false
	}
	if !ok {
		logger.Warn(ctx, "submission is owned by another run")
		return false, false
	}
	return true, true
}

// keepLock renews the lock every lockTTL/3 until the returned stop is called.
func (s *Service) keepLock(ctx context.Context, submissionID, owner string) (stop func()) {
	interval := s.lockTTL / 3
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			ctxCache := withTimeout(ctx, s.timeouts.Cache)
			ok, err := s.status.Refresh(ctxCache.ctx, submissionID, owner, s.lockTTL)
			ctxCache.cancel()
			switch {
			case err != nil:
				logger.Warn(ctx, "refresh submission lock failed", zap.Error(err))
			case !ok:
				logger.Warn(ctx, "submission lock lost, relying on store guards")
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func (s *Service) release(ctx context.Context, submissionID, owner string) {
	if s.status == nil {
		return
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.status.Unlock(ctxCache.ctx, submissionID, owner); err != nil {
		logger.Warn(ctx, "release submission lock failed", zap.Error(err))
	}
}
