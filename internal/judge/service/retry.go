package service

import (
	"context"
	stderrors "errors"
	"time"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/repository"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// computeBackoff doubles base per retry, capped at max.
func computeBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount <= 0 {
		if max > 0 && base > max {
			return max
		}
		return base
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && delay > max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// persistFinal writes the terminal record, retrying transient failures.
// ErrAlreadyFinal on a retry means an earlier attempt committed before its
// error surfaced, so it counts as success. On the first attempt it means
// another writer finished the submission and is returned as is.
func (s *Service) persistFinal(ctx context.Context, submission *model.Submission) error {
	attempts := s.persistRetries
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := computeBackoff(attempt-1, s.persistBackoff, s.persistBackoffMax)
			logger.Warn(ctx, "retrying final submission write",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}

		ctxPersist := withTimeout(ctx, s.timeouts.Persist)
		err = s.store.SaveFinal(ctxPersist.ctx, submission)
		ctxPersist.cancel()
		if err == nil {
			return nil
		}
		if stderrors.Is(err, repository.ErrAlreadyFinal) {
			if attempt > 0 {
				return nil
			}
			return err
		}
		if stderrors.Is(err, repository.ErrSubmissionNotFound) {
			return err
		}
	}
	return err
}
