package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

const (
	statusKeyPrefix = "judge:status:"
	lockKeyPrefix   = "judge:lock:"
)

// StatusCache mirrors status projections in Redis and guards each submission
// with an owner-aware lock.
type StatusCache struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewStatusCache creates a status cache.
func NewStatusCache(cacheClient cache.Cache, ttl time.Duration) *StatusCache {
	return &StatusCache{cache: cacheClient, ttl: ttl}
}

// Get returns the cached view. ok is false on a miss.
func (r *StatusCache) Get(ctx context.Context, submissionID string) (model.StatusView, bool, error) {
	if submissionID == "" {
		return model.StatusView{}, false, appErr.ValidationError("submission_id", "required")
	}
	val, err := r.cache.Get(ctx, statusKeyPrefix+submissionID)
	if err != nil {
		return model.StatusView{}, false, appErr.Wrapf(err, appErr.CacheError, "read status failed")
	}
	if val == "" {
		return model.StatusView{}, false, nil
	}
	var view model.StatusView
	if err := json.Unmarshal([]byte(val), &view); err != nil {
		return model.StatusView{}, false, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
	}
	return view, true, nil
}

// Save stores view.
func (r *StatusCache) Save(ctx context.Context, view model.StatusView) error {
	if view.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	if err := r.cache.Set(ctx, statusKeyPrefix+view.SubmissionID, string(data), cache.JitterTTL(r.ttl)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status failed")
	}
	return nil
}

// Lock claims submissionID for owner.
func (r *StatusCache) Lock(ctx context.Context, submissionID, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.cache.TryLock(ctx, lockKeyPrefix+submissionID, owner, ttl)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.LockFailed, "acquire submission lock failed")
	}
	return ok, nil
}

// Refresh extends the lock while owner still holds it.
func (r *StatusCache) Refresh(ctx context.Context, submissionID, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.cache.RefreshLock(ctx, lockKeyPrefix+submissionID, owner, ttl)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.LockFailed, "refresh submission lock failed")
	}
	return ok, nil
}

// Unlock releases the lock if owner still holds it.
func (r *StatusCache) Unlock(ctx context.Context, submissionID, owner string) error {
	if err := r.cache.Unlock(ctx, lockKeyPrefix+submissionID, owner); err != nil {
		return appErr.Wrapf(err, appErr.LockFailed, "release submission lock failed")
	}
	return nil
}
