package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"codejudge/internal/judge/model"

	"github.com/Yiling-J/theine-go"
)

const (
	defaultCacheTTL  = time.Minute
	defaultCacheSize = 1000
)

// CachedCatalog fronts a Catalog with in-process loading caches. Errors are
// never cached, so a NotFound is re-checked on the next call.
type CachedCatalog struct {
	next     Catalog
	problems *theine.LoadingCache[int64, model.Problem]
	tests    *theine.LoadingCache[int64, []model.TestCase]
	runtimes *theine.LoadingCache[string, int]
}

// NewCachedCatalog wraps next. ttl bounds how stale a cached entry may be.
func NewCachedCatalog(next Catalog, size int64, ttl time.Duration) (*CachedCatalog, error) {
	if next == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	problems, err := theine.NewBuilder[int64, model.Problem](size).BuildWithLoader(func(ctx context.Context, id int64) (theine.Loaded[model.Problem], error) {
		problem, err := next.GetProblem(ctx, id)
		if err != nil {
			return theine.Loaded[model.Problem]{}, err
		}
		return theine.Loaded[model.Problem]{Value: problem, Cost: 1, TTL: ttl}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not build problem cache: %w", err)
	}

	tests, err := theine.NewBuilder[int64, []model.TestCase](size).BuildWithLoader(func(ctx context.Context, id int64) (theine.Loaded[[]model.TestCase], error) {
		cases, err := next.GetTestCases(ctx, id)
		if err != nil {
			return theine.Loaded[[]model.TestCase]{}, err
		}
		return theine.Loaded[[]model.TestCase]{Value: cases, Cost: 1, TTL: ttl}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not build test case cache: %w", err)
	}

	runtimes, err := theine.NewBuilder[string, int](size).BuildWithLoader(func(ctx context.Context, key string) (theine.Loaded[int], error) {
		problemID, language, err := splitRuntimeKey(key)
		if err != nil {
			return theine.Loaded[int]{}, err
		}
		runtimeID, err := next.GetRuntimeID(ctx, problemID, language)
		if err != nil {
			return theine.Loaded[int]{}, err
		}
		return theine.Loaded[int]{Value: runtimeID, Cost: 1, TTL: ttl}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not build runtime cache: %w", err)
	}

	return &CachedCatalog{next: next, problems: problems, tests: tests, runtimes: runtimes}, nil
}

func (c *CachedCatalog) GetProblem(ctx context.Context, problemID int64) (model.Problem, error) {
	return c.problems.Get(ctx, problemID)
}

// GetTestCases returns a copy so callers cannot mutate the cached slice.
func (c *CachedCatalog) GetTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error) {
	cases, err := c.tests.Get(ctx, problemID)
	if err != nil {
		return nil, err
	}
	return append([]model.TestCase(nil), cases...), nil
}

func (c *CachedCatalog) GetRuntimeID(ctx context.Context, problemID int64, language string) (int, error) {
	return c.runtimes.Get(ctx, runtimeKey(problemID, language))
}

func (c *CachedCatalog) GetLimits(ctx context.Context, problemID int64) (model.Limits, error) {
	problem, err := c.GetProblem(ctx, problemID)
	if err != nil {
		return model.Limits{}, err
	}
	return problem.Limits, nil
}

// Invalidate drops every cached entry for problemID.
func (c *CachedCatalog) Invalidate(problemID int64, languages ...string) {
	c.problems.Delete(problemID)
	c.tests.Delete(problemID)
	for _, language := range languages {
		c.runtimes.Delete(runtimeKey(problemID, language))
	}
}

// Close stops the cache maintenance goroutines.
func (c *CachedCatalog) Close() {
	c.problems.Close()
	c.tests.Close()
	c.runtimes.Close()
}

func runtimeKey(problemID int64, language string) string {
	return strconv.FormatInt(problemID, 10) + ":" + strings.ToLower(strings.TrimSpace(language))
}

func splitRuntimeKey(key string) (int64, string, error) {
	idx := strings.IndexByte(key, ':')
	if idx <= 0 {
		return 0, "", fmt.Errorf("invalid runtime key %q", key)
	}
	problemID, err := strconv.ParseInt(key[:idx], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid runtime key %q: %w", key, err)
	}
	return problemID, key[idx+1:], nil
}
