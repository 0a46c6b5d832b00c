// Package catalog reads problems, test cases and language runtimes.
package catalog

import (
	"context"

	"codejudge/internal/judge/model"
)

// Catalog is the read side of the problem store. Missing problems fail with
// ProblemNotFound and missing language mappings with LanguageNotSupported.
type Catalog interface {
	GetProblem(ctx context.Context, problemID int64) (model.Problem, error)
	GetTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error)
	GetRuntimeID(ctx context.Context, problemID int64, language string) (int, error)
	GetLimits(ctx context.Context, problemID int64) (model.Limits, error)
}
