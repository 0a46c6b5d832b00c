package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/normalizer"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// ExampleInput selects one public example of a problem.
type ExampleInput struct {
	ProblemID    int64
	Language     string
	SourceCode   string
	ExampleIndex int
}

// TestExample runs code against the problem's public example at
// ExampleIndex. Nothing is persisted.
func (s *Service) TestExample(ctx context.Context, input ExampleInput) (model.TestResult, error) {
	input.Language = strings.ToLower(strings.TrimSpace(input.Language))
	switch {
	case input.ProblemID <= 0:
		return model.TestResult{}, appErr.ValidationError("problem_id", "required")
	case input.Language == "":
		return model.TestResult{}, appErr.ValidationError("language", "required")
	case strings.TrimSpace(input.SourceCode) == "":
		return model.TestResult{}, appErr.ValidationError("source_code", "required")
	case utf8.RuneCountInString(input.SourceCode) > s.maxCodeChars:
		return model.TestResult{}, appErr.New(appErr.CodeTooLarge).
			WithMessagef("source code exceeds %d characters", s.maxCodeChars)
	}

	ctxCatalog := withTimeout(ctx, s.timeouts.Catalog)
	defer ctxCatalog.cancel()
	problem, err := s.catalog.GetProblem(ctxCatalog.ctx, input.ProblemID)
	if err != nil {
		return model.TestResult{}, catalogError(err, "get problem failed")
	}
	runtimeID, err := s.catalog.GetRuntimeID(ctxCatalog.ctx, input.ProblemID, input.Language)
	if err != nil {
		return model.TestResult{}, catalogError(err, "resolve language failed")
	}
	tests, err := s.catalog.GetTestCases(ctxCatalog.ctx, input.ProblemID)
	if err != nil {
		return model.TestResult{}, catalogError(err, "get test cases failed")
	}
	examples := publicExamples(tests)
	if input.ExampleIndex < 0 || input.ExampleIndex >= len(examples) {
		return model.TestResult{}, appErr.New(appErr.TestCaseNotFound).
			WithDetail("example_index", input.ExampleIndex).
			WithDetail("examples", len(examples))
	}
	if err := s.judge.ValidateLimits(problem.Limits); err != nil {
		logger.Error(ctx, "problem limits rejected by judge configuration",
			zap.Int64("problem_id", input.ProblemID), zap.Error(err))
		return model.TestResult{}, err
	}
	return s.TestOne(ctx, input.SourceCode, runtimeID, problem.Limits, examples[input.ExampleIndex])
}

// TestOne runs code against a single test case and classifies the outcome
// the same way a full submission does.
func (s *Service) TestOne(ctx context.Context, code string, runtimeID int, limits model.Limits, tc model.TestCase) (model.TestResult, error) {
	release, err := s.acquireSlot(ctx)
	if err != nil {
		return model.TestResult{}, err
	}
	defer release()

	res := s.runJob(ctx, code, runPlan{runtimeID: runtimeID, limits: limits}, tc)
	if res.err != nil {
		if appErr.Is(res.err, appErr.JudgeConfigError) {
			return model.TestResult{}, res.err
		}
		return model.TestResult{}, appErr.Wrapf(res.err, appErr.CustomTestFailed, "example run failed")
	}
	return normalizer.Evaluate(res.raw, tc), nil
}

func publicExamples(tests []model.TestCase) []model.TestCase {
	out := make([]model.TestCase, 0, len(tests))
	for _, tc := range tests {
		if !tc.Hidden {
			out = append(out, tc)
		}
	}
	return out
}
