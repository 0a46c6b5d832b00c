package service

import (
	"math"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/normalizer"
)

// summary is the terminal outcome of one processing run.
type summary struct {
	Status      model.SubmissionStatus
	Results     []model.TestResult
	PassedTests int
	TotalTests  int
	Score       int
	TotalTimeMs int64
	MaxMemoryKB int64
	Error       string
	// Point totals are reported alongside Score; they never feed into it.
	EarnedPoints   int
	PossiblePoints int
}

func internalSummary(total int, msg string) summary {
	return summary{
		Status:     model.StatusInternalError,
		Results:    []model.TestResult{},
		TotalTests: total,
		Error:      msg,
	}
}

// aggregate evaluates raws against tests (same order, same length) and derives
// the overall status. Status precedence looks at the raw verdicts:
// compile error, then time limit (judge or poll budget), then memory limit,
// then runtime error, then accepted when every test passed, else wrong answer.
func aggregate(tests []model.TestCase, raws []model.RawResult, memoryLimitKB int64) summary {
	out := summary{
		Results:    make([]model.TestResult, len(tests)),
		TotalTests: len(tests),
	}

	var (
		compileErr, timeLimit, memoryLimit, runtimeErr bool
	)
	for i, tc := range tests {
		raw := raws[i]
		res := normalizer.Evaluate(raw, tc)
		out.Results[i] = res

		weight := tc.Points
		if weight <= 0 {
			weight = 1
		}
		out.PossiblePoints += weight
		if res.Status == model.TestPassed {
			out.PassedTests++
			out.EarnedPoints += weight
		}
		out.TotalTimeMs += raw.TimeMs
		if raw.MemoryKB > out.MaxMemoryKB {
			out.MaxMemoryKB = raw.MemoryKB
		}

		switch raw.Verdict {
		case model.VerdictCompileError:
			compileErr = true
		case model.VerdictTimeLimit, model.VerdictPollTimeout:
			timeLimit = true
		case model.VerdictRuntimeError:
			if memoryLimitKB > 0 && raw.MemoryKB >= memoryLimitKB {
				memoryLimit = true
			} else {
				runtimeErr = true
			}
		}
	}
	out.Score = scoreOf(out.PassedTests, out.TotalTests)

	switch {
	case compileErr:
		out.Status = model.StatusCompileError
	case timeLimit:
		out.Status = model.StatusTimeLimitExceeded
	case memoryLimit:
		out.Status = model.StatusMemoryLimitExceeded
	case runtimeErr:
		out.Status = model.StatusRuntimeError
	case out.TotalTests > 0 && out.PassedTests == out.TotalTests:
		out.Status = model.StatusAccepted
	default:
		out.Status = model.StatusWrongAnswer
	}
	return out
}

// scoreOf is round(100 * passed / total), 0 when there are no tests.
func scoreOf(passed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(passed) / float64(total)))
}
