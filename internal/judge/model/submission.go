package model

import "time"

// Submission is one attempt by a user on a problem in one language.
type Submission struct {
	ID          string           `json:"submission_id"`
	UserID      int64            `json:"user_id"`
	ProblemID   int64            `json:"problem_id"`
	Language    string           `json:"language"`
	Ordinal     int              `json:"ordinal"`
	SourceCode  string           `json:"source_code,omitempty"`
	Status      SubmissionStatus `json:"status"`
	PassedTests int              `json:"passed_tests"`
	TotalTests  int              `json:"total_tests"`
	Score       int              `json:"score"`
	TotalTimeMs int64            `json:"total_time_ms"`
	MaxMemoryKB int64            `json:"max_memory_kb"`
	Results     []TestResult     `json:"results"`
	Error       string           `json:"error,omitempty"`
	SubmittedAt time.Time        `json:"submitted_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// TestResult is the outcome of one test case.
type TestResult struct {
	TestCaseID     int64      `json:"test_case_id"`
	Index          int        `json:"index"`
	Hidden         bool       `json:"hidden"`
	Status         TestStatus `json:"status"`
	Verdict        Verdict    `json:"verdict"`
	Input          string     `json:"input"`
	ExpectedOutput string     `json:"expected_output"`
	ActualOutput   string     `json:"actual_output"`
	TimeMs         int64      `json:"time_ms"`
	MemoryKB       int64      `json:"memory_kb"`
	Error          string     `json:"error,omitempty"`
}

// StatusView is the lightweight polling projection of a submission.
type StatusView struct {
	SubmissionID string           `json:"submission_id"`
	UserID       int64            `json:"user_id"`
	Status       SubmissionStatus `json:"status"`
	PassedTests  int              `json:"passed_tests"`
	TotalTests   int              `json:"total_tests"`
	Score        int              `json:"score"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

// View projects s onto a StatusView.
func (s *Submission) View() StatusView {
	return StatusView{
		SubmissionID: s.ID,
		UserID:       s.UserID,
		Status:       s.Status,
		PassedTests:  s.PassedTests,
		TotalTests:   s.TotalTests,
		Score:        s.Score,
		CompletedAt:  s.CompletedAt,
	}
}

// VisibleTo returns a copy of s as seen by role. Students never see hidden
// results; those entries are removed from the list entirely.
func (s *Submission) VisibleTo(role Role) *Submission {
	out := *s
	if role.CanSeeHidden() {
		out.Results = append([]TestResult(nil), s.Results...)
		return &out
	}
	out.Results = make([]TestResult, 0, len(s.Results))
	for _, r := range s.Results {
		if r.Hidden {
			continue
		}
		out.Results = append(out.Results, r)
	}
	return &out
}
