package model

import "time"

// ProblemState controls whether a problem accepts submissions.
type ProblemState string

const (
	ProblemDraft     ProblemState = "draft"
	ProblemPublished ProblemState = "published"
	ProblemArchived  ProblemState = "archived"
)

// Problem is the catalog entry a submission targets.
type Problem struct {
	ID     int64
	Title  string
	State  ProblemState
	Limits Limits
}

// Submittable reports whether new submissions are accepted.
func (p Problem) Submittable() bool {
	return p.State == ProblemPublished
}

// Limits are per-test execution limits as stored by the catalog.
// MemoryBytes is converted to the remote judge unit by the client.
type Limits struct {
	CPUTime     time.Duration
	MemoryBytes int64
}

// TestCase is one input and expected output pair. Index is the zero-based
// position within the problem and defines result ordering.
type TestCase struct {
	ID             int64
	Index          int
	Input          string
	ExpectedOutput string
	Hidden         bool
	Points         int
}
