// Package model defines the submission, test case and verdict types shared across the judge.
package model

// SubmissionStatus is the lifecycle state of a submission.
type SubmissionStatus string

const (
	StatusPending             SubmissionStatus = "pending"
	StatusRunning             SubmissionStatus = "running"
	StatusAccepted            SubmissionStatus = "accepted"
	StatusWrongAnswer         SubmissionStatus = "wrong_answer"
	StatusCompileError        SubmissionStatus = "compile_error"
	StatusRuntimeError        SubmissionStatus = "runtime_error"
	StatusTimeLimitExceeded   SubmissionStatus = "time_limit_exceeded"
	StatusMemoryLimitExceeded SubmissionStatus = "memory_limit_exceeded"
	StatusInternalError       SubmissionStatus = "internal_error"
)

// IsTerminal reports whether no further automatic transition happens from s.
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusWrongAnswer, StatusCompileError, StatusRuntimeError,
		StatusTimeLimitExceeded, StatusMemoryLimitExceeded, StatusInternalError:
		return true
	default:
		return false
	}
}

// TestStatus is the classified outcome of one test case.
type TestStatus string

const (
	TestPassed  TestStatus = "passed"
	TestFailed  TestStatus = "failed"
	TestError   TestStatus = "error"
	TestTimeout TestStatus = "timeout"
)

// Verdict is the remote judge's status, mapped once at the client boundary.
type Verdict string

const (
	VerdictInQueue      Verdict = "in_queue"
	VerdictProcessing   Verdict = "processing"
	VerdictAccepted     Verdict = "accepted"
	VerdictWrongAnswer  Verdict = "wrong_answer"
	VerdictTimeLimit    Verdict = "time_limit"
	VerdictCompileError Verdict = "compile_error"
	VerdictRuntimeError Verdict = "runtime_error"
	VerdictInternal     Verdict = "internal_error"
	VerdictUnknown      Verdict = "unknown"

	// Synthetic verdicts produced locally when no judge result was obtained.
	VerdictPollTimeout    Verdict = "poll_timeout"
	VerdictTransportError Verdict = "transport_error"
)

// InFlight reports whether the remote job is still queued or running.
func (v Verdict) InFlight() bool {
	return v == VerdictInQueue || v == VerdictProcessing
}

// Role is the caller's role when reading results.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// ParseRole maps a token role claim onto Role. Unknown roles read as student.
func ParseRole(raw string) Role {
	switch Role(raw) {
	case RoleTeacher:
		return RoleTeacher
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleStudent
	}
}

// CanSeeHidden reports whether the role may read hidden test results.
func (r Role) CanSeeHidden() bool {
	return r == RoleTeacher || r == RoleAdmin
}
