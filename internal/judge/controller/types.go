package controller

import (
	"time"

	"codejudge/internal/judge/model"
)

// SubmitRequest defines submission payload.
type SubmitRequest struct {
	ProblemID  int64  `json:"problem_id" binding:"required"`
	Language   string `json:"language" binding:"required"`
	SourceCode string `json:"source_code" binding:"required"`
}

// SubmitResponse defines submission response payload.
type SubmitResponse struct {
	SubmissionID string                 `json:"submission_id"`
	Status       model.SubmissionStatus `json:"status"`
	Ordinal      int                    `json:"ordinal"`
	SubmittedAt  time.Time              `json:"submitted_at"`
}

// TestExampleRequest defines the example run payload.
type TestExampleRequest struct {
	Language   string `json:"language" binding:"required"`
	SourceCode string `json:"source_code" binding:"required"`
}

// AttemptItem is one row of a user's attempt history.
type AttemptItem struct {
	SubmissionID string                 `json:"submission_id"`
	Ordinal      int                    `json:"ordinal"`
	Language     string                 `json:"language"`
	Status       model.SubmissionStatus `json:"status"`
	Score        int                    `json:"score"`
	SubmittedAt  time.Time              `json:"submitted_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

// AttemptListResponse defines attempt list payload.
type AttemptListResponse struct {
	Items []AttemptItem `json:"items"`
}
