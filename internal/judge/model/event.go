package model

// StatusEventType identifies a status event kind.
type StatusEventType string

const (
	StatusEventFinal StatusEventType = "final"
)

// StatusEvent is published once a submission reaches a terminal status.
type StatusEvent struct {
	Type      StatusEventType `json:"type"`
	UserID    int64           `json:"user_id"`
	ProblemID int64           `json:"problem_id"`
	Status    StatusView      `json:"status"`
	CreatedAt int64           `json:"created_at"`
}
