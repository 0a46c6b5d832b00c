package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"codejudge/internal/common/db"
	"codejudge/internal/judge/model"
)

const maxOrdinalRetries = 3

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrAlreadyFinal is returned when a terminal record is written twice.
	ErrAlreadyFinal = errors.New("submission already final")
	// ErrStatusConflict is returned when a transition does not apply to the stored status.
	ErrStatusConflict = errors.New("submission status conflict")
)

// SubmissionStore persists submissions and their status transitions.
type SubmissionStore interface {
	// Create inserts a pending submission and assigns its ordinal.
	Create(ctx context.Context, submission *model.Submission) error
	// MarkRunning moves a pending submission to running.
	MarkRunning(ctx context.Context, submissionID string) error
	// SaveFinal writes the terminal record. It fails with ErrAlreadyFinal if one exists.
	SaveFinal(ctx context.Context, submission *model.Submission) error
	Get(ctx context.Context, submissionID string) (*model.Submission, error)
	// ListByUserProblem returns a user's attempts, newest first, without source or results.
	ListByUserProblem(ctx context.Context, userID, problemID int64, limit int) ([]model.Submission, error)
}

// MySQLSubmissionStore implements SubmissionStore with MySQL.
type MySQLSubmissionStore struct {
	db db.Database
}

// NewMySQLSubmissionStore creates a MySQL submission store.
func NewMySQLSubmissionStore(database db.Database) *MySQLSubmissionStore {
	return &MySQLSubmissionStore{db: database}
}

const submissionColumns = "submission_id, user_id, problem_id, language, ordinal, source_code, status, passed_tests, total_tests, score, total_time_ms, max_memory_kb, results, error, submitted_at, completed_at"

const terminalStatuses = "'accepted','wrong_answer','compile_error','runtime_error','time_limit_exceeded','memory_limit_exceeded','internal_error'"

// Create inserts submission. The ordinal is computed inside the transaction and
// the (user_id, problem_id, ordinal) unique key resolves concurrent attempts.
func (s *MySQLSubmissionStore) Create(ctx context.Context, submission *model.Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.ID == "" {
		return errors.New("submissionID is required")
	}
	if submission.UserID <= 0 || submission.ProblemID <= 0 {
		return errors.New("userID and problemID are required")
	}

	var lastErr error
	for attempt := 0; attempt < maxOrdinalRetries; attempt++ {
		err := s.db.Transaction(ctx, func(tx db.Transaction) error {
			var ordinal int
			row := tx.QueryRow(ctx,
				"SELECT COALESCE(MAX(ordinal), 0) + 1 FROM submissions WHERE user_id = ? AND problem_id = ?",
				submission.UserID, submission.ProblemID)
			if err := row.Scan(&ordinal); err != nil {
				return err
			}
			query := `
				INSERT INTO submissions
				(submission_id, user_id, problem_id, language, ordinal, source_code, status, passed_tests, total_tests, score, total_time_ms, max_memory_kb, results, error, submitted_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, 0, 0, 0, '[]', '', ?)
			`
			if _, err := tx.Exec(ctx, query,
				submission.ID,
				submission.UserID,
				submission.ProblemID,
				submission.Language,
				ordinal,
				submission.SourceCode,
				string(submission.Status),
				submission.TotalTests,
				submission.SubmittedAt,
			); err != nil {
				return err
			}
			submission.Ordinal = ordinal
			return nil
		})
		if err == nil {
			return nil
		}
		if key, dup := db.IsDuplicate(err); dup && !strings.HasSuffix(key, "PRIMARY") {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("assign ordinal failed after %d attempts: %w", maxOrdinalRetries, lastErr)
}

func (s *MySQLSubmissionStore) MarkRunning(ctx context.Context, submissionID string) error {
	res, err := s.db.Exec(ctx,
		"UPDATE submissions SET status = ? WHERE submission_id = ? AND status = ?",
		string(model.StatusRunning), submissionID, string(model.StatusPending))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (s *MySQLSubmissionStore) SaveFinal(ctx context.Context, submission *model.Submission) error {
	if submission == nil || submission.ID == "" {
		return errors.New("submission is required")
	}
	if !submission.Status.IsTerminal() || submission.CompletedAt == nil {
		return fmt.Errorf("submission %s is not terminal", submission.ID)
	}
	results, err := json.Marshal(submission.Results)
	if err != nil {
		return fmt.Errorf("marshal results failed: %w", err)
	}
	query := `
		UPDATE submissions
		SET status = ?, passed_tests = ?, total_tests = ?, score = ?, total_time_ms = ?, max_memory_kb = ?,
			results = ?, error = ?, completed_at = ?
		WHERE submission_id = ? AND status NOT IN (` + terminalStatuses + `)
	`
	res, err := s.db.Exec(ctx, query,
		string(submission.Status),
		submission.PassedTests,
		submission.TotalTests,
		submission.Score,
		submission.TotalTimeMs,
		submission.MaxMemoryKB,
		results,
		submission.Error,
		*submission.CompletedAt,
		submission.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAlreadyFinal
	}
	return nil
}

func (s *MySQLSubmissionStore) Get(ctx context.Context, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, errors.New("submissionID is required")
	}
	query := "SELECT " + submissionColumns + " FROM submissions WHERE submission_id = ? LIMIT 1"
	submission, err := scanSubmission(s.db.QueryRow(ctx, query, submissionID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return submission, nil
}

func (s *MySQLSubmissionStore) ListByUserProblem(ctx context.Context, userID, problemID int64, limit int) ([]model.Submission, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	query := `
		SELECT submission_id, user_id, problem_id, language, ordinal, status, passed_tests, total_tests, score, submitted_at, completed_at
		FROM submissions
		WHERE user_id = ? AND problem_id = ?
		ORDER BY ordinal DESC
		LIMIT ?
	`
	rows, err := s.db.Query(ctx, query, userID, problemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Submission
	for rows.Next() {
		var (
			sub         model.Submission
			status      string
			completedAt sql.NullTime
		)
		if err := rows.Scan(
			&sub.ID,
			&sub.UserID,
			&sub.ProblemID,
			&sub.Language,
			&sub.Ordinal,
			&status,
			&sub.PassedTests,
			&sub.TotalTests,
			&sub.Score,
			&sub.SubmittedAt,
			&completedAt,
		); err != nil {
			return nil, err
		}
		sub.Status = model.SubmissionStatus(status)
		sub.CompletedAt = nullTime(completedAt)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func scanSubmission(row db.Row) (*model.Submission, error) {
	var (
		sub         model.Submission
		status      string
		results     []byte
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.ProblemID,
		&sub.Language,
		&sub.Ordinal,
		&sub.SourceCode,
		&status,
		&sub.PassedTests,
		&sub.TotalTests,
		&sub.Score,
		&sub.TotalTimeMs,
		&sub.MaxMemoryKB,
		&results,
		&sub.Error,
		&sub.SubmittedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	sub.Status = model.SubmissionStatus(status)
	sub.CompletedAt = nullTime(completedAt)
	if len(results) > 0 {
		if err := json.Unmarshal(results, &sub.Results); err != nil {
			return nil, fmt.Errorf("decode results failed: %w", err)
		}
	}
	if sub.Results == nil {
		sub.Results = []model.TestResult{}
	}
	return &sub, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
