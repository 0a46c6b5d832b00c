package catalog

import (
	"context"
	"strings"
	"time"

	"codejudge/internal/common/db"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

// MySQLCatalog implements Catalog on the problems, problem_test_cases and
// problem_languages tables.
type MySQLCatalog struct {
	db db.Database
}

// NewMySQLCatalog creates a MySQL-backed catalog.
func NewMySQLCatalog(database db.Database) *MySQLCatalog {
	return &MySQLCatalog{db: database}
}

func (c *MySQLCatalog) GetProblem(ctx context.Context, problemID int64) (model.Problem, error) {
	if problemID <= 0 {
		return model.Problem{}, appErr.ValidationError("problem_id", "required")
	}
	query := "SELECT id, title, state, cpu_time_ms, memory_bytes FROM problems WHERE id = ? LIMIT 1"
	var (
		problem   model.Problem
		state     string
		cpuTimeMs int64
	)
	err := c.db.QueryRow(ctx, query, problemID).Scan(
		&problem.ID,
		&problem.Title,
		&state,
		&cpuTimeMs,
		&problem.Limits.MemoryBytes,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return model.Problem{}, appErr.New(appErr.ProblemNotFound).WithDetail("problem_id", problemID)
		}
		return model.Problem{}, appErr.Wrapf(err, appErr.DatabaseError, "get problem failed")
	}
	problem.State = model.ProblemState(state)
	problem.Limits.CPUTime = time.Duration(cpuTimeMs) * time.Millisecond
	return problem, nil
}

func (c *MySQLCatalog) GetTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error) {
	if _, err := c.GetProblem(ctx, problemID); err != nil {
		return nil, err
	}
	query := `
		SELECT id, idx, input, expected_output, hidden, points
		FROM problem_test_cases
		WHERE problem_id = ?
		ORDER BY idx ASC, id ASC
	`
	rows, err := c.db.Query(ctx, query, problemID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list test cases failed")
	}
	defer rows.Close()

	var cases []model.TestCase
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.ID, &tc.Index, &tc.Input, &tc.ExpectedOutput, &tc.Hidden, &tc.Points); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan test case failed")
		}
		cases = append(cases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate test cases failed")
	}
	// idx is only a sort key in storage; results are joined on slice position.
	for i := range cases {
		cases[i].Index = i
	}
	return cases, nil
}

func (c *MySQLCatalog) GetRuntimeID(ctx context.Context, problemID int64, language string) (int, error) {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		return 0, appErr.ValidationError("language", "required")
	}
	if _, err := c.GetProblem(ctx, problemID); err != nil {
		return 0, err
	}
	query := "SELECT runtime_id FROM problem_languages WHERE problem_id = ? AND language = ? LIMIT 1"
	var runtimeID int
	if err := c.db.QueryRow(ctx, query, problemID, language).Scan(&runtimeID); err != nil {
		if db.IsNoRows(err) {
			return 0, appErr.Newf(appErr.LanguageNotSupported, "language %s is not supported for this problem", language)
		}
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "get runtime failed")
	}
	return runtimeID, nil
}

func (c *MySQLCatalog) GetLimits(ctx context.Context, problemID int64) (model.Limits, error) {
	problem, err := c.GetProblem(ctx, problemID)
	if err != nil {
		return model.Limits{}, err
	}
	return problem.Limits, nil
}
