package repository

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"codejudge/internal/common/db"
	"codejudge/internal/judge/model"

	"github.com/go-sql-driver/mysql"
)

type storedRow struct {
	id, language, source, status, errMsg string
	userID, problemID, totalTime, maxMem int64
	ordinal, passed, total, score        int
	results                              []byte
	submittedAt                          time.Time
	completedAt                          sql.NullTime
}

// memoryDB emulates the handful of statements MySQLSubmissionStore issues.
type memoryDB struct {
	mu          sync.Mutex
	rows        map[string]*storedRow
	dupInserts  int
	insertCalls int
}

func newMemoryDB() *memoryDB {
	return &memoryDB{rows: map[string]*storedRow{}}
}

type fakeResult int64

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }

type fakeRow struct {
	values []interface{}
	err    error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("column count mismatch")
	}
	for i := range dest {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

type fakeRows struct {
	rows []fakeRow
	pos  int
}

func (r *fakeRows) Next() bool                     { r.pos++; return r.pos <= len(r.rows) }
func (r *fakeRows) Scan(dest ...interface{}) error { return r.rows[r.pos-1].Scan(dest...) }
func (r *fakeRows) Close() error                   { return nil }
func (r *fakeRows) Err() error                     { return nil }

func (m *memoryDB) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, problemID, limit := args[0].(int64), args[1].(int64), args[2].(int)
	var matched []*storedRow
	for _, row := range m.rows {
		if row.userID == userID && row.problemID == problemID {
			matched = append(matched, row)
		}
	}
	for i := 0; i < len(matched); i++ {
		for j := i + 1; j < len(matched); j++ {
			if matched[j].ordinal > matched[i].ordinal {
				matched[i], matched[j] = matched[j], matched[i]
			}
		}
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := &fakeRows{}
	for _, row := range matched {
		out.rows = append(out.rows, fakeRow{values: []interface{}{
			row.id, row.userID, row.problemID, row.language, row.ordinal, row.status,
			row.passed, row.total, row.score, row.submittedAt, row.completedAt,
		}})
	}
	return out, nil
}

func (m *memoryDB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.Contains(query, "MAX(ordinal)") {
		max := 0
		for _, row := range m.rows {
			if row.userID == args[0].(int64) && row.problemID == args[1].(int64) && row.ordinal > max {
				max = row.ordinal
			}
		}
		return fakeRow{values: []interface{}{max + 1}}
	}
	row, ok := m.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: sql.ErrNoRows}
	}
	return fakeRow{values: []interface{}{
		row.id, row.userID, row.problemID, row.language, row.ordinal, row.source, row.status,
		row.passed, row.total, row.score, row.totalTime, row.maxMem, row.results, row.errMsg,
		row.submittedAt, row.completedAt,
	}}
}

func (m *memoryDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case strings.Contains(query, "INSERT INTO submissions"):
		m.insertCalls++
		if m.dupInserts > 0 {
			m.dupInserts--
			return nil, &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1-1-1' for key 'submissions.uk_user_problem_ordinal'"}
		}
		id := args[0].(string)
		if _, ok := m.rows[id]; ok {
			return nil, &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key 'submissions.PRIMARY'"}
		}
		m.rows[id] = &storedRow{
			id:          id,
			userID:      args[1].(int64),
			problemID:   args[2].(int64),
			language:    args[3].(string),
			ordinal:     args[4].(int),
			source:      args[5].(string),
			status:      args[6].(string),
			total:       args[7].(int),
			results:     []byte("[]"),
			submittedAt: args[8].(time.Time),
		}
		return fakeResult(1), nil
	case strings.Contains(query, "passed_tests = ?"):
		row, ok := m.rows[args[9].(string)]
		if !ok || model.SubmissionStatus(row.status).IsTerminal() {
			return fakeResult(0), nil
		}
		row.status = args[0].(string)
		row.passed = args[1].(int)
		row.total = args[2].(int)
		row.score = args[3].(int)
		row.totalTime = args[4].(int64)
		row.maxMem = args[5].(int64)
		row.results = args[6].([]byte)
		row.errMsg = args[7].(string)
		row.completedAt = sql.NullTime{Time: args[8].(time.Time), Valid: true}
		return fakeResult(1), nil
	case strings.Contains(query, "SET status = ?"):
		row, ok := m.rows[args[1].(string)]
		if !ok || row.status != args[2].(string) {
			return fakeResult(0), nil
		}
		row.status = args[0].(string)
		return fakeResult(1), nil
	}
	return nil, errors.New("unexpected statement")
}

func (m *memoryDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	return fn(memoryTx{m})
}

func (m *memoryDB) Ping(ctx context.Context) error { return nil }
func (m *memoryDB) Close() error                   { return nil }

type memoryTx struct{ *memoryDB }

func (memoryTx) Commit() error   { return nil }
func (memoryTx) Rollback() error { return nil }

func newPending(id string) *model.Submission {
	return &model.Submission{
		ID:          id,
		UserID:      1,
		ProblemID:   1,
		Language:    "python",
		SourceCode:  "print(1)",
		Status:      model.StatusPending,
		TotalTests:  2,
		SubmittedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestMySQLSubmissionStoreLifecycle(t *testing.T) {
	database := newMemoryDB()
	store := NewMySQLSubmissionStore(database)
	ctx := context.Background()

	first := newPending("sub-1")
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	second := newPending("sub-2")
	if err := store.Create(ctx, second); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if first.Ordinal != 1 || second.Ordinal != 2 {
		t.Fatalf("unexpected ordinals: %d %d", first.Ordinal, second.Ordinal)
	}

	if err := store.MarkRunning(ctx, "sub-1"); err != nil {
		t.Fatalf("mark running failed: %v", err)
	}
	if err := store.MarkRunning(ctx, "sub-1"); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected status conflict, got %v", err)
	}

	completed := time.Now().UTC().Truncate(time.Second)
	final := *first
	final.Status = model.StatusWrongAnswer
	final.PassedTests = 1
	final.Score = 50
	final.TotalTimeMs = 30
	final.MaxMemoryKB = 2048
	final.CompletedAt = &completed
	final.Results = []model.TestResult{
		{Index: 0, Status: model.TestPassed, Verdict: model.VerdictAccepted},
		{Index: 1, Status: model.TestFailed, Verdict: model.VerdictWrongAnswer, Hidden: true},
	}
	if err := store.SaveFinal(ctx, &final); err != nil {
		t.Fatalf("save final failed: %v", err)
	}
	if err := store.SaveFinal(ctx, &final); !errors.Is(err, ErrAlreadyFinal) {
		t.Fatalf("expected already final, got %v", err)
	}

	got, err := store.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != model.StatusWrongAnswer || got.Score != 50 || got.CompletedAt == nil || len(got.Results) != 2 {
		t.Fatalf("unexpected submission: %+v", got)
	}
	if !got.Results[1].Hidden || got.SourceCode != "print(1)" {
		t.Fatalf("unexpected stored detail: %+v", got)
	}

	pending, err := store.Get(ctx, "sub-2")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if pending.CompletedAt != nil || pending.Results == nil {
		t.Fatalf("pending submission must have no completion time and an empty result list: %+v", pending)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	list, err := store.ListByUserProblem(ctx, 1, 1, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "sub-2" || list[1].ID != "sub-1" {
		t.Fatalf("unexpected listing: %+v", list)
	}
}

func TestMySQLSubmissionStoreRetriesOrdinalConflict(t *testing.T) {
	database := newMemoryDB()
	database.dupInserts = 1
	store := NewMySQLSubmissionStore(database)

	sub := newPending("sub-1")
	if err := store.Create(context.Background(), sub); err != nil {
		t.Fatalf("create should retry past ordinal conflict: %v", err)
	}
	if database.insertCalls != 2 {
		t.Fatalf("expected two insert attempts, got %d", database.insertCalls)
	}

	if err := store.Create(context.Background(), newPending("sub-1")); err == nil {
		t.Fatalf("duplicate submission id must fail")
	}
}

func TestMySQLSubmissionStoreSaveFinalRequiresTerminal(t *testing.T) {
	store := NewMySQLSubmissionStore(newMemoryDB())
	sub := newPending("sub-1")
	if err := store.SaveFinal(context.Background(), sub); err == nil {
		t.Fatalf("expected error for non-terminal submission")
	}
}
