package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codejudge/internal/judge/judgeclient"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/repository"
	appErr "codejudge/pkg/errors"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

type fakeStore struct {
	mu          sync.Mutex
	records     map[string]*model.Submission
	finalWrites int
	markPanic   bool

	// saveFailures makes the next SaveFinal calls fail with saveErr. When
	// commitOnFailure is set the failing call still stores the record.
	saveFailures    int
	saveErr         error
	commitOnFailure bool
	saveCalls       int

	// afterGet runs after Get has read a record, outside the store lock.
	afterGet func(id string)
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*model.Submission)}
}

func cloneSubmission(s *model.Submission) *model.Submission {
	out := *s
	out.Results = append([]model.TestResult(nil), s.Results...)
	return &out
}

func (f *fakeStore) Create(ctx context.Context, submission *model.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ordinal := 1
	for _, r := range f.records {
		if r.UserID == submission.UserID && r.ProblemID == submission.ProblemID {
			ordinal++
		}
	}
	submission.Ordinal = ordinal
	f.records[submission.ID] = cloneSubmission(submission)
	return nil
}

func (f *fakeStore) MarkRunning(ctx context.Context, submissionID string) error {
	if f.markPanic {
		panic("store exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[submissionID]
	if !ok {
		return repository.ErrSubmissionNotFound
	}
	if rec.Status != model.StatusPending {
		return repository.ErrStatusConflict
	}
	rec.Status = model.StatusRunning
	return nil
}

func (f *fakeStore) SaveFinal(ctx context.Context, submission *model.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[submission.ID]
	if !ok {
		return repository.ErrSubmissionNotFound
	}
	f.saveCalls++
	if rec.Status.IsTerminal() {
		return repository.ErrAlreadyFinal
	}
	if f.saveFailures > 0 {
		f.saveFailures--
		if f.commitOnFailure {
			f.finalWrites++
			f.records[submission.ID] = cloneSubmission(submission)
		}
		return f.saveErr
	}
	f.finalWrites++
	f.records[submission.ID] = cloneSubmission(submission)
	return nil
}

func (f *fakeStore) Get(ctx context.Context, submissionID string) (*model.Submission, error) {
	f.mu.Lock()
	rec, ok := f.records[submissionID]
	var out *model.Submission
	if ok {
		out = cloneSubmission(rec)
	}
	hook := f.afterGet
	f.mu.Unlock()
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	if hook != nil {
		hook(submissionID)
	}
	return out, nil
}

func (f *fakeStore) ListByUserProblem(ctx context.Context, userID, problemID int64, limit int) ([]model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Submission
	for _, r := range f.records {
		if r.UserID == userID && r.ProblemID == problemID {
			out = append(out, *r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalWrites
}

func (f *fakeStore) saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveCalls
}

type fakeCatalog struct {
	problem  model.Problem
	tests    []model.TestCase
	runtimes map[string]int
}

func (f *fakeCatalog) GetProblem(ctx context.Context, problemID int64) (model.Problem, error) {
	if problemID != f.problem.ID {
		return model.Problem{}, appErr.New(appErr.ProblemNotFound)
	}
	return f.problem, nil
}

func (f *fakeCatalog) GetTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error) {
	if problemID != f.problem.ID {
		return nil, appErr.New(appErr.ProblemNotFound)
	}
	return append([]model.TestCase(nil), f.tests...), nil
}

func (f *fakeCatalog) GetRuntimeID(ctx context.Context, problemID int64, language string) (int, error) {
	id, ok := f.runtimes[language]
	if !ok {
		return 0, appErr.New(appErr.LanguageNotSupported)
	}
	return id, nil
}

func (f *fakeCatalog) GetLimits(ctx context.Context, problemID int64) (model.Limits, error) {
	return f.problem.Limits, nil
}

type fakeJudge struct {
	maxCPU time.Duration
	calls  atomic.Int32
	run    func(ctx context.Context, req judgeclient.SubmitRequest) (model.RawResult, error)
}

func (f *fakeJudge) ValidateLimits(limits model.Limits) error {
	if f.maxCPU > 0 && limits.CPUTime > f.maxCPU {
		return appErr.ConfigurationError("cpu_time_limit", limits.CPUTime.String(), "exceeds judge maximum")
	}
	return nil
}

func (f *fakeJudge) MemoryLimitKB(memoryBytes int64) int64 {
	return (memoryBytes + 1023) / 1024
}

func (f *fakeJudge) Run(ctx context.Context, req judgeclient.SubmitRequest) (model.RawResult, error) {
	f.calls.Add(1)
	return f.run(ctx, req)
}

// echoJudge answers every job with the expected output.
func echoJudge() *fakeJudge {
	return &fakeJudge{run: func(ctx context.Context, req judgeclient.SubmitRequest) (model.RawResult, error) {
		return model.RawResult{Verdict: model.VerdictAccepted, StdoutB64: b64(req.ExpectedOutput), TimeMs: 10, MemoryKB: 1000}, nil
	}}
}

// scriptedJudge answers each job from results keyed by the test input.
func scriptedJudge(results map[string]model.RawResult) *fakeJudge {
	return &fakeJudge{run: func(ctx context.Context, req judgeclient.SubmitRequest) (model.RawResult, error) {
		raw, ok := results[req.Stdin]
		if !ok {
			return model.RawResult{Verdict: model.VerdictAccepted, StdoutB64: b64(req.ExpectedOutput)}, nil
		}
		return raw, nil
	}}
}

type fakeStatusCache struct {
	mu        sync.Mutex
	views     map[string]model.StatusView
	lockHeld  bool
	lockErr   error
	unlocked  int
	refreshed int
}

func newFakeStatusCache() *fakeStatusCache {
	return &fakeStatusCache{views: make(map[string]model.StatusView)}
}

func (f *fakeStatusCache) Get(ctx context.Context, submissionID string) (model.StatusView, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.views[submissionID]
	return v, ok, nil
}

func (f *fakeStatusCache) Save(ctx context.Context, view model.StatusView) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views[view.SubmissionID] = view
	return nil
}

func (f *fakeStatusCache) Lock(ctx context.Context, submissionID, owner string, ttl time.Duration) (bool, error) {
	if f.lockErr != nil {
		return false, f.lockErr
	}
	return !f.lockHeld, nil
}

func (f *fakeStatusCache) Refresh(ctx context.Context, submissionID, owner string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed++
	return true, nil
}

func (f *fakeStatusCache) refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshed
}

func (f *fakeStatusCache) view(submissionID string) (model.StatusView, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.views[submissionID]
	return v, ok
}

func (f *fakeStatusCache) Unlock(ctx context.Context, submissionID, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocked++
	return nil
}

func makeTests(n, hidden int) []model.TestCase {
	tests := make([]model.TestCase, n)
	for i := range tests {
		tests[i] = model.TestCase{
			ID:             int64(100 + i),
			Index:          i,
			Input:          fmt.Sprintf("%d", i),
			ExpectedOutput: fmt.Sprintf("out%d", i),
			Hidden:         i >= n-hidden,
		}
	}
	return tests
}

func newCatalog(tests []model.TestCase) *fakeCatalog {
	return &fakeCatalog{
		problem: model.Problem{
			ID:     1,
			Title:  "echo",
			State:  model.ProblemPublished,
			Limits: model.Limits{CPUTime: 2 * time.Second, MemoryBytes: 64 << 20},
		},
		tests:    tests,
		runtimes: map[string]int{"python": 71, "cpp": 54},
	}
}

type testEnv struct {
	svc     *Service
	store   *fakeStore
	catalog *fakeCatalog
	judge   *fakeJudge
}

func newTestEnv(t *testing.T, tests []model.TestCase, judge *fakeJudge, mutate ...func(*Config)) *testEnv {
	t.Helper()
	env := &testEnv{store: newFakeStore(), catalog: newCatalog(tests), judge: judge}
	cfg := Config{
		Store:   env.store,
		Catalog: env.catalog,
		Judge:   judge,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}
	env.svc = svc
	return env
}

func (e *testEnv) submit(t *testing.T) *model.Submission {
	t.Helper()
	sub, err := e.svc.Submit(context.Background(), SubmitInput{
		UserID:     7,
		ProblemID:  1,
		Language:   "python",
		SourceCode: "print(input())",
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	return sub
}

func (e *testEnv) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.svc.Wait(ctx); err != nil {
		t.Fatalf("background processing did not finish: %v", err)
	}
}

func (e *testEnv) submitAndWait(t *testing.T) *model.Submission {
	t.Helper()
	sub := e.submit(t)
	e.wait(t)
	final, err := e.store.Get(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("get submission failed: %v", err)
	}
	return final
}
