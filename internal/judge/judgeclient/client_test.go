package judgeclient

import (
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{
		BaseURL:      server.URL,
		AuthToken:    "secret",
		PollInterval: 5 * time.Millisecond,
		MaxWallTime:  200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	return client
}

func TestMapStatus(t *testing.T) {
	cases := map[int]model.Verdict{
		1:  model.VerdictInQueue,
		2:  model.VerdictProcessing,
		3:  model.VerdictAccepted,
		4:  model.VerdictWrongAnswer,
		5:  model.VerdictTimeLimit,
		6:  model.VerdictCompileError,
		7:  model.VerdictRuntimeError,
		11: model.VerdictRuntimeError,
		12: model.VerdictRuntimeError,
		13: model.VerdictInternal,
		14: model.VerdictInternal,
		99: model.VerdictUnknown,
	}
	for id, want := range cases {
		if got := MapStatus(id); got != want {
			t.Fatalf("MapStatus(%d) = %s, want %s", id, got, want)
		}
	}
}

func TestMemoryLimitKB(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://judge.local"})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	cases := []struct {
		bytes int64
		want  int64
	}{
		{bytes: 0, want: 0},
		{bytes: 1, want: 1},
		{bytes: 256 << 20, want: 262144},
		{bytes: 1 << 30, want: 512000},
	}
	for _, tc := range cases {
		if got := client.MemoryLimitKB(tc.bytes); got != tc.want {
			t.Fatalf("MemoryLimitKB(%d) = %d, want %d", tc.bytes, got, tc.want)
		}
	}
}

func TestSubmitEncodesPayloadAndClampsMemory(t *testing.T) {
	var got submissionPayload
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/submissions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("base64_encoded") != "true" {
			t.Errorf("expected base64_encoded=true")
		}
		if r.Header.Get("X-Auth-Token") != "secret" {
			t.Errorf("missing auth header")
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode payload failed: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"token":"tok-1"}`))
	}))

	token, err := client.Submit(t.Context(), SubmitRequest{
		SourceCode:     "print('hi')",
		RuntimeID:      71,
		Stdin:          "1 2\n",
		ExpectedOutput: "3",
		Limits:         model.Limits{CPUTime: 2 * time.Second, MemoryBytes: 2 << 30},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if token != "tok-1" {
		t.Fatalf("unexpected token: %s", token)
	}
	if got.SourceCode != b64("print('hi')") || got.Stdin != b64("1 2\n") || got.ExpectedOutput != b64("3") {
		t.Fatalf("payload not base64 encoded: %+v", got)
	}
	if got.LanguageID != 71 {
		t.Fatalf("unexpected language id: %d", got.LanguageID)
	}
	if got.MemoryLimit == nil || *got.MemoryLimit != 512000 {
		t.Fatalf("memory limit not clamped: %v", got.MemoryLimit)
	}
	if got.CPUTimeLimit == nil || *got.CPUTimeLimit != 2 {
		t.Fatalf("unexpected cpu limit: %v", got.CPUTimeLimit)
	}
	if got.WallTimeLimit == nil || *got.WallTimeLimit != 4 {
		t.Fatalf("unexpected wall limit: %v", got.WallTimeLimit)
	}
}

func TestSubmitConfigurationErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"language_id":["language with id 999 doesn't exist"]}`))
	}))

	_, err := client.Submit(t.Context(), SubmitRequest{RuntimeID: 1, Limits: model.Limits{CPUTime: time.Minute}})
	if !appErr.Is(err, appErr.JudgeConfigError) {
		t.Fatalf("expected config error for cpu limit, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("invalid limits must not reach the judge")
	}

	_, err = client.Submit(t.Context(), SubmitRequest{RuntimeID: 999})
	if !appErr.Is(err, appErr.JudgeConfigError) {
		t.Fatalf("expected config error for 422, got %v", err)
	}

	_, err = client.Run(t.Context(), SubmitRequest{RuntimeID: 999})
	if !appErr.Is(err, appErr.JudgeConfigError) {
		t.Fatalf("Run must surface config errors, got %v", err)
	}
}

func TestAwaitResultPollsUntilTerminal(t *testing.T) {
	var polls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/submissions/tok-1") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		n := atomic.AddInt32(&polls, 1)
		if n < 3 {
			_, _ = w.Write([]byte(`{"token":"tok-1","status":{"id":2,"description":"Processing"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"token":  "tok-1",
			"status": map[string]interface{}{"id": 3, "description": "Accepted"},
			"stdout": b64("Hello\n"),
			"time":   "0.012",
			"memory": 3456,
		})
	}))

	raw, err := client.AwaitResult(t.Context(), "tok-1")
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if atomic.LoadInt32(&polls) != 3 {
		t.Fatalf("unexpected poll count: %d", polls)
	}
	if raw.Verdict != model.VerdictAccepted || raw.StatusID != 3 {
		t.Fatalf("unexpected verdict: %+v", raw)
	}
	if raw.StdoutB64 != b64("Hello\n") || raw.TimeMs != 12 || raw.MemoryKB != 3456 {
		t.Fatalf("unexpected raw result: %+v", raw)
	}
}

func TestAwaitResultTimeout(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"tok-1","status":{"id":1,"description":"In Queue"}}`))
	}))

	_, err := client.AwaitResult(t.Context(), "tok-1")
	var timeoutErr *TimeoutError
	if !stderrors.As(err, &timeoutErr) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if timeoutErr.Waited < 200*time.Millisecond {
		t.Fatalf("gave up too early: %s", timeoutErr.Waited)
	}
	raw := FailureResult("tok-1", err)
	if raw.Verdict != model.VerdictPollTimeout {
		t.Fatalf("unexpected synthetic verdict: %s", raw.Verdict)
	}
}

func TestAwaitResultTransportErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "server error", handler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{name: "malformed payload", handler: func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{not json`))
		}},
		{name: "missing status", handler: func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"token":"tok-1"}`))
		}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, tc.handler)
			_, err := client.AwaitResult(t.Context(), "tok-1")
			var transportErr *TransportError
			if !stderrors.As(err, &transportErr) {
				t.Fatalf("expected transport error, got %v", err)
			}
			raw := FailureResult("tok-1", err)
			if raw.Verdict != model.VerdictTransportError || raw.LocalError == "" {
				t.Fatalf("unexpected synthetic result: %+v", raw)
			}
		})
	}
}

func TestRunConvertsTransportFailure(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	raw, err := client.Run(t.Context(), SubmitRequest{SourceCode: "x", RuntimeID: 1})
	if err != nil {
		t.Fatalf("transport failure should not be returned: %v", err)
	}
	if raw.Verdict != model.VerdictTransportError {
		t.Fatalf("unexpected verdict: %s", raw.Verdict)
	}
}
