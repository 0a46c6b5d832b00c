// Package judgeclient talks to a Judge0-compatible remote judge.
package judgeclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

const (
	defaultAuthHeader       = "X-Auth-Token"
	defaultPollInterval     = time.Second
	defaultMaxWallTime      = 30 * time.Second
	defaultRequestTimeout   = 10 * time.Second
	defaultMaxMemoryKB      = 512000
	defaultMaxCPUTime       = 15 * time.Second
	defaultMaxWallTimeLimit = 20 * time.Second
	defaultWallTimeFactor   = 2.0

	resultFields = "token,stdout,stderr,compile_output,message,status,time,memory"
	maxBodyBytes = 8 << 20
)

// Config holds every setting the client uses. Nothing is read from the environment.
type Config struct {
	BaseURL    string
	AuthHeader string
	AuthToken  string

	// PollInterval is the pause between status polls.
	PollInterval time.Duration
	// MaxWallTime bounds how long AwaitResult waits, measured from the first poll.
	MaxWallTime time.Duration
	// RequestTimeout bounds each HTTP round trip.
	RequestTimeout time.Duration

	MaxMemoryKB      int64
	MaxCPUTime       time.Duration
	MaxWallTimeLimit time.Duration
	WallTimeFactor   float64

	HTTPClient *http.Client
}

// Client submits jobs to the remote judge and polls them to completion.
type Client struct {
	baseURL          string
	authHeader       string
	authToken        string
	pollInterval     time.Duration
	maxWallTime      time.Duration
	maxMemoryKB      int64
	maxCPUTime       time.Duration
	maxWallTimeLimit time.Duration
	wallTimeFactor   float64
	http             *http.Client
}

// NewClient creates a client from cfg, filling unset values with defaults.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("judge base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid judge base url: %w", err)
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = defaultAuthHeader
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxWallTime <= 0 {
		cfg.MaxWallTime = defaultMaxWallTime
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.MaxMemoryKB <= 0 {
		cfg.MaxMemoryKB = defaultMaxMemoryKB
	}
	if cfg.MaxCPUTime <= 0 {
		cfg.MaxCPUTime = defaultMaxCPUTime
	}
	if cfg.MaxWallTimeLimit <= 0 {
		cfg.MaxWallTimeLimit = defaultMaxWallTimeLimit
	}
	if cfg.WallTimeFactor < 1 {
		cfg.WallTimeFactor = defaultWallTimeFactor
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Client{
		baseURL:          baseURL,
		authHeader:       cfg.AuthHeader,
		authToken:        cfg.AuthToken,
		pollInterval:     cfg.PollInterval,
		maxWallTime:      cfg.MaxWallTime,
		maxMemoryKB:      cfg.MaxMemoryKB,
		maxCPUTime:       cfg.MaxCPUTime,
		maxWallTimeLimit: cfg.MaxWallTimeLimit,
		wallTimeFactor:   cfg.WallTimeFactor,
		http:             httpClient,
	}, nil
}

// SubmitRequest describes one compile-and-run job.
type SubmitRequest struct {
	SourceCode     string
	RuntimeID      int
	Stdin          string
	ExpectedOutput string
	Limits         model.Limits
}

type submissionPayload struct {
	SourceCode     string   `json:"source_code"`
	LanguageID     int      `json:"language_id"`
	Stdin          string   `json:"stdin,omitempty"`
	ExpectedOutput string   `json:"expected_output,omitempty"`
	CPUTimeLimit   *float64 `json:"cpu_time_limit,omitempty"`
	WallTimeLimit  *float64 `json:"wall_time_limit,omitempty"`
	MemoryLimit    *int64   `json:"memory_limit,omitempty"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type statusPayload struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

type resultPayload struct {
	Token         string        `json:"token"`
	Status        statusPayload `json:"status"`
	Stdout        *string       `json:"stdout"`
	Stderr        *string       `json:"stderr"`
	CompileOutput *string       `json:"compile_output"`
	Message       *string       `json:"message"`
	Time          *string       `json:"time"`
	Memory        *int64        `json:"memory"`
}

// ValidateLimits reports limits the remote judge would refuse. Memory is
// clamped rather than rejected, so only CPU time and negative values fail here.
func (c *Client) ValidateLimits(limits model.Limits) error {
	if limits.CPUTime < 0 {
		return appErr.ConfigurationError("cpu_time_limit", limits.CPUTime.String(), "must not be negative")
	}
	if limits.CPUTime > c.maxCPUTime {
		return appErr.ConfigurationError("cpu_time_limit", limits.CPUTime.String(),
			fmt.Sprintf("exceeds judge maximum %s", c.maxCPUTime))
	}
	if limits.MemoryBytes < 0 {
		return appErr.ConfigurationError("memory_limit", limits.MemoryBytes, "must not be negative")
	}
	return nil
}

// MemoryLimitKB converts a byte limit to the judge's kilobyte unit and clamps
// it to the judge maximum. Zero means "judge default".
func (c *Client) MemoryLimitKB(memoryBytes int64) int64 {
	if memoryBytes <= 0 {
		return 0
	}
	kb := (memoryBytes + 1023) / 1024
	if kb > c.maxMemoryKB {
		kb = c.maxMemoryKB
	}
	return kb
}

// Submit creates a remote job and returns its token. A 422 response means the
// judge refused the limits or language and is reported as a configuration error.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := c.ValidateLimits(req.Limits); err != nil {
		return "", err
	}
	payload := submissionPayload{
		SourceCode:     encode(req.SourceCode),
		LanguageID:     req.RuntimeID,
		Stdin:          encode(req.Stdin),
		ExpectedOutput: encode(req.ExpectedOutput),
	}
	if req.Limits.CPUTime > 0 {
		cpu := req.Limits.CPUTime.Seconds()
		wall := math.Min(cpu*c.wallTimeFactor, c.maxWallTimeLimit.Seconds())
		if wall < cpu {
			wall = cpu
		}
		payload.CPUTimeLimit = &cpu
		payload.WallTimeLimit = &wall
	}
	if kb := c.MemoryLimitKB(req.Limits.MemoryBytes); kb > 0 {
		payload.MemoryLimit = &kb
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", &TransportError{Op: "submit", Err: err}
	}
	status, respBody, err := c.do(ctx, http.MethodPost, "/submissions?base64_encoded=true&wait=false", body)
	if err != nil {
		return "", &TransportError{Op: "submit", Err: err}
	}
	if status == http.StatusUnprocessableEntity {
		return "", appErr.ConfigurationError("submission", req.RuntimeID, strings.TrimSpace(string(respBody)))
	}
	if status < 200 || status >= 300 {
		return "", &TransportError{Op: "submit", StatusCode: status, Err: fmt.Errorf("%s", truncate(respBody))}
	}
	var resp tokenResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", &TransportError{Op: "submit", StatusCode: status, Err: fmt.Errorf("decode token: %w", err)}
	}
	if resp.Token == "" {
		return "", &TransportError{Op: "submit", StatusCode: status, Err: fmt.Errorf("empty token")}
	}
	return resp.Token, nil
}

// AwaitResult polls token until the judge reports a terminal status or the
// wall-clock budget runs out. Transport failures are not retried.
func (c *Client) AwaitResult(ctx context.Context, token string) (model.RawResult, error) {
	start := time.Now()
	for {
		raw, err := c.fetch(ctx, token)
		if err != nil {
			return model.RawResult{}, err
		}
		if !raw.Verdict.InFlight() {
			return raw, nil
		}
		waited := time.Since(start)
		if waited >= c.maxWallTime {
			return model.RawResult{}, &TimeoutError{Token: token, Waited: waited}
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return model.RawResult{}, &TransportError{Op: "poll", Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

// Run submits req and waits for its result. Transport and poll timeout failures
// come back as synthetic results so one job never aborts its siblings; only
// configuration errors are returned as errors.
func (c *Client) Run(ctx context.Context, req SubmitRequest) (model.RawResult, error) {
	token, err := c.Submit(ctx, req)
	if err != nil {
		if appErr.Is(err, appErr.JudgeConfigError) {
			return model.RawResult{}, err
		}
		return FailureResult(token, err), nil
	}
	raw, err := c.AwaitResult(ctx, token)
	if err != nil {
		return FailureResult(token, err), nil
	}
	return raw, nil
}

// FailureResult converts a client error into a synthetic raw result.
func FailureResult(token string, err error) model.RawResult {
	var timeoutErr *TimeoutError
	if stderrors.As(err, &timeoutErr) {
		return model.RawResult{
			Token:      token,
			Verdict:    model.VerdictPollTimeout,
			LocalError: err.Error(),
		}
	}
	return model.RawResult{
		Token:      token,
		Verdict:    model.VerdictTransportError,
		LocalError: err.Error(),
	}
}

// Ping checks that the judge answers.
func (c *Client) Ping(ctx context.Context) error {
	status, body, err := c.do(ctx, http.MethodGet, "/about", nil)
	if err != nil {
		return &TransportError{Op: "ping", Err: err}
	}
	if status != http.StatusOK {
		return &TransportError{Op: "ping", StatusCode: status, Err: fmt.Errorf("%s", truncate(body))}
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, token string) (model.RawResult, error) {
	path := "/submissions/" + url.PathEscape(token) + "?base64_encoded=true&fields=" + resultFields
	status, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return model.RawResult{}, &TransportError{Op: "poll", Err: err}
	}
	if status != http.StatusOK {
		return model.RawResult{}, &TransportError{Op: "poll", StatusCode: status, Err: fmt.Errorf("%s", truncate(body))}
	}
	var payload resultPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.RawResult{}, &TransportError{Op: "poll", StatusCode: status, Err: fmt.Errorf("decode result: %w", err)}
	}
	if payload.Status.ID == 0 {
		return model.RawResult{}, &TransportError{Op: "poll", StatusCode: status, Err: fmt.Errorf("result without status")}
	}

	raw := model.RawResult{
		Token:            token,
		Verdict:          MapStatus(payload.Status.ID),
		StatusID:         payload.Status.ID,
		Description:      payload.Status.Description,
		StdoutB64:        deref(payload.Stdout),
		StderrB64:        deref(payload.Stderr),
		CompileOutputB64: deref(payload.CompileOutput),
		MessageB64:       deref(payload.Message),
	}
	if payload.Time != nil {
		if seconds, err := strconv.ParseFloat(*payload.Time, 64); err == nil {
			raw.TimeMs = int64(math.Round(seconds * 1000))
		}
	}
	if payload.Memory != nil {
		raw.MemoryKB = *payload.Memory
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set(c.authHeader, c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response body failed: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func encode(s string) string {
	if s == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
