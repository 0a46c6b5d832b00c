package judgeclient

import (
	"fmt"
	"time"
)

// TimeoutError means the client stopped waiting for a job. It is distinct from
// a time limit verdict reported by the judge.
type TimeoutError struct {
	Token  string
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("judge job %s still running after %s", e.Token, e.Waited)
}

// TransportError covers network failures, unexpected HTTP statuses and
// malformed payloads.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("judge %s failed with http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("judge %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
