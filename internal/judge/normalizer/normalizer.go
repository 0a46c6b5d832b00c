// Package normalizer turns raw judge reports into classified test results.
package normalizer

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"codejudge/internal/judge/model"
)

const maxErrorLen = 4096

// NormalizeOutput canonicalizes program output for comparison: outer
// whitespace is trimmed, CRLF and CR become LF, and blank lines are removed.
func NormalizeOutput(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// OutputsEqual compares two outputs after normalization.
func OutputsEqual(actual, expected string) bool {
	return NormalizeOutput(actual) == NormalizeOutput(expected)
}

// Outcome is the result of Classify.
type Outcome struct {
	Status model.TestStatus
	Stdout string
	Stderr string
}

// Classify maps a verdict and its output streams onto a test status.
// Undecodable streams read as empty.
func Classify(verdict model.Verdict, stdoutB64, stderrB64, expected string) Outcome {
	out := Outcome{
		Stdout: DecodeBase64(stdoutB64),
		Stderr: DecodeBase64(stderrB64),
	}
	switch verdict {
	case model.VerdictAccepted:
		if OutputsEqual(out.Stdout, expected) {
			out.Status = model.TestPassed
		} else {
			out.Status = model.TestFailed
		}
	case model.VerdictWrongAnswer:
		out.Status = model.TestFailed
	case model.VerdictTimeLimit, model.VerdictPollTimeout:
		out.Status = model.TestTimeout
	default:
		out.Status = model.TestError
	}
	return out
}

// Evaluate builds the TestResult for tc from raw.
func Evaluate(raw model.RawResult, tc model.TestCase) model.TestResult {
	outcome := Classify(raw.Verdict, raw.StdoutB64, raw.StderrB64, tc.ExpectedOutput)
	return model.TestResult{
		TestCaseID:     tc.ID,
		Index:          tc.Index,
		Hidden:         tc.Hidden,
		Status:         outcome.Status,
		Verdict:        raw.Verdict,
		Input:          tc.Input,
		ExpectedOutput: tc.ExpectedOutput,
		ActualOutput:   outcome.Stdout,
		TimeMs:         raw.TimeMs,
		MemoryKB:       raw.MemoryKB,
		Error:          errorMessage(raw, outcome),
	}
}

func errorMessage(raw model.RawResult, outcome Outcome) string {
	var msg string
	switch raw.Verdict {
	case model.VerdictAccepted, model.VerdictWrongAnswer:
		return ""
	case model.VerdictCompileError:
		msg = DecodeBase64(raw.CompileOutputB64)
	case model.VerdictRuntimeError:
		msg = joinNonEmpty(raw.Description, outcome.Stderr)
	case model.VerdictTimeLimit:
		msg = raw.Description
	case model.VerdictPollTimeout, model.VerdictTransportError:
		msg = raw.LocalError
	default:
		msg = joinNonEmpty(raw.Description, DecodeBase64(raw.MessageB64), raw.LocalError)
	}
	return truncate(msg, maxErrorLen)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// DecodeBase64 decodes judge output. Line breaks inserted by the encoder are
// ignored and any decode failure yields "".
func DecodeBase64(s string) string {
	if s == "" {
		return ""
	}
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return ""
	}
	return string(data)
}

func joinNonEmpty(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ": ")
}
