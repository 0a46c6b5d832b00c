package model

// RawResult is one remote job's terminal report. Stream fields hold the
// base64 text exactly as the judge returned it.
type RawResult struct {
	Token       string
	Verdict     Verdict
	StatusID    int
	Description string

	StdoutB64        string
	StderrB64        string
	CompileOutputB64 string
	MessageB64       string

	TimeMs   int64
	MemoryKB int64

	// LocalError describes a synthetic result created without a judge report.
	LocalError string
}
