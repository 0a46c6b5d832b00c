package judgeclient

import "codejudge/internal/judge/model"

// Judge0 status ids.
const (
	statusInQueue         = 1
	statusProcessing      = 2
	statusAccepted        = 3
	statusWrongAnswer     = 4
	statusTimeLimit       = 5
	statusCompileError    = 6
	statusRuntimeSIGSEGV  = 7
	statusRuntimeSIGXFSZ  = 8
	statusRuntimeSIGFPE   = 9
	statusRuntimeSIGABRT  = 10
	statusRuntimeNZEC     = 11
	statusRuntimeOther    = 12
	statusInternalError   = 13
	statusExecFormatError = 14
)

// MapStatus converts a Judge0 status id into a Verdict. This is the only
// place numeric status ids are interpreted.
func MapStatus(id int) model.Verdict {
	switch id {
	case statusInQueue:
		return model.VerdictInQueue
	case statusProcessing:
		return model.VerdictProcessing
	case statusAccepted:
		return model.VerdictAccepted
	case statusWrongAnswer:
		return model.VerdictWrongAnswer
	case statusTimeLimit:
		return model.VerdictTimeLimit
	case statusCompileError:
		return model.VerdictCompileError
	case statusRuntimeSIGSEGV, statusRuntimeSIGXFSZ, statusRuntimeSIGFPE,
		statusRuntimeSIGABRT, statusRuntimeNZEC, statusRuntimeOther:
		return model.VerdictRuntimeError
	case statusInternalError, statusExecFormatError:
		return model.VerdictInternal
	default:
		return model.VerdictUnknown
	}
}
