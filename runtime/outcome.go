package runtime

import (
	"fmt"
	"strings"

	"github.com/pithecene-io/buildlink/ipc"
	"github.com/pithecene-io/buildlink/payload"
	"github.com/pithecene-io/buildlink/types"
)

// Exit codes of the build tool.
const (
	ExitCodeCompleted    = 0 // success result emitted
	ExitCodeFailed       = 1 // failure result emitted
	ExitCodeCrash        = 2 // tool crash (no result)
	ExitCodeInvalidInput = 3 // invalid arguments or input
)

// Outcome is the classified end of one tool run.
type Outcome struct {
	// Result is the execution result handed back to the caller.
	Result *types.ExecutionResult
	// Err is set when the tool could not run the request at all.
	Err error
	// Crashed is true when Result is a synthesized crash failure.
	Crashed bool
}

// DetermineOutcome classifies a finished tool run.
//
// Exit codes are authoritative for the category; the result frame supplies
// the payload:
//   - 0: success (requires a success result frame)
//   - 1: build failure (requires a failure result frame)
//   - 2: crash
//   - 3: invalid input, reported as an error rather than a build failure
//
// When cancelled is true and the tool did not report a failure of its own,
// the outcome is a cancellation failure.
func DetermineOutcome(s *payload.Serializer, exitCode int, frame *ipc.ResultFrame, cancelled bool, stderr []byte) *Outcome {
	result, frameErr := frameResult(s, frame)
	if frameErr != nil {
		return crash(s, frameErr.Error(), stderr)
	}

	if cancelled && (result == nil || !result.IsFailure()) {
		return failure(s, types.Cancelled("build cancelled"))
	}

	switch exitCode {
	case ExitCodeCompleted:
		if result != nil && !result.IsFailure() {
			return &Outcome{Result: result}
		}
		return crash(s, "build tool exited cleanly without a success result", stderr)

	case ExitCodeFailed:
		if result != nil && result.IsFailure() {
			return &Outcome{Result: result}
		}
		return crash(s, "build tool exited with failure without a failure result", stderr)

	case ExitCodeCrash:
		return crash(s, "build tool crashed", stderr)

	case ExitCodeInvalidInput:
		return &Outcome{Err: types.Configuration("build tool rejected invalid input", stderrError(stderr))}

	default:
		return crash(s, fmt.Sprintf("build tool exited with unexpected code %d", exitCode), stderr)
	}
}

// frameResult extracts the execution result carried by a result frame.
func frameResult(s *payload.Serializer, frame *ipc.ResultFrame) (*types.ExecutionResult, error) {
	if frame == nil {
		return nil, nil
	}
	if frame.Error != nil {
		b, err := s.Serialize(frame.Error)
		if err != nil {
			return nil, err
		}
		return types.FailureResult(b), nil
	}
	if err := frame.Result.Validate(); err != nil {
		return nil, err
	}
	return frame.Result, nil
}

// crash synthesizes an execution failure carrying the stderr tail.
func crash(s *payload.Serializer, msg string, stderr []byte) *Outcome {
	o := failure(s, types.Execution(msg, stderrError(stderr)))
	o.Crashed = true
	return o
}

func failure(s *payload.Serializer, err error) *Outcome {
	b, serr := s.Serialize(err)
	if serr != nil {
		return &Outcome{Err: types.Execution("cannot serialize failure", serr)}
	}
	return &Outcome{Result: types.FailureResult(b)}
}

// stderrError wraps the last stderr line as a cause, or returns nil.
func stderrError(stderr []byte) error {
	text := strings.TrimSpace(string(stderr))
	if text == "" {
		return nil
	}
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	return fmt.Errorf("stderr: %s", text)
}
