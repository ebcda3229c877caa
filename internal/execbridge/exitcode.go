package execbridge

import (
	"context"
	"encoding/binary"
	"time"
)

const (
	exitPollAttempts = 80
	exitPollInterval = 25 * time.Millisecond
	// coercedExitCode is reported when the exec's exit code is negative
	// or the poll times out without observing running=false.
	coercedExitCode = 255
)

// pollExitCode polls the exec's inspect endpoint until it reports
// running=false or exitPollAttempts is exhausted. Negative exit codes and
// the timeout case are both coerced to coercedExitCode, matching the
// original implementation's signal-vs-exit-code ambiguity handling.
func pollExitCode(ctx context.Context, orch execInspector, execID string) int {
	for i := 0; i < exitPollAttempts; i++ {
		running, code, err := orch.InspectExecRunning(ctx, execID)
		if err != nil {
			return coercedExitCode
		}
		if !running {
			if code < 0 {
				return coercedExitCode
			}
			return code
		}
		select {
		case <-ctx.Done():
			return coercedExitCode
		case <-time.After(exitPollInterval):
		}
	}
	return coercedExitCode
}

// exitStatusPayload encodes an SSH exit-status request payload: a single
// big-endian uint32.
func exitStatusPayload(code int) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(code))
	return buf
}
