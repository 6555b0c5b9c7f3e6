package transcoder

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrExecutableUnavailable = errors.New("executable unavailable")
	ErrTimeout               = errors.New("timeout")
	ErrDecryption            = errors.New("decryption error")
	ErrProbe                 = errors.New("probe error")
	ErrProcessFailed         = errors.New("process failed")
)

// ProcessFailedError - child exited with a non-zero code
type ProcessFailedError struct {
	ExitCode int
	Output   string
}

func (e *ProcessFailedError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("process failed with exit code %d", e.ExitCode)
	}
	return fmt.Sprintf("process failed with exit code %d: %s", e.ExitCode, e.Output)
}

func (e *ProcessFailedError) Is(target error) bool {
	return target == ErrProcessFailed
}
