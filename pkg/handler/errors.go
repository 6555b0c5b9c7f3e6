package handler

import (
	"errors"

	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

// error codes published with every job status
const (
	Success             = "SUCCESS"
	InvalidRequest      = "INVALID_REQUEST"
	InternalServerError = "INTERNAL_SERVER_ERROR"
	Cancelled           = "CANCELLED"
	ProcessFailed       = "PROCESS_FAILED"
	Unavailable         = "EXECUTABLE_UNAVAILABLE"
)

// errorCode maps an engine error to the code the job status carries
func errorCode(err error) string {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, transcoder.ErrInvalidParameter), errors.Is(err, transcoder.ErrDecryption), errors.Is(err, transcoder.ErrProbe):
		return InvalidRequest
	case errors.Is(err, transcoder.ErrExecutableUnavailable):
		return Unavailable
	case errors.Is(err, transcoder.ErrProcessFailed):
		return ProcessFailed
	default:
		return InternalServerError
	}
}
