package domain

import (
	"context"
	"errors"
)

var (
	ErrPermissionDenied    = errors.New("microphone permission denied")
	ErrCaptureUnsupported  = errors.New("audio capture is not supported")
	ErrDeviceNotReady      = errors.New("microphone is not ready")
	ErrEmptyRecording      = errors.New("recording captured no audio")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrTransport           = errors.New("transport error")
	ErrJobTimeout          = errors.New("voice job timed out")
	ErrJobFailed           = errors.New("voice job failed")
	ErrJobCancelled        = errors.New("voice job cancelled")
	ErrServerRejected      = errors.New("server rejected the request")
	ErrMalformedResponse   = errors.New("malformed server response")
	ErrPlayback            = errors.New("playback failed")

	ErrRecordingInProgress = errors.New("a recording is already in progress")
	ErrNoActiveRecording   = errors.New("no active recording")
	ErrRequestInFlight     = errors.New("a request is already in progress")
	ErrEmptyMessage        = errors.New("message is empty")
	ErrNoConversation      = errors.New("conversation not found")
	ErrInvalidSetting      = errors.New("invalid setting")
)

// JobFailedError carries the server-supplied reason for a failed voice job.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return ErrJobFailed.Error()
	}
	return e.Message
}

func (e *JobFailedError) Unwrap() error { return ErrJobFailed }

// CodeOf maps an error chain to the code shown to the user.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return ErrorCodePermissionDenied
	case errors.Is(err, ErrCaptureUnsupported):
		return ErrorCodeCaptureUnsupported
	case errors.Is(err, ErrDeviceNotReady):
		return ErrorCodeDeviceNotReady
	case errors.Is(err, ErrEmptyRecording):
		return ErrorCodeEmptyRecording
	case errors.Is(err, ErrTranscriptionFailed):
		return ErrorCodeTranscriptionFailed
	case errors.Is(err, ErrJobTimeout):
		return ErrorCodeJobTimeout
	case errors.Is(err, ErrJobFailed):
		return ErrorCodeJobFailed
	case errors.Is(err, ErrServerRejected):
		return ErrorCodeServerRejected
	case errors.Is(err, ErrMalformedResponse):
		return ErrorCodeMalformedResponse
	case errors.Is(err, ErrPlayback):
		return ErrorCodePlayback
	case errors.Is(err, ErrTransport), errors.Is(err, context.DeadlineExceeded):
		return ErrorCodeTransport
	case errors.Is(err, ErrEmptyMessage),
		errors.Is(err, ErrRecordingInProgress),
		errors.Is(err, ErrNoActiveRecording),
		errors.Is(err, ErrRequestInFlight),
		errors.Is(err, ErrNoConversation),
		errors.Is(err, ErrInvalidSetting):
		return ErrorCodeInvalidInput
	default:
		return ErrorCodeUnknown
	}
}
