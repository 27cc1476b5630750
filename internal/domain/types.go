package domain

// Target identifies where a finished recording is delivered.
type Target string

const (
	TargetChat   Target = "chat"
	TargetEditor Target = "editor"
)

// Valid reports whether t is one of the known targets.
func (t Target) Valid() bool {
	return t == TargetChat || t == TargetEditor
}

// RecordingState models the capture lifecycle: inactive -> recording-<target> -> inactive.
type RecordingState string

const (
	RecordingStateInactive        RecordingState = "inactive"
	RecordingStateRecordingChat   RecordingState = "recording-chat"
	RecordingStateRecordingEditor RecordingState = "recording-editor"
)

// RecordingStateFor returns the active state for a target.
func RecordingStateFor(target Target) RecordingState {
	return RecordingState("recording-" + string(target))
}

// ErrorCode identifies user-visible error categories.
type ErrorCode string

const (
	ErrorCodeStartup             ErrorCode = "startup"
	ErrorCodePermissionDenied    ErrorCode = "permission_denied"
	ErrorCodeCaptureUnsupported  ErrorCode = "capture_unsupported"
	ErrorCodeDeviceNotReady      ErrorCode = "device_not_ready"
	ErrorCodeEmptyRecording      ErrorCode = "empty_recording"
	ErrorCodeTranscriptionFailed ErrorCode = "transcription_failed"
	ErrorCodeTransport           ErrorCode = "transport"
	ErrorCodeJobTimeout          ErrorCode = "job_timeout"
	ErrorCodeJobFailed           ErrorCode = "job_failed"
	ErrorCodeServerRejected      ErrorCode = "server_rejected"
	ErrorCodeMalformedResponse   ErrorCode = "malformed_response"
	ErrorCodeAudioStop           ErrorCode = "audio_stop"
	ErrorCodePlayback            ErrorCode = "playback"
	ErrorCodeInvalidInput        ErrorCode = "invalid_input"
	ErrorCodeUnknown             ErrorCode = "unknown"
)

// Recording is a finished capture ready for upload.
type Recording struct {
	ID       string `json:"id"`
	Target   Target `json:"target"`
	Audio    []byte `json:"-"`
	MIMEType string `json:"mimeType"`
	Chunks   int    `json:"chunks"`
}

// Visibility describes which panes the view should reveal.
type Visibility string

const (
	VisibilityChat   Visibility = "chat"
	VisibilityBoth   Visibility = "both"
	VisibilityEditor Visibility = "editor"
)

// VoiceOutput is the user's reply preference.
type VoiceOutput string

const (
	VoiceOutputText  VoiceOutput = "text"
	VoiceOutputVoice VoiceOutput = "voice"
)

// ParseVoiceOutput falls back to text-only for anything unrecognized.
func ParseVoiceOutput(raw string) VoiceOutput {
	if VoiceOutput(raw) == VoiceOutputVoice {
		return VoiceOutputVoice
	}
	return VoiceOutputText
}

// Status summarizes the current runtime status.
type Status struct {
	Recording RecordingState `json:"recording"`
	Loading   bool           `json:"loading"`
	Playing   bool           `json:"playing"`
	Message   string         `json:"message,omitempty"`
}
