package domain

import "strings"

// JobStatus is the normalized voice-job status.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusUnknown   JobStatus = "unknown"
)

// NormalizeJobStatus lower-cases the wire value and validates membership.
func NormalizeJobStatus(raw string) JobStatus {
	switch JobStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case JobStatusPending:
		return JobStatusPending
	case JobStatusCompleted:
		return JobStatusCompleted
	case JobStatusFailed:
		return JobStatusFailed
	default:
		return JobStatusUnknown
	}
}

// Terminal reports whether polling should stop.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobReport is one poll result.
type JobReport struct {
	Status    JobStatus
	RawStatus string
	Result    *Reply
	Error     string
}
