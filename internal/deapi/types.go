package deapi

import "encoding/json"

// JobStatus is the lifecycle state the upstream reports for an async job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusDone       JobStatus = "done"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status will never change again.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Job is the upstream representation of a submitted inference job, as
// returned by both the submission endpoints and request-status.
type Job struct {
	RequestID string          `json:"request_id"`
	Status    JobStatus       `json:"status"`
	Progress  *float64        `json:"progress,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	ResultURL string          `json:"result_url,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Model is one entry of the upstream model catalog. Info carries the
// vendor-specific limits/defaults/features block verbatim.
type Model struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Info        json.RawMessage `json:"info,omitempty"`
}

// FormFile is a file part of a multipart submission.
type FormFile struct {
	Field string
	Name  string
	Data  []byte
}

// envelope is the {"data": ...} wrapper around every upstream response body.
type envelope struct {
	Data json.RawMessage `json:"data"`
}
