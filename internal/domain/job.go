package domain

import "time"

type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCanceled   JobStatus = "canceled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCanceled
}

// Job represents a download job tracked by the system.
type Job struct {
	ID                 string
	URL                string
	Title              string
	Format             Format
	RequestedQuality   Quality
	Status             JobStatus
	Progress           int
	CurrentQuality     Quality
	FileName           string
	FileSize           int64
	ActualQuality      Quality
	FallbackOccurred   bool
	AttemptedQualities []Quality
	VideoOnly          bool
	ErrorKind          string
	ErrorMessage       string
	Hint               string
	RemoteLocation     string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	FinishedAt         *time.Time
}

// Clone returns a deep copy safe to hand out to readers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.AttemptedQualities != nil {
		cp.AttemptedQualities = append([]Quality(nil), j.AttemptedQualities...)
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
