package models

import (
	"maps"
	"time"
)

// JobStatus is the outcome of the last run of a scheduled job.
type JobStatus string

const (
	JobPending   JobStatus = ""
	JobSucceeded JobStatus = "success"
	JobFailed    JobStatus = "failed"
)

// ScheduledJob is a cron-driven background job and the state of its last run.
type ScheduledJob struct {
	Name           string
	Slug           string
	Handler        string
	Schedule       string
	TimeoutSeconds int
	RunOnStartup   bool
	Config         map[string]any

	LastRunAt           *time.Time
	NextRunAt           *time.Time
	LastStatus          JobStatus
	ErrorMessage        *string
	LastDurationMS      int64
	ConsecutiveFailures int
}

// Timeout returns the per-run deadline, zero when unbounded.
func (j *ScheduledJob) Timeout() time.Duration {
	if j == nil || j.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(j.TimeoutSeconds) * time.Second
}

// RecordRun stores the outcome of a run that started at start and finished
// at finish. Failures extend the streak; a success resets it.
func (j *ScheduledJob) RecordRun(start, finish time.Time, runErr error) {
	j.LastRunAt = &finish
	j.LastDurationMS = finish.Sub(start).Milliseconds()
	if runErr == nil {
		j.LastStatus = JobSucceeded
		j.ErrorMessage = nil
		j.ConsecutiveFailures = 0
		return
	}
	msg := runErr.Error()
	j.LastStatus = JobFailed
	j.ErrorMessage = &msg
	j.ConsecutiveFailures++
}

// Clone returns a deep copy so schedule mutations stay isolated.
func (j *ScheduledJob) Clone() *ScheduledJob {
	if j == nil {
		return nil
	}
	out := *j
	out.Config = maps.Clone(j.Config)
	out.LastRunAt = cloneTime(j.LastRunAt)
	out.NextRunAt = cloneTime(j.NextRunAt)
	if j.ErrorMessage != nil {
		msg := *j.ErrorMessage
		out.ErrorMessage = &msg
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
