package models

import "time"

type TrackingJobStatus string

const (
	TrackingJobRunning TrackingJobStatus = "running"
	TrackingJobStopped TrackingJobStatus = "stopped"
	TrackingJobError   TrackingJobStatus = "error"
)

// TrackingJob is the scheduler's run bookkeeping.
type TrackingJob struct {
	ID              string            `json:"id"`
	Status          TrackingJobStatus `json:"status"`
	IntervalMinutes int               `json:"intervalMinutes"`
	LastRun         *time.Time        `json:"lastRun,omitempty"`
	NextRun         *time.Time        `json:"nextRun,omitempty"`
	OrdersProcessed int               `json:"ordersProcessed"`
	Errors          []string          `json:"errors"`
}

// Clone returns a deep copy safe to hand out to readers.
func (j *TrackingJob) Clone() *TrackingJob {
	if j == nil {
		return nil
	}
	out := *j
	out.Errors = append([]string{}, j.Errors...)
	if j.LastRun != nil {
		t := *j.LastRun
		out.LastRun = &t
	}
	if j.NextRun != nil {
		t := *j.NextRun
		out.NextRun = &t
	}
	return &out
}
