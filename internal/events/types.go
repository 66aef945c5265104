// Package events defines the typed Spark listener events delivered over the
// backend channel, the wire envelope they arrive in, and the bus used to fan
// correlated events out to in-process consumers.
package events

import "time"

// Event kinds as emitted by the Scala-side listener. The values double as the
// inner envelope's msgtype discriminator.
const (
	KindJobStart         = "sparkJobStart"
	KindJobEnd           = "sparkJobEnd"
	KindStageSubmitted   = "sparkStageSubmitted"
	KindStageCompleted   = "sparkStageCompleted"
	KindTaskStart        = "sparkTaskStart"
	KindTaskEnd          = "sparkTaskEnd"
	KindApplicationStart = "sparkApplicationStart"
	KindApplicationEnd   = "sparkApplicationEnd"
	KindExecutorAdded    = "sparkExecutorAdded"
	KindExecutorRemoved  = "sparkExecutorRemoved"
)

// Event is the closed union of Spark listener events. Each variant carries
// its own payload; Kind returns the wire discriminator.
type Event interface {
	Kind() string
}

// ApplicationStart reports the application identifiers for the connection.
type ApplicationStart struct {
	AppID        string `json:"appId"`
	AppName      string `json:"appName"`
	AppAttemptID string `json:"appAttemptId"`
}

func (ApplicationStart) Kind() string { return KindApplicationStart }

// ApplicationEnd is a session-level terminal notice; it carries no payload
// the correlator acts on.
type ApplicationEnd struct{}

func (ApplicationEnd) Kind() string { return KindApplicationEnd }

// JobStart reports a new job together with the cluster resources available
// to it at submission time.
type JobStart struct {
	JobID        int64 `json:"jobId"`
	TotalCores   int   `json:"totalCores"`
	NumExecutors int   `json:"numExecutors"`
}

func (JobStart) Kind() string { return KindJobStart }

// JobEnd reports job completion.
type JobEnd struct {
	JobID  int64  `json:"jobId"`
	Status string `json:"status,omitempty"`
}

func (JobEnd) Kind() string { return KindJobEnd }

// StageSubmitted reports a stage entering the scheduler.
type StageSubmitted struct {
	StageID  int64 `json:"stageId"`
	NumTasks int   `json:"numTasks,omitempty"`
}

func (StageSubmitted) Kind() string { return KindStageSubmitted }

// StageCompleted reports a stage finishing (successfully or not).
type StageCompleted struct {
	StageID int64  `json:"stageId"`
	Status  string `json:"status,omitempty"`
}

func (StageCompleted) Kind() string { return KindStageCompleted }

// TaskStart reports a task launching within a stage.
type TaskStart struct {
	StageID int64 `json:"stageId"`
}

func (TaskStart) Kind() string { return KindTaskStart }

// TaskEnd reports a task finishing within a stage.
type TaskEnd struct {
	StageID int64  `json:"stageId"`
	Status  string `json:"status,omitempty"`
}

func (TaskEnd) Kind() string { return KindTaskEnd }

// ExecutorAdded reports an executor joining; TotalCores is the new cluster
// total, not a delta.
type ExecutorAdded struct {
	TotalCores int `json:"totalCores"`
}

func (ExecutorAdded) Kind() string { return KindExecutorAdded }

// ExecutorRemoved reports an executor leaving; TotalCores is the new cluster
// total.
type ExecutorRemoved struct {
	TotalCores int `json:"totalCores"`
}

func (ExecutorRemoved) Kind() string { return KindExecutorRemoved }

// CellEvent is an event that has been resolved to its owning notebook cell
// by the correlation engine.
type CellEvent struct {
	CellID      string    `json:"cell_id"`
	AppInstance string    `json:"app_instance,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Event       Event     `json:"-"`
}

// EventKind returns the kind of the underlying event, or "" when unset.
func (c CellEvent) EventKind() string {
	if c.Event == nil {
		return ""
	}
	return c.Event.Kind()
}
