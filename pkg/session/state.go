package session

import (
	"errors"
	"time"

	"github.com/rahl/studio/pkg/buildclient"
)

// ErrBuildFailed is the generic marker carried by every failed attempt. The
// underlying cause is wrapped alongside it for diagnosis.
var ErrBuildFailed = errors.New("build failed")

// Status names the lifecycle stage of a build session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusSubmitting Status = "submitting"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// State is one of Idle, Submitting, Succeeded or Failed. Each variant only
// carries the fields valid for its stage.
type State interface {
	Status() Status
	sealed()
}

// Idle is the state of a session that has never been submitted.
type Idle struct{}

// Submitting is the state while the build request is outstanding.
type Submitting struct {
	Attempt     uint64
	Description string
	StartedAt   time.Time
}

// Succeeded holds the builder's reply for the latest attempt.
type Succeeded struct {
	Attempt     uint64
	Description string
	Result      buildclient.BuildResult
	SettledAt   time.Time
}

// Failed holds the error of the latest attempt. Err always matches ErrBuildFailed.
type Failed struct {
	Attempt     uint64
	Description string
	Err         error
	SettledAt   time.Time
}

func (Idle) Status() Status { return StatusIdle }
func (Submitting) Status() Status { return StatusSubmitting }
func (Succeeded) Status() Status { return StatusSucceeded }
func (Failed) Status() Status { return StatusFailed }

func (Idle) sealed() {}
func (Submitting) sealed() {}
func (Succeeded) sealed() {}
func (Failed) sealed() {}

// Outcome is the settled result of one submission: exactly one of Result
// and Err is set.
type Outcome struct {
	Result *buildclient.BuildResult
	Err    error
}

// Succeeded reports whether the attempt produced a build result.
func (o Outcome) Succeeded() bool {
	return o.Err == nil && o.Result != nil
}

func outcomeOf(state State) Outcome {
	switch s := state.(type) {
	case Succeeded:
		result := s.Result
		return Outcome{Result: &result}
	case Failed:
		return Outcome{Err: s.Err}
	default:
		return Outcome{}
	}
}
