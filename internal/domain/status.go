package domain

import (
	"fmt"
	"time"
)

var allowedTransitions = map[JobStatus]map[JobStatus]bool{
	StatusQueued: {
		StatusActive:    true,
		StatusCancelled: true,
	},
	StatusActive: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusFailed: {
		StatusQueued: true,
	},
	StatusCompleted: {},
	StatusCancelled: {},
}

// IsKnownStatus reports whether s is a state of the job state machine.
func IsKnownStatus(s JobStatus) bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to JobStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// TransitionTo moves the job to status and applies the bookkeeping every
// transition into that state carries.
func (j *Job) TransitionTo(to JobStatus, at time.Time) error {
	from := j.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %q -> %q (job_id=%s)", ErrInvalidTransition, from, to, j.ID)
	}
	j.Status = to

	switch to {
	case StatusActive:
		if j.StartedAt == nil {
			t := at
			j.StartedAt = &t
		}
		j.Speed = 0
		j.ETA = 0
	case StatusCompleted:
		j.ProgressPercent = 100
		j.Speed = 0
		j.ETA = 0
		j.CancelRequested = false
		j.setCompleted(at)
	case StatusCancelled:
		j.Speed = 0
		j.ETA = 0
		j.RetryAt = nil
		j.setCompleted(at)
	case StatusQueued:
		j.ErrorMessage = ""
		j.ErrorKind = ""
		j.CancelRequested = false
		j.RetryAt = nil
		j.Speed = 0
		j.ETA = 0
	case StatusFailed:
		j.Speed = 0
		j.ETA = 0
		j.CancelRequested = false
	}
	return nil
}

func (j *Job) setCompleted(at time.Time) {
	if j.CompletedAt == nil {
		t := at
		j.CompletedAt = &t
	}
}
