package ingest

import (
	"errors"
	"fmt"
	"sync"
)

// Status is the ingestion state shown to the uploader
type Status string

const (
	StatusIdle       Status = "idle"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// ErrIllegalTransition is returned when a status change is not allowed
var ErrIllegalTransition = errors.New("illegal status transition")

var transitions = map[Status][]Status{
	StatusIdle:       {StatusUploading},
	StatusUploading:  {StatusProcessing, StatusError},
	StatusProcessing: {StatusSuccess, StatusError},
	StatusSuccess:    {StatusIdle},
	StatusError:      {StatusIdle},
}

// Snapshot is a consistent view of a Tracker
type Snapshot struct {
	Status   Status  `json:"status"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error,omitempty"`
}

// Tracker holds the status and progress of one ingestion. Success and error
// are terminal until Reset. Progress never decreases and is frozen on error.
type Tracker struct {
	mu       sync.Mutex
	status   Status
	progress float64
	err      error
}

// NewTracker returns an idle tracker
func NewTracker() *Tracker {
	return &Tracker{status: StatusIdle}
}

func (t *Tracker) transition(to Status) error {
	for _, allowed := range transitions[t.status] {
		if allowed == to {
			t.status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrIllegalTransition, t.status, to)
}

// Begin moves idle to uploading
func (t *Tracker) Begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transition(StatusUploading)
}

// Processing moves uploading to processing
func (t *Tracker) Processing() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transition(StatusProcessing)
}

// Report records progress and returns the effective value. Values lower than
// the current progress, or reported outside uploading/processing, are ignored.
func (t *Tracker) Report(progress float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusUploading && t.status != StatusProcessing {
		return t.progress
	}
	progress = min(max(progress, 0), 100)
	if progress > t.progress {
		t.progress = progress
	}
	return t.progress
}

// Succeed moves processing to success at 100%
func (t *Tracker) Succeed() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transition(StatusSuccess); err != nil {
		return err
	}
	t.progress = 100
	return nil
}

// Fail moves uploading or processing to error, keeping the last progress
func (t *Tracker) Fail(cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transition(StatusError); err != nil {
		return err
	}
	t.err = cause
	return nil
}

// Reset returns a finished tracker to idle
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transition(StatusIdle); err != nil {
		return err
	}
	t.progress = 0
	t.err = nil
	return nil
}

// Snapshot returns the current status, progress and error
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{Status: t.status, Progress: t.progress}
	if t.err != nil {
		snap.Error = t.err.Error()
	}
	return snap
}

// Err returns the failure cause while in the error state
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
