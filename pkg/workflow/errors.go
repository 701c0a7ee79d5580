package workflow

import (
	"errors"
	"fmt"
)

// ErrRunNotFound reports an unknown run identifier.
var ErrRunNotFound = errors.New("run not found")

// ErrReportNotReady reports a report request for a run that has not finished.
var ErrReportNotReady = errors.New("report not ready")

// ErrRunCancelled reports that a run was cancelled before completion.
var ErrRunCancelled = errors.New("run cancelled")

// InvalidTransitionError reports an operation invoked in a phase that does
// not permit it, e.g. approve on a run not awaiting feedback.
type InvalidTransitionError struct {
	RunID string
	Phase Phase
	Op    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("run %s: operation %q not allowed in phase %s", e.RunID, e.Op, e.Phase)
}
