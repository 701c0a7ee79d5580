package model

import "fmt"

// GenerationError reports that the language model produced invalid or
// unparseable output even after the corrective retry.
type GenerationError struct {
	Op     string // e.g. "personas", "section"
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation failed (%s): %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("generation failed (%s): %s", e.Op, e.Reason)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// RetrievalError reports that a search provider was unavailable after retries.
// Callers are expected to absorb it and continue with an empty context set.
type RetrievalError struct {
	Query string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed for %q: %v", e.Query, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// CompilationError reports a report request over interviews that are not all
// in a terminal state.
type CompilationError struct {
	AnalystID string
	Status    InterviewStatus
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("cannot compile report: interview for analyst %s is %s", e.AnalystID, e.Status)
}
