package pipeline

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input. A process failing
// validation never reaches ENQUEUED.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Msg
}

// Validationf builds a ValidationError.
func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// SuspendSignal is returned through the chain when a processor has
// persisted a wait condition and moved the process to SUSPENDED. It is
// not a fault: the pipeline recognizes it and does not route it
// through the exception processor. The external runner uses it to
// detach the process from its worker.
type SuspendSignal struct {
	// ResumeEvent is the event name that resumes the process.
	ResumeEvent string
}

func (e *SuspendSignal) Error() string {
	return "process suspended, waiting for event " + e.ResumeEvent
}

// IsSuspend reports whether err carries a SuspendSignal and returns it.
func IsSuspend(err error) (*SuspendSignal, bool) {
	var s *SuspendSignal
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}
