package scheduler

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning reports a second Start on a running scheduler.
var ErrAlreadyRunning = errors.New("scheduler already running")

// ValidationError reports a bad caller-supplied registration parameter.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
