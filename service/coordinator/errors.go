package coordinator

import (
	"errors"
	"fmt"

	"github.com/viant/pacer/service/mbus"
)

// ErrAlreadyRunning reports a second Start on a running coordinator.
var ErrAlreadyRunning = errors.New("coordinator already running")

// ValidationError reports a bad caller-supplied allocation parameter. It is
// synchronous and precise: Field names the offending parameter.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ExhaustionError reports that an allocation could not be satisfied even
// after emergency reclamation. The coordinator never retries on behalf of
// the caller.
type ExhaustionError struct {
	PoolType  mbus.PoolType
	Requested int64
	Free      int64
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("pool %s exhausted: requested %dMB, %dMB free after reclamation", e.PoolType, e.Requested, e.Free)
}
