package idgen

import "github.com/google/uuid"

// NewFunc produces a new globally unique identifier. Tests replace it to
// make identifiers deterministic.
var NewFunc = func() string { return uuid.New().String() }

// New returns a new identifier as string.
func New() string { return NewFunc() }
