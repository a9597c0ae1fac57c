package mcl

import (
	"errors"
	"fmt"
)

// ErrPrecondition marks integration errors: the caller broke the engine's contract.
// These are never retried or recovered from.
var ErrPrecondition = errors.New("localization precondition violated")

var (
	ErrMapRequired          = fmt.Errorf("%w: occupancy map is required", ErrPrecondition)
	ErrNotInitialized       = fmt.Errorf("%w: update called before init", ErrPrecondition)
	ErrInvalidParticleCount = fmt.Errorf("%w: particle count must be positive", ErrPrecondition)
	ErrMalformedScan        = fmt.Errorf("%w: malformed scan", ErrPrecondition)
	ErrInvalidConfig        = fmt.Errorf("%w: invalid configuration", ErrPrecondition)
)
