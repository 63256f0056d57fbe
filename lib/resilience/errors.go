package resilience

import (
	"github.com/connkeeper/connkeeper/lib/errors"
)

// ErrCircuitOpen is returned when the circuit rejects a connect attempt.
var ErrCircuitOpen = errors.ErrCircuitOpen
