package fleet

import (
	"errors"
	"fmt"
	"time"
)

// ErrCoordinationTimeout is matched by every CoordinationTimeout.
var ErrCoordinationTimeout = errors.New("coordination timeout")

// CoordinationTimeout reports a wait whose exit condition never became true
// within its budget.
type CoordinationTimeout struct {
	Phase   string
	RobotID int
	Elapsed time.Duration
	Detail  string
}

func (e *CoordinationTimeout) Error() string {
	msg := fmt.Sprintf("robot %d: %s did not complete within %s", e.RobotID, e.Phase, e.Elapsed)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Is makes errors.Is(err, ErrCoordinationTimeout) true.
func (e *CoordinationTimeout) Is(target error) bool {
	return target == ErrCoordinationTimeout
}
