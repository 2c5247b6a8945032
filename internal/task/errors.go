package task

import (
	"errors"
	"fmt"
)

var (
	ErrCapacityExceeded = errors.New("maximum number of active tasks reached")
	ErrTaskNotFound     = errors.New("task not found")
	ErrTaskTimedOut     = errors.New("task timed out")
	// ErrExecutionFailure wraps errors raised by a handler. It is recorded on
	// the task and never returned to the submitter.
	ErrExecutionFailure = errors.New("task execution failed")
)

func NotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

func TimedOut(id string) error {
	return fmt.Errorf("%w: %s", ErrTaskTimedOut, id)
}
