package handlers

import (
	"context"
	"time"

	"github.com/podushkina/asynctask/internal/task"
)

// Reverse waits out the task's processing delay and returns its input
// reversed rune by rune.
func Reverse(ctx context.Context, t *task.Task) (string, error) {
	if t.Delay > 0 {
		timer := time.NewTimer(t.Delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	runes := []rune(t.Input)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes), nil
}
