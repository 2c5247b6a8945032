// Package store holds task records behind a capacity-bounded registry.
package store

import (
	"context"

	"github.com/podushkina/asynctask/internal/task"
)

// Store is the task registry. Every method is safe for concurrent use.
type Store interface {
	// Insert adds a new record, failing with task.ErrCapacityExceeded once
	// the store holds its maximum number of records.
	Insert(ctx context.Context, t *task.Task) error
	// Get returns a copy of the record or an error wrapping task.ErrTaskNotFound.
	Get(ctx context.Context, id string) (*task.Task, error)
	// Put overwrites the record unconditionally.
	Put(ctx context.Context, t *task.Task) error
	// Advance applies mutate to the record only while it is non-terminal and
	// reports whether it did. The returned record is the stored one after
	// the call, whether or not mutate ran.
	Advance(ctx context.Context, id string, mutate func(t *task.Task)) (*task.Task, bool, error)
	Delete(ctx context.Context, id string) error
	// ForEach visits a snapshot of all records. fn may call back into the store.
	ForEach(ctx context.Context, fn func(t *task.Task) error) error
	Len(ctx context.Context) (int, error)
	Close() error
}
