package store

import (
	"context"
	"sync"

	"github.com/podushkina/asynctask/internal/task"
)

// Memory is an in-process Store guarded by a single lock.
type Memory struct {
	mu       sync.RWMutex
	tasks    map[string]*task.Task
	maxTasks int
}

func NewMemory(maxTasks int) *Memory {
	return &Memory{
		tasks:    make(map[string]*task.Task),
		maxTasks: maxTasks,
	}
}

func (m *Memory) Insert(ctx context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.tasks) >= m.maxTasks {
		return task.ErrCapacityExceeded
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, task.NotFound(id)
	}
	return t.Clone(), nil
}

func (m *Memory) Put(ctx context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *Memory) Advance(ctx context.Context, id string, mutate func(t *task.Task)) (*task.Task, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, false, task.NotFound(id)
	}
	if t.Status.Terminal() {
		return t.Clone(), false, nil
	}

	next := t.Clone()
	mutate(next)
	m.tasks[id] = next
	return next.Clone(), true, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.tasks, id)
	return nil
}

func (m *Memory) ForEach(ctx context.Context, fn func(t *task.Task) error) error {
	m.mu.RLock()
	snapshot := make([]*task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		snapshot = append(snapshot, t.Clone())
	}
	m.mu.RUnlock()

	for _, t := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Len(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks), nil
}

func (m *Memory) Close() error {
	return nil
}
