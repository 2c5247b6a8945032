package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/podushkina/asynctask/internal/metrics"
	"github.com/podushkina/asynctask/internal/store"
	"github.com/podushkina/asynctask/internal/task"
	"github.com/sirupsen/logrus"
)

type Handler func(ctx context.Context, t *task.Task) (string, error)

// Executor runs each submitted task in its own goroutine and records exactly
// one terminal state for it, unless a concurrent timeout got there first.
type Executor struct {
	store   store.Store
	handler Handler
	metrics *metrics.Metrics
	log     logrus.FieldLogger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewExecutor(s store.Store, h Handler, m *metrics.Metrics, log logrus.FieldLogger) *Executor {
	base, cancel := context.WithCancel(context.Background())
	return &Executor{
		store:   s,
		handler: h,
		metrics: m,
		log:     log.WithField("component", "executor"),
		base:    base,
		cancel:  cancel,
	}
}

// Dispatch starts executing t and returns immediately.
func (e *Executor) Dispatch(t *task.Task) {
	e.wg.Add(1)
	go e.run(t.ID)
}

// Shutdown waits for in-flight executions. If ctx expires first, running
// handlers are cancelled and their tasks end in Error.
func (e *Executor) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}

func (e *Executor) run(id string) {
	defer e.wg.Done()
	log := e.log.WithField("task_id", id)

	t, applied, err := e.store.Advance(context.Background(), id, func(t *task.Task) {
		t.MarkProcessing(time.Now())
	})
	if err != nil {
		log.WithError(err).Warn("failed to mark task processing")
		return
	}
	if !applied {
		log.WithField("status", t.Status).Debug("task finished before execution started")
		return
	}
	log.Debug("processing task")

	ctx, cancel := e.base, context.CancelFunc(func() {})
	if !t.DeadlineAt.IsZero() {
		ctx, cancel = context.WithDeadline(e.base, t.DeadlineAt)
	}
	defer cancel()

	result, err := e.call(ctx, t)

	var finish func(t *task.Task)
	switch {
	case t.Expired(time.Now()) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		finish = func(t *task.Task) { t.MarkTimedOut(time.Now()) }
	case err != nil:
		log.WithError(fmt.Errorf("%w: %w", task.ErrExecutionFailure, err)).Info("task failed")
		msg := err.Error()
		finish = func(t *task.Task) { t.MarkFailed(msg, time.Now()) }
	default:
		finish = func(t *task.Task) { t.MarkComplete(result, time.Now()) }
	}

	final, applied, err := e.store.Advance(context.Background(), id, finish)
	if err != nil {
		log.WithError(err).Warn("failed to record task outcome")
		return
	}
	if !applied {
		log.WithField("status", final.Status).Debug("discarding outcome of already finished task")
		return
	}

	e.metrics.Finished.WithLabelValues(string(final.Status)).Inc()
	if final.TimedOut {
		e.metrics.TimedOut.WithLabelValues("executor").Inc()
	}
	log.WithField("status", final.Status).Info("task finished")
}

func (e *Executor) call(ctx context.Context, t *task.Task) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("task_id", t.ID).Errorf("handler panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.handler(ctx, t)
}
