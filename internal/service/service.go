// Package service is the entry point transports call into: it accepts work,
// hands it to the executor, and answers status queries.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/podushkina/asynctask/internal/metrics"
	"github.com/podushkina/asynctask/internal/store"
	"github.com/podushkina/asynctask/internal/task"
	"github.com/podushkina/asynctask/internal/waiter"
	"github.com/podushkina/asynctask/internal/worker"
	"github.com/sirupsen/logrus"
)

// SubmitRequest describes one unit of work. Nil durations take the
// service defaults; a supplied non-positive Timeout makes the task due
// immediately.
type SubmitRequest struct {
	Input   string
	Delay   *time.Duration
	Timeout *time.Duration
}

// maxMillis is the largest millisecond count a time.Duration can hold.
const maxMillis = float64(math.MaxInt64 / int64(time.Millisecond))

// Millis converts a caller-supplied millisecond count to a duration. It
// reports false for NaN, infinities and values a Duration cannot represent.
func Millis(ms float64) (time.Duration, bool) {
	if math.IsNaN(ms) || ms > maxMillis || ms < -maxMillis {
		return 0, false
	}
	return time.Duration(ms * float64(time.Millisecond)), true
}

type Service struct {
	store          store.Store
	executor       *worker.Executor
	waiter         *waiter.Waiter
	defaultDelay   time.Duration
	defaultTimeout time.Duration
	metrics        *metrics.Metrics
	log            logrus.FieldLogger
}

func New(s store.Store, e *worker.Executor, w *waiter.Waiter, defaultDelay, defaultTimeout time.Duration, m *metrics.Metrics, log logrus.FieldLogger) *Service {
	return &Service{
		store:          s,
		executor:       e,
		waiter:         w,
		defaultDelay:   defaultDelay,
		defaultTimeout: defaultTimeout,
		metrics:        m,
		log:            log.WithField("component", "service"),
	}
}

// Submit registers a Pending task, starts it in the background and returns
// its id without waiting for the work.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	delay := s.defaultDelay
	if req.Delay != nil {
		delay = max(*req.Delay, 0)
	}
	timeout := s.defaultTimeout
	if req.Timeout != nil {
		timeout = *req.Timeout
	}

	t := task.New(req.Input, delay, timeout, time.Now())
	if err := s.store.Insert(ctx, t); err != nil {
		if errors.Is(err, task.ErrCapacityExceeded) {
			s.metrics.Rejected.Inc()
			s.log.Warn("rejecting task: registry full")
			return "", err
		}
		return "", fmt.Errorf("submit task: %w", err)
	}

	s.executor.Dispatch(t)
	s.metrics.Submitted.Inc()
	s.log.WithFields(logrus.Fields{
		"task_id": t.ID,
		"delay":   delay,
		"timeout": timeout,
	}).Info("task submitted")

	return t.ID, nil
}

// Query reports the task's state. An unfinished task is waited on for at
// most the poll budget.
func (s *Service) Query(ctx context.Context, id string) (task.Snapshot, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return task.Snapshot{}, err
	}

	if t, err = s.waiter.CheckDeadline(ctx, t); err != nil {
		return task.Snapshot{}, err
	}
	if t.Status.Terminal() {
		return t.Snapshot(), nil
	}

	t, err = s.waiter.Wait(ctx, id, t.Status)
	if err != nil {
		return task.Snapshot{}, err
	}
	return t.Snapshot(), nil
}
