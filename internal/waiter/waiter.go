// Package waiter implements the bounded-wait status query: a caller asking
// about an unfinished task is held for at most a fixed budget, re-reading
// the record on a short interval, and then gets whatever state is current.
package waiter

import (
	"context"
	"time"

	"github.com/podushkina/asynctask/internal/metrics"
	"github.com/podushkina/asynctask/internal/store"
	"github.com/podushkina/asynctask/internal/task"
	"github.com/sirupsen/logrus"
)

type Waiter struct {
	store    store.Store
	interval time.Duration
	budget   time.Duration
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
}

func New(s store.Store, interval, budget time.Duration, m *metrics.Metrics, log logrus.FieldLogger) *Waiter {
	return &Waiter{
		store:    s,
		interval: interval,
		budget:   budget,
		metrics:  m,
		log:      log.WithField("component", "waiter"),
	}
}

// Wait returns as soon as the record leaves initial or becomes terminal. It
// fails if the record disappears or its deadline passes. When the budget runs
// out first, the current record is returned without error.
func (w *Waiter) Wait(ctx context.Context, id string, initial task.Status) (*task.Task, error) {
	start := time.Now()
	defer func() { w.metrics.QueryWait.Observe(time.Since(start).Seconds()) }()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	budget := time.NewTimer(w.budget)
	defer budget.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-budget.C:
			t, err := w.store.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			w.log.WithFields(logrus.Fields{"task_id": id, "status": t.Status}).Debug("poll budget exhausted")
			return t, nil

		case <-ticker.C:
			t, err := w.store.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if t, err = w.CheckDeadline(ctx, t); err != nil {
				return t, err
			}
			if t.Status != initial || t.Status.Terminal() {
				return t, nil
			}
		}
	}
}

// CheckDeadline finalizes t as timed out if its deadline has passed while it
// is still running, and fails with task.ErrTaskTimedOut for any record that
// ended by timing out.
func (w *Waiter) CheckDeadline(ctx context.Context, t *task.Task) (*task.Task, error) {
	if t.TimedOut {
		return t, task.TimedOut(t.ID)
	}
	now := time.Now()
	if t.Status.Terminal() || !t.Expired(now) {
		return t, nil
	}

	final, applied, err := w.store.Advance(ctx, t.ID, func(t *task.Task) {
		t.MarkTimedOut(now)
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		if final.TimedOut {
			return final, task.TimedOut(t.ID)
		}
		return final, nil
	}

	w.metrics.Finished.WithLabelValues(string(final.Status)).Inc()
	w.metrics.TimedOut.WithLabelValues("query").Inc()
	w.log.WithField("task_id", t.ID).Info("task timed out")
	return final, task.TimedOut(t.ID)
}
