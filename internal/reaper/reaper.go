package reaper

import (
	"context"
	"time"

	"github.com/podushkina/asynctask/internal/metrics"
	"github.com/podushkina/asynctask/internal/store"
	"github.com/podushkina/asynctask/internal/task"
	"github.com/sirupsen/logrus"
)

// Reaper periodically evicts records that have not been written for longer
// than their retention. Complete records use the completed retention, all
// other statuses the other retention.
type Reaper struct {
	store     store.Store
	completed time.Duration
	other     time.Duration
	interval  time.Duration
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
}

func New(s store.Store, completed, other, interval time.Duration, m *metrics.Metrics, log logrus.FieldLogger) *Reaper {
	return &Reaper{
		store:     s,
		completed: completed,
		other:     other,
		interval:  interval,
		metrics:   m,
		log:       log.WithField("component", "reaper"),
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.log.WithError(err).Warn("sweep failed")
			}
		}
	}
}

// Sweep deletes every expired record and returns how many it removed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := time.Now()
	evicted := 0

	err := r.store.ForEach(ctx, func(t *task.Task) error {
		if now.Sub(t.UpdatedAt) <= r.retention(t) {
			return nil
		}
		if err := r.store.Delete(ctx, t.ID); err != nil {
			return err
		}
		evicted++
		r.metrics.Evicted.WithLabelValues(string(t.Status)).Inc()
		r.log.WithFields(logrus.Fields{"task_id": t.ID, "status": t.Status}).Debug("evicted task")
		return nil
	})
	if err != nil {
		return evicted, err
	}

	if n, err := r.store.Len(ctx); err == nil {
		r.metrics.Tracked.Set(float64(n))
	}
	if evicted > 0 {
		r.log.WithField("evicted", evicted).Info("swept expired tasks")
	}
	return evicted, nil
}

// retention is how long t may sit unchanged before it is evicted. A task
// that has not finished is kept at least until its deadline.
func (r *Reaper) retention(t *task.Task) time.Duration {
	switch {
	case t.Status == task.StatusComplete:
		return r.completed
	case t.Status.Terminal() || t.DeadlineAt.IsZero():
		return r.other
	default:
		return max(r.other, t.DeadlineAt.Sub(t.UpdatedAt))
	}
}
