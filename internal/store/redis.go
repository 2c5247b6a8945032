package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/podushkina/asynctask/internal/task"
	"github.com/redis/go-redis/v9"
)

const (
	idsKey     = "asynctask:ids"
	taskPrefix = "asynctask:task:"
)

// insertScript checks the population and stores the record in one step.
// KEYS: id set, record key. ARGV: max tasks, record, id, ttl in ms (0 = none).
// Returns 0 when the store is full.
var insertScript = redis.NewScript(`
if redis.call('SCARD', KEYS[1]) >= tonumber(ARGV[1]) then
	return 0
end
if tonumber(ARGV[4]) > 0 then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[4])
else
	redis.call('SET', KEYS[2], ARGV[2])
end
redis.call('SADD', KEYS[1], ARGV[3])
return 1
`)

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Redis keeps records as JSON strings and tracks the population in a set.
// Inserts run as a server-side script; Advance is a WATCH/MULTI transaction
// on the single record key.
type Redis struct {
	client   *redis.Client
	maxTasks int
	ttl      time.Duration
}

// NewRedis connects to addr. ttl is a safety expiry on every record key;
// zero disables it.
func NewRedis(addr, password string, db, maxTasks int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Redis{client: client, maxTasks: maxTasks, ttl: ttl}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Insert(ctx context.Context, t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	inserted, err := insertScript.Run(ctx, r.client,
		[]string{idsKey, taskPrefix + t.ID},
		r.maxTasks, data, t.ID, r.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if inserted == 0 {
		return task.ErrCapacityExceeded
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (*task.Task, error) {
	t, err := r.get(ctx, r.client, id)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *Redis) Put(ctx context.Context, t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, taskPrefix+t.ID, data, r.ttl)
	pipe.SAdd(ctx, idsKey, t.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

func (r *Redis) Advance(ctx context.Context, id string, mutate func(t *task.Task)) (*task.Task, bool, error) {
	var (
		current *task.Task
		applied bool
	)

	err := r.transact(ctx, func(tx *redis.Tx) error {
		t, err := r.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Status.Terminal() {
			current, applied = t, false
			return nil
		}

		mutate(t)
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal task: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, taskPrefix+id, data, r.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		current, applied = t, true
		return nil
	}, taskPrefix+id)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("advance task: %w", err)
	}
	return current, applied, nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, taskPrefix+id)
	pipe.SRem(ctx, idsKey, id)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// ForEach walks the id set. Ids whose record key has expired are pruned.
func (r *Redis) ForEach(ctx context.Context, fn func(t *task.Task) error) error {
	ids, err := r.client.SMembers(ctx, idsKey).Result()
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	for _, id := range ids {
		t, err := r.get(ctx, r.client, id)
		if errors.Is(err, task.ErrTaskNotFound) {
			if err := r.client.SRem(ctx, idsKey, id).Err(); err != nil {
				return fmt.Errorf("prune task id: %w", err)
			}
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, idsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return int(n), nil
}

func (r *Redis) get(ctx context.Context, c getter, id string) (*task.Task, error) {
	data, err := c.Get(ctx, taskPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, task.NotFound(id)
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &t, nil
}

// transact retries fn until its watched keys stay untouched or ctx ends.
func (r *Redis) transact(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for {
		err := r.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
