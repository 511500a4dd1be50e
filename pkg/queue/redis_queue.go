package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// promoteDelayedScript moves due delayed jobs back onto the ready list.
// KEYS[1] = delayed zset
// KEYS[2] = ready list
// ARGV[1] = current unix time (seconds, float)
// ARGV[2] = max jobs to promote per call
var promoteDelayedScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, payload in ipairs(due) do
    redis.call("ZREM", KEYS[1], payload)
    redis.call("LPUSH", KEYS[2], payload)
end
return #due
`)

// retryScript atomically moves a job from processing to the delayed zset.
// KEYS[1] = processing list
// KEYS[2] = delayed zset
// ARGV[1] = original job payload (to remove from processing)
// ARGV[2] = rescheduled job payload (with bumped attempts)
// ARGV[3] = due time (unix seconds, float)
var retryScript = redis.NewScript(`
redis.call("LREM", KEYS[1], 1, ARGV[1])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[2])
return 1
`)

// deadLetterScript atomically moves a job from processing to the dead list.
// KEYS[1] = processing list
// KEYS[2] = dead list
// ARGV[1] = original job payload
// ARGV[2] = dead-letter record payload
var deadLetterScript = redis.NewScript(`
redis.call("LREM", KEYS[1], 1, ARGV[1])
redis.call("LPUSH", KEYS[2], ARGV[2])
return 1
`)

// RedisQueue implements Queue on four Redis keys: a ready list, a
// per-consumer processing list, a delayed zset, and a dead list.
type RedisQueue struct {
	client *redis.Client
	prefix string
}

// NewRedisQueue connects a queue to Redis under the given key prefix
// (for example "chronovault:projector").
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "chronovault:projector"
	}
	return &RedisQueue{client: client, prefix: prefix}
}

func (q *RedisQueue) readyKey() string      { return q.prefix + ":ready" }
func (q *RedisQueue) processingKey() string { return q.prefix + ":processing" }
func (q *RedisQueue) delayedKey() string    { return q.prefix + ":delayed" }
func (q *RedisQueue) deadKey() string       { return q.prefix + ":dead" }

func (q *RedisQueue) Enqueue(ctx context.Context, eventID int64) error {
	payload, err := json.Marshal(Job{ID: uuid.NewString(), EventID: eventID, Attempts: 0})
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.readyKey(), payload).Err(); err != nil {
		return fmt.Errorf("queue: enqueue event %d: %w", eventID, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		now := float64(time.Now().UnixMicro()) / 1e6
		if err := promoteDelayedScript.Run(ctx, q.client,
			[]string{q.delayedKey(), q.readyKey()}, now, 100).Err(); err != nil {
			return nil, fmt.Errorf("queue: promote delayed: %w", err)
		}

		payload, err := q.client.BLMove(ctx, q.readyKey(), q.processingKey(), "RIGHT", "LEFT", time.Second).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("queue: dequeue: %w", err)
		}

		var job Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			// Unparseable payloads go straight to the dead list.
			_ = deadLetterScript.Run(ctx, q.client,
				[]string{q.processingKey(), q.deadKey()}, payload, payload).Err()
			continue
		}
		return &job, nil
	}
}

func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	if err := q.client.LRem(ctx, q.processingKey(), 1, payload).Err(); err != nil {
		return fmt.Errorf("queue: ack job %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	original, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	next := *job
	next.Attempts++
	rescheduled, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	due := float64(time.Now().Add(delay).UnixMicro()) / 1e6
	if err := retryScript.Run(ctx, q.client,
		[]string{q.processingKey(), q.delayedKey()},
		original, rescheduled, due).Err(); err != nil {
		return fmt.Errorf("queue: retry job %s: %w", job.ID, err)
	}
	return nil
}

type deadRecord struct {
	Job    Job       `json:"job"`
	Reason string    `json:"reason"`
	DiedAt time.Time `json:"died_at"`
}

func (q *RedisQueue) Dead(ctx context.Context, job *Job, reason string) error {
	original, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	record, err := json.Marshal(deadRecord{Job: *job, Reason: reason, DiedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("queue: marshal dead record: %w", err)
	}
	if err := deadLetterScript.Run(ctx, q.client,
		[]string{q.processingKey(), q.deadKey()}, original, record).Err(); err != nil {
		return fmt.Errorf("queue: dead-letter job %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) RequeueOrphans(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.client.LMove(ctx, q.processingKey(), q.readyKey(), "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("queue: requeue orphans: %w", err)
		}
		moved++
	}
}
