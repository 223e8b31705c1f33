// Package queue implements cortex's named FIFO work queues (C1): at-least-
// once delivery with a per-queue default timeout, exponential-backoff
// requeue, and crash recovery via an in-progress registry. Grounded on the
// teacher's Redis usage in internal/orchestrator/dedupe.go (a thin struct
// wrapping *redis.Client, ping-checked at construction) generalized from a
// single GET/SET pair to the reliable-queue BRPOPLPUSH pattern.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Job is one unit of work on a named queue.
type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	Retries    int             `json:"retries"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// WorkerState is the per-worker state machine named in §4.1.
type WorkerState string

const (
	StateIdle WorkerState = "idle"
	StateBusy WorkerState = "busy"
	StateOff  WorkerState = "off"
)

// Queue is the interface workers and producers depend on, so tests can
// substitute an in-memory fake instead of a real Redis instance.
type Queue interface {
	// Push enqueues payload onto queueName, returning the new job's ID.
	Push(ctx context.Context, queueName string, payload json.RawMessage) (string, error)
	// Pop blocks up to timeout for the next job, atomically moving it into
	// the in-progress registry so a crash mid-handling leaves it reapable.
	Pop(ctx context.Context, queueName string, timeout time.Duration) (*Job, error)
	// Ack removes job from the in-progress registry once handling succeeds.
	Ack(ctx context.Context, job *Job) error
	// Requeue re-enqueues job with an incremented retry counter and an
	// exponential backoff delay, unless maxRetries has been exceeded, in
	// which case it is dropped and an error reports exhaustion.
	Requeue(ctx context.Context, job *Job, maxRetries int) error
	// Reap moves every job still in queueName's in-progress registry back
	// onto the main queue; called once at worker startup per §4.1's crash
	// recovery requirement.
	Reap(ctx context.Context, queueName string) (int, error)
	// Depth reports how many jobs are pending or in flight on queueName,
	// used by the idle-consolidation scheduler (C22) to detect drained
	// queues.
	Depth(ctx context.Context, queueName string) (int64, error)
}

// RedisQueue implements Queue with Redis lists: LPUSH onto "queue:{name}",
// BRPOPLPUSH into "queue:{name}:processing" so a popped-but-uncompleted job
// is never silently lost, and a delayed sorted set "queue:{name}:delayed"
// for backoff requeues that fall due in the future.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue builds a Redis-backed queue, pinging to fail fast on a bad
// address the way the teacher's RedisDedupeStore does.
func NewRedisQueue(addr, password string, db int) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("queue: redis ping: %w", err)
	}
	return &RedisQueue{client: client}, nil
}

func mainKey(queueName string) string       { return "queue:" + queueName }
func processingKey(queueName string) string { return "queue:" + queueName + ":processing" }
func delayedKey(queueName string) string    { return "queue:" + queueName + ":delayed" }

func (q *RedisQueue) Push(ctx context.Context, queueName string, payload json.RawMessage) (string, error) {
	job := Job{ID: uuid.NewString(), Queue: queueName, Payload: payload, EnqueuedAt: time.Now().UTC()}
	buf, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("queue: marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, mainKey(queueName), buf).Err(); err != nil {
		return "", fmt.Errorf("queue: push %s: %w", queueName, err)
	}
	return job.ID, nil
}

func (q *RedisQueue) Pop(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	q.promoteDue(ctx, queueName)

	raw, err := q.client.BRPopLPush(ctx, mainKey(queueName), processingKey(queueName), timeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: pop %s: %w", queueName, err)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("queue: unmarshal job: %w", err)
	}
	return &job, nil
}

func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	buf, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	if err := q.client.LRem(ctx, processingKey(job.Queue), 1, buf).Err(); err != nil {
		return fmt.Errorf("queue: ack %s: %w", job.ID, err)
	}
	return nil
}

// Requeue implements the backoff formula from §4.1: min(max, 2^n) seconds,
// where n is the job's retry count after incrementing.
func (q *RedisQueue) Requeue(ctx context.Context, job *Job, maxRetries int) error {
	orig, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	// Remove the in-progress copy regardless of outcome; either the job is
	// gone for good (exhausted) or it is about to be re-added to the delay set.
	if rerr := q.client.LRem(ctx, processingKey(job.Queue), 1, orig).Err(); rerr != nil {
		log.Warn().Err(rerr).Str("job_id", job.ID).Msg("queue: failed to remove in-progress copy on requeue")
	}

	if job.Retries >= maxRetries {
		return fmt.Errorf("queue: job %s exhausted %d retries", job.ID, maxRetries)
	}
	job.Retries++
	backoff := BackoffSeconds(job.Retries)
	dueAt := time.Now().Add(backoff).Unix()

	buf, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	if err := q.client.ZAdd(ctx, delayedKey(job.Queue), redis.Z{Score: float64(dueAt), Member: buf}).Err(); err != nil {
		return fmt.Errorf("queue: schedule requeue of %s: %w", job.ID, err)
	}
	return nil
}

// promoteDue moves any delayed job whose due time has passed back onto the
// main queue; called opportunistically on every Pop so no separate poller
// is required for the common case.
func (q *RedisQueue) promoteDue(ctx context.Context, queueName string) {
	now := float64(time.Now().Unix())
	due, err := q.client.ZRangeByScore(ctx, delayedKey(queueName), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil || len(due) == 0 {
		return
	}
	for _, member := range due {
		if err := q.client.LPush(ctx, mainKey(queueName), member).Err(); err != nil {
			log.Warn().Err(err).Str("queue", queueName).Msg("queue: failed to promote delayed job")
			continue
		}
		if err := q.client.ZRem(ctx, delayedKey(queueName), member).Err(); err != nil {
			log.Warn().Err(err).Str("queue", queueName).Msg("queue: failed to remove promoted delayed job")
		}
	}
}

// Reap moves every job left in the in-progress registry back onto the main
// queue; run once at worker startup per §4.1.
func (q *RedisQueue) Reap(ctx context.Context, queueName string) (int, error) {
	n := 0
	for {
		raw, err := q.client.RPopLPush(ctx, processingKey(queueName), mainKey(queueName)).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return n, fmt.Errorf("queue: reap %s: %w", queueName, err)
		}
		_ = raw
		n++
	}
	if n > 0 {
		log.Info().Str("queue", queueName).Int("count", n).Msg("queue: reaped in-progress jobs from previous run")
	}
	return n, nil
}

// Depth reports the combined length of the main and in-progress lists,
// i.e. how many jobs are still pending or being worked. Delayed
// (backoff-scheduled) jobs are intentionally excluded: a queue waiting out
// a backoff window is not "busy" in the sense C22 cares about.
func (q *RedisQueue) Depth(ctx context.Context, queueName string) (int64, error) {
	pending, err := q.client.LLen(ctx, mainKey(queueName)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: depth %s: %w", queueName, err)
	}
	processing, err := q.client.LLen(ctx, processingKey(queueName)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: depth %s: %w", queueName, err)
	}
	return pending + processing, nil
}

// BackoffSeconds implements min(max, 2^n) seconds, capped at 5 minutes so a
// wedged job does not silently disappear for hours.
func BackoffSeconds(retries int) time.Duration {
	const maxBackoff = 5 * time.Minute
	seconds := math.Pow(2, float64(retries))
	d := time.Duration(seconds) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
