package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FakeQueue is an in-memory Queue for tests, following the teacher's
// internal/testhelpers pattern of small hand-rolled stubs over a mocking
// framework.
type FakeQueue struct {
	mu         sync.Mutex
	queues     map[string][]*Job
	processing map[string][]*Job
	Pushed     []*Job
}

// NewFakeQueue builds an empty in-memory queue.
func NewFakeQueue() *FakeQueue {
	return &FakeQueue{
		queues:     make(map[string][]*Job),
		processing: make(map[string][]*Job),
	}
}

func (f *FakeQueue) Push(_ context.Context, queueName string, payload json.RawMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := &Job{ID: uuid.NewString(), Queue: queueName, Payload: payload, EnqueuedAt: time.Now().UTC()}
	f.queues[queueName] = append(f.queues[queueName], job)
	f.Pushed = append(f.Pushed, job)
	return job.ID, nil
}

func (f *FakeQueue) Pop(_ context.Context, queueName string, _ time.Duration) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queues[queueName]
	if len(q) == 0 {
		return nil, nil
	}
	job := q[0]
	f.queues[queueName] = q[1:]
	f.processing[queueName] = append(f.processing[queueName], job)
	return job, nil
}

func (f *FakeQueue) Ack(_ context.Context, job *Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processing[job.Queue] = removeJob(f.processing[job.Queue], job.ID)
	return nil
}

func (f *FakeQueue) Requeue(_ context.Context, job *Job, maxRetries int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processing[job.Queue] = removeJob(f.processing[job.Queue], job.ID)
	if job.Retries >= maxRetries {
		return errExhausted
	}
	job.Retries++
	f.queues[job.Queue] = append(f.queues[job.Queue], job)
	return nil
}

func (f *FakeQueue) Reap(_ context.Context, queueName string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	orphans := f.processing[queueName]
	f.processing[queueName] = nil
	f.queues[queueName] = append(orphans, f.queues[queueName]...)
	return len(orphans), nil
}

// Depth reports how many jobs are queued or in progress on queueName.
func (f *FakeQueue) Depth(_ context.Context, queueName string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.queues[queueName]) + len(f.processing[queueName])), nil
}

func removeJob(jobs []*Job, id string) []*Job {
	out := jobs[:0]
	for _, j := range jobs {
		if j.ID != id {
			out = append(out, j)
		}
	}
	return out
}

var errExhausted = &exhaustedErr{}

type exhaustedErr struct{}

func (*exhaustedErr) Error() string { return "fake queue: retries exhausted" }
