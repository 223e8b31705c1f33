package queue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Handler processes one job's payload. Returning an error causes the
// worker to Requeue the job with backoff instead of Ack-ing it.
type Handler func(ctx context.Context, job *Job) error

// Worker owns one queue: it reaps orphaned in-progress jobs at startup,
// then loops pop -> handle -> ack|requeue until Stop is called. Each queue
// in §5's scheduling model ("each queue has its own worker process") maps
// to one Worker.
type Worker struct {
	name       string
	q          Queue
	handler    Handler
	popTimeout time.Duration
	maxRetries int

	state atomic.Value // WorkerState
	stop  chan struct{}
	done  chan struct{}
}

// NewWorker builds a worker for queueName. popTimeout bounds each blocking
// pop; maxRetries bounds Requeue's backoff escalation before a job is
// dropped.
func NewWorker(name string, q Queue, handler Handler, popTimeout time.Duration, maxRetries int) *Worker {
	w := &Worker{
		name:       name,
		q:          q,
		handler:    handler,
		popTimeout: popTimeout,
		maxRetries: maxRetries,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	w.state.Store(StateOff)
	return w
}

// State returns the worker's current state for health/ops inspection.
func (w *Worker) State() WorkerState {
	return w.state.Load().(WorkerState)
}

// Run reaps orphaned jobs, then blocks popping and handling jobs until
// Stop is called or ctx is cancelled. Intended to run in its own goroutine.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	if n, err := w.q.Reap(ctx, w.name); err != nil {
		log.Error().Err(err).Str("queue", w.name).Msg("worker: reap failed")
	} else if n > 0 {
		log.Info().Str("queue", w.name).Int("reaped", n).Msg("worker: recovered in-progress jobs")
	}

	w.state.Store(StateIdle)
	for {
		select {
		case <-ctx.Done():
			w.state.Store(StateOff)
			return
		case <-w.stop:
			w.state.Store(StateOff)
			return
		default:
		}

		job, err := w.q.Pop(ctx, w.name, w.popTimeout)
		if err != nil {
			log.Error().Err(err).Str("queue", w.name).Msg("worker: pop failed")
			continue
		}
		if job == nil {
			continue // popTimeout elapsed with nothing queued
		}

		w.state.Store(StateBusy)
		w.handle(ctx, job)
		w.state.Store(StateIdle)
	}
}

func (w *Worker) handle(ctx context.Context, job *Job) {
	if err := w.handler(ctx, job); err != nil {
		log.Warn().Err(err).Str("queue", w.name).Str("job_id", job.ID).Int("retries", job.Retries).
			Msg("worker: job failed, requeuing with backoff")
		if rqErr := w.q.Requeue(ctx, job, w.maxRetries); rqErr != nil {
			log.Error().Err(rqErr).Str("queue", w.name).Str("job_id", job.ID).
				Msg("worker: job exhausted retries, dropped")
		}
		return
	}
	if err := w.q.Ack(ctx, job); err != nil {
		log.Error().Err(err).Str("queue", w.name).Str("job_id", job.ID).Msg("worker: ack failed")
	}
}

// Stop signals Run to exit after its current job, if any, completes.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}
