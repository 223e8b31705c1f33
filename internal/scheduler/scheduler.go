// Package scheduler implements C22 and C23: the idle-consolidation
// scheduler (triggers semantic consolidation once every work queue has
// drained and enough episodes have accumulated) and the thread-expiry
// scheduler (ages out idle threads, forcing episode generation for
// whatever conversation they still hold). Grounded on
// internal/semanticconsolidation.Worker's RunOnce shape and
// internal/act.Orchestrator's ticker-loop style, same as internal/decay.
package scheduler

import (
	"context"
	"time"

	"cortex/internal/episodic"
	"cortex/internal/observability"
	"cortex/internal/persistence/databases"
	"cortex/internal/queue"
	"cortex/internal/semanticconsolidation"
)

// defaultMinEpisodes is this package's own choice: spec.md §4 names "enough
// episodes accumulate" as C22's trigger condition but not a number. 10
// is half of semanticconsolidation's own defaultBatchSize (20) so a triggered pass
// is never starved down to a handful of episodes.
const defaultMinEpisodes = 10

// DefaultPollInterval is how often both schedulers check their condition.
// Not pinned by spec.md; short enough that idle consolidation and thread
// expiry both happen within a minute of becoming eligible.
const DefaultPollInterval = 1 * time.Minute

// DefaultThreadIdleAfter is this package's own choice for "ages out idle
// threads": spec.md §3 names the thread lifecycle state but not a
// duration. Two hours separates it clearly from the proactive engine's own
// much shorter idle windows (§4.11's NURTURE/COMMUNICATE gates), since
// thread expiry is about reclaiming conversational memory, not timing a
// proactive nudge.
const DefaultThreadIdleAfter = 2 * time.Hour

// IdleConsolidationScheduler is C22.
type IdleConsolidationScheduler struct {
	Queue         queue.Queue
	QueueNames    []string
	Episodes      *databases.EpisodeStore
	Consolidation *semanticconsolidation.Worker
	MinEpisodes   int
}

// RunOnce checks whether every monitored queue has drained and enough
// episodes are pending consolidation, triggering exactly one consolidation
// batch if so.
func (s *IdleConsolidationScheduler) RunOnce(ctx context.Context) (triggered bool, processed int, err error) {
	drained, err := s.queuesDrained(ctx)
	if err != nil {
		return false, 0, err
	}
	if !drained {
		return false, 0, nil
	}

	pending, err := s.Episodes.CountPendingConsolidation(ctx)
	if err != nil {
		return false, 0, err
	}
	threshold := int64(s.MinEpisodes)
	if threshold <= 0 {
		threshold = defaultMinEpisodes
	}
	if pending < threshold {
		return false, 0, nil
	}

	processed, err = s.Consolidation.RunOnce(ctx)
	if err != nil {
		return false, 0, err
	}
	return true, processed, nil
}

func (s *IdleConsolidationScheduler) queuesDrained(ctx context.Context) (bool, error) {
	for _, name := range s.QueueNames {
		depth, err := s.Queue.Depth(ctx, name)
		if err != nil {
			return false, err
		}
		if depth > 0 {
			return false, nil
		}
	}
	return true, nil
}

// Run blocks, calling RunOnce every interval until ctx is cancelled.
func (s *IdleConsolidationScheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			triggered, processed, err := s.RunOnce(ctx)
			log := observability.LoggerWithTrace(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("scheduler: idle consolidation check failed")
				continue
			}
			if triggered {
				log.Info().Int("processed", processed).Msg("scheduler: idle consolidation triggered")
			}
		}
	}
}

// ThreadExpiryScheduler is C23.
type ThreadExpiryScheduler struct {
	Threads      *databases.ThreadStore
	Consolidator *episodic.Consolidator
	IdleAfter    time.Duration
}

// RunOnce expires every thread idle since before now-IdleAfter, forcing
// episode generation for each topic the thread touched before marking it
// expired.
func (s *ThreadExpiryScheduler) RunOnce(ctx context.Context) (expired int, err error) {
	idleAfter := s.IdleAfter
	if idleAfter <= 0 {
		idleAfter = DefaultThreadIdleAfter
	}
	cutoff := time.Now().UTC().Add(-idleAfter)

	threads, err := s.Threads.IdleSince(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	log := observability.LoggerWithTrace(ctx)
	for _, th := range threads {
		for _, topic := range topicsOf(th) {
			if err := s.Consolidator.Consolidate(ctx, th.ID, topic); err != nil {
				log.Warn().Err(err).Str("thread_id", th.ID).Str("topic", topic).
					Msg("scheduler: forced consolidation failed")
			}
		}
		if err := s.Threads.Expire(ctx, th.ID); err != nil {
			log.Warn().Err(err).Str("thread_id", th.ID).Msg("scheduler: thread expire failed")
			continue
		}
		expired++
	}
	return expired, nil
}

// topicsOf returns every distinct topic a thread has ever held, current
// topic included. Pure, tested directly.
func topicsOf(th databases.Thread) []string {
	seen := make(map[string]bool, len(th.TopicHistory)+1)
	var out []string
	add := func(topic string) {
		if topic == "" || seen[topic] {
			return
		}
		seen[topic] = true
		out = append(out, topic)
	}
	for _, t := range th.TopicHistory {
		add(t)
	}
	add(th.CurrentTopic)
	return out
}

// Run blocks, calling RunOnce every interval until ctx is cancelled.
func (s *ThreadExpiryScheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := s.RunOnce(ctx)
			log := observability.LoggerWithTrace(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("scheduler: thread expiry pass failed")
				continue
			}
			if expired > 0 {
				log.Info().Int("expired", expired).Msg("scheduler: thread expiry pass complete")
			}
		}
	}
}
