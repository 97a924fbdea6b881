package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"debate-arena/internal/clock"
	"debate-arena/internal/config"
	"debate-arena/internal/observability"
	"debate-arena/internal/store"

	"github.com/rs/zerolog"
)

var ErrNoHandler = errors.New("no_handler")

// JobStore persists scheduled jobs. Claimed jobs are leased so that a crashed
// runner's work is picked up again once the lease lapses.
type JobStore interface {
	InsertJob(ctx context.Context, job store.ScheduledJob) error
	ClaimDueJobs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]store.ScheduledJob, error)
	CompleteJob(ctx context.Context, id string) error
	RetryJob(ctx context.Context, id string, fireAt time.Time, lastErr string) error
	FailJob(ctx context.Context, id string, lastErr string) error
}

// Handler runs one job. A returned error reschedules the job with backoff.
type Handler func(ctx context.Context, payload json.RawMessage) error

type Options struct {
	PollInterval time.Duration
	Batch        int
	RetryMax     int
	RetryBase    time.Duration
	Lease        time.Duration
}

func OptionsFromConfig(cfg config.SchedulerConfig) Options {
	return Options{
		PollInterval: time.Duration(cfg.PollMS) * time.Millisecond,
		Batch:        cfg.Batch,
		RetryMax:     cfg.RetryMax,
		RetryBase:    time.Duration(cfg.RetryBaseMS) * time.Millisecond,
		Lease:        time.Duration(cfg.LeaseMS) * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.Batch <= 0 {
		o.Batch = 50
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 5
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	if o.Lease <= 0 {
		o.Lease = time.Minute
	}
	return o
}

// Scheduler fires persisted one-shot jobs at or after their fire time. Jobs
// survive restarts; a job that runs after its state moved on is expected to
// no-op in its handler.
type Scheduler struct {
	jobs  JobStore
	clock clock.Clock
	opts  Options
	log   zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	runMu   sync.Mutex
	wake    chan struct{}
	started atomic.Bool
}

func New(jobs JobStore, clk clock.Clock, opts Options, logger zerolog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.System{}
	}
	return &Scheduler{
		jobs:     jobs,
		clock:    clk,
		opts:     opts.withDefaults(),
		log:      logger.With().Str("component", "scheduler").Logger(),
		handlers: map[string]Handler{},
		wake:     make(chan struct{}, 1),
	}
}

func (s *Scheduler) Handle(kind string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

// Schedule persists a job of kind that fires at fireAt with payload encoded as
// JSON. Once Start has been called a near-term job also wakes the run loop at
// its fire time instead of waiting for the next poll.
func (s *Scheduler) Schedule(ctx context.Context, kind string, fireAt time.Time, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	job := store.ScheduledJob{ID: store.NewID(), Kind: kind, Payload: raw, FireAt: fireAt.UTC()}
	if err := s.jobs.InsertJob(ctx, job); err != nil {
		return fmt.Errorf("schedule %s: %w", kind, err)
	}
	observability.JobsScheduled.WithLabelValues(kind).Inc()
	if s.started.Load() {
		delay := fireAt.Sub(s.clock.Now())
		if delay < 0 {
			delay = 0
		}
		if delay < s.opts.PollInterval*4 {
			time.AfterFunc(delay, s.nudge)
		}
	}
	return nil
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// RunDue claims and runs every job due at the clock's current time, one batch
// at a time, and returns how many jobs it ran.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	total := 0
	for {
		now := s.clock.Now()
		jobs, err := s.jobs.ClaimDueJobs(ctx, now, s.opts.Batch, s.opts.Lease)
		if err != nil {
			return total, fmt.Errorf("claim due jobs: %w", err)
		}
		for _, job := range jobs {
			s.run(ctx, job)
		}
		total += len(jobs)
		if len(jobs) < s.opts.Batch || ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

func (s *Scheduler) run(ctx context.Context, job store.ScheduledJob) {
	s.mu.RLock()
	h := s.handlers[job.Kind]
	s.mu.RUnlock()

	logger := s.log.With().Str("job_id", job.ID).Str("kind", job.Kind).Int("attempt", job.Attempts).Logger()
	if h == nil {
		logger.Error().Msg("no handler registered for job kind")
		observability.JobsCompleted.WithLabelValues(job.Kind, "failed").Inc()
		if err := s.jobs.FailJob(ctx, job.ID, ErrNoHandler.Error()); err != nil {
			logger.Error().Err(err).Msg("mark job failed")
		}
		return
	}

	err := safeCall(ctx, h, job.Payload)
	if err == nil {
		observability.JobsCompleted.WithLabelValues(job.Kind, "done").Inc()
		if err := s.jobs.CompleteJob(ctx, job.ID); err != nil {
			logger.Error().Err(err).Msg("mark job done")
		}
		return
	}

	if job.Attempts >= s.opts.RetryMax {
		logger.Error().Err(err).Msg("job failed permanently")
		observability.JobsCompleted.WithLabelValues(job.Kind, "failed").Inc()
		if ferr := s.jobs.FailJob(ctx, job.ID, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("mark job failed")
		}
		return
	}
	delay := s.backoff(job.Attempts)
	logger.Warn().Err(err).Dur("retry_in", delay).Msg("job failed, retrying")
	observability.JobsCompleted.WithLabelValues(job.Kind, "retry").Inc()
	if rerr := s.jobs.RetryJob(ctx, job.ID, s.clock.Now().Add(delay), err.Error()); rerr != nil {
		logger.Error().Err(rerr).Msg("reschedule job")
	}
}

func (s *Scheduler) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	return s.opts.RetryBase * time.Duration(1<<(attempt-1))
}

func safeCall(ctx context.Context, h Handler, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, json.RawMessage(payload))
}

// Start runs due jobs on every poll tick and whenever a scheduled job's fire
// time arrives, until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.started.Store(true)
	ticker := time.NewTicker(s.opts.PollInterval)
	go func() {
		defer ticker.Stop()
		defer s.started.Store(false)
		s.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			case <-s.wake:
				s.tick(ctx)
			}
		}
	}()
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunDue(ctx); err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("run due jobs")
	}
}
