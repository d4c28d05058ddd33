// Package scheduler triggers harvests on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/mef/config"
	"github.com/Ramsey-B/mef/pkg/models"
	"github.com/Ramsey-B/mef/pkg/tracing"
)

var (
	// ErrSchedulerAlreadyRunning is returned when Start is called twice
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
)

const (
	// DefaultSchedule runs every night at 02:00
	DefaultSchedule = "0 2 * * *"

	// DefaultParallelism is the number of sources harvested at once
	DefaultParallelism = 3
)

// Dispatcher starts the harvest of one (source, kind). It either harvests
// inline or enqueues a job.
type Dispatcher func(ctx context.Context, source models.Source, kind models.Kind) error

// Config holds scheduler configuration
type Config struct {
	// Standard five field cron expression
	Schedule string

	// Number of sources dispatched concurrently
	Parallelism int
}

// Feed is one configured (source, kind) pair.
type Feed struct {
	Source models.Source
	Kind   models.Kind
}

// Scheduler dispatches every configured feed on each cron tick. Sources run in
// parallel; the kinds of one source run one after another.
type Scheduler struct {
	sources  config.Sources
	dispatch Dispatcher
	config   Config
	logger   ectologger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func New(sources config.Sources, dispatch Dispatcher, cfg Config, logger ectologger.Logger) *Scheduler {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	return &Scheduler{
		sources:  sources,
		dispatch: dispatch,
		config:   cfg,
		logger:   logger,
	}
}

// Feeds lists the configured pairs grouped by source, in source then kind order.
func Feeds(sources config.Sources) [][]Feed {
	names := make([]models.Source, 0, len(sources))
	for source := range sources {
		names = append(names, source)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	var out [][]Feed
	for _, source := range names {
		var feeds []Feed
		for _, kind := range models.Kinds {
			if _, _, ok := sources.Feed(source, kind); ok {
				feeds = append(feeds, Feed{Source: source, Kind: kind})
			}
		}
		if len(feeds) > 0 {
			out = append(out, feeds)
		}
	}
	return out
}

// RunAll dispatches every feed once and waits. A failing source does not stop
// the others; the first error is returned.
func (s *Scheduler) RunAll(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.RunAll")
	defer span.End()

	start := time.Now()
	g := new(errgroup.Group)
	g.SetLimit(s.config.Parallelism)

	for _, feeds := range Feeds(s.sources) {
		g.Go(func() error {
			var first error
			for _, feed := range feeds {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log := s.logger.WithContext(ctx).WithFields(map[string]any{
					"source": feed.Source,
					"kind":   feed.Kind,
				})
				if err := s.dispatch(ctx, feed.Source, feed.Kind); err != nil {
					log.WithError(err).Error("Failed to dispatch harvest")
					if first == nil {
						first = err
					}
					continue
				}
				log.Debug("Dispatched harvest")
			}
			return first
		})
	}

	err := g.Wait()
	s.logger.WithContext(ctx).Infof("Scheduling cycle completed: duration=%s", time.Since(start))
	return err
}

// Start registers the schedule and starts the cron runner. Ticks that fire while
// the previous cycle still runs are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerAlreadyRunning
	}

	logger := cronLogger{logger: s.logger}
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))
	if _, err := c.AddFunc(s.config.Schedule, func() {
		if err := s.RunAll(ctx); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Scheduled harvest finished with errors")
		}
	}); err != nil {
		return err
	}
	c.Start()

	s.cron = c
	s.running = true
	s.logger.WithContext(ctx).Infof("Scheduler started: schedule=%q parallelism=%d", s.config.Schedule, s.config.Parallelism)
	return nil
}

// Stop stops the cron runner and waits for a running cycle until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	c := s.cron
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping scheduler...")
	select {
	case <-c.Stop().Done():
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Next is the next scheduled run, or the zero time when stopped.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil || !s.running {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// cronLogger routes cron's logging through ectologger.
type cronLogger struct {
	logger ectologger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(keysAndValues []any) map[string]any {
	out := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			out[key] = keysAndValues[i+1]
		}
	}
	return out
}
