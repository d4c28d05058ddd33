package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/mef/pkg/jobs"
	"github.com/Ramsey-B/mef/pkg/models"
	"github.com/Ramsey-B/mef/pkg/routes"
	"github.com/Ramsey-B/mef/pkg/scheduler"
)

const shutdownTimeout = 30 * time.Second

func (c *cli) serveCommand() *cobra.Command {
	var noSchedule, noWorker, runNow bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the ops server, the harvest schedule and the job workers",
		Long: `Serves /health, /ready and /metrics on OPS_PORT, dispatches every configured
feed on HARVEST_SCHEDULE and runs the harvest jobs.

With Kafka enabled jobs go through KAFKA_JOBS_TOPIC keyed by source, so several
serve processes share the work. Without Kafka each source gets an in-process
queue and worker.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return c.withApp(ctx, func(ctx context.Context, a *app) error {
				return serve(ctx, a, !noSchedule, !noWorker, runNow)
			})
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&noSchedule, "no-schedule", false, "do not dispatch harvests on the schedule")
	flags.BoolVar(&noWorker, "no-worker", false, "do not consume harvest jobs")
	flags.BoolVar(&runNow, "run-now", false, "dispatch every feed once at startup")
	return cmd
}

func serve(ctx context.Context, a *app, schedule, work, runNow bool) error {
	log := a.logger.WithContext(ctx)
	g, gctx := errgroup.WithContext(ctx)

	e, err := routes.New(a.cfg.AppName, a.checker, a.logger)
	if err != nil {
		return err
	}
	addr := fmt.Sprintf(":%d", a.cfg.OpsPort)
	g.Go(func() error {
		log.Infof("Ops server listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	dispatch, queues, err := a.jobQueues()
	if err != nil {
		return err
	}
	if work {
		for _, q := range queues {
			worker := jobs.NewWorker(q, a.harvester, a.logger)
			g.Go(func() error {
				if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		}
	}

	sched := scheduler.New(a.sources, dispatch, scheduler.Config{
		Schedule:    a.cfg.HarvestSchedule,
		Parallelism: a.cfg.HarvestParallelism,
	}, a.logger)
	if schedule {
		if err := sched.Start(gctx); err != nil {
			return err
		}
		log.Infof("Next harvest at %s", sched.Next().Format(time.RFC3339))
	}
	if runNow {
		g.Go(func() error {
			if err := sched.RunAll(gctx); err != nil {
				log.WithError(err).Warn("Initial dispatch finished with errors")
			}
			return nil
		})
	}

	a.checker.SetReady(true)
	<-gctx.Done()
	a.checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("Failed to stop scheduler")
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Failed to stop ops server")
	}
	for _, q := range queues {
		if _, local := q.(*jobs.LocalQueue); local {
			_ = q.Close()
		}
	}
	return g.Wait()
}

// jobQueues returns the dispatcher the scheduler publishes through and the
// queues the workers consume. Kafka keeps one shared topic; otherwise every
// source gets its own local queue so sources harvest in parallel and the jobs
// of one source stay in order.
func (a *app) jobQueues() (scheduler.Dispatcher, []jobs.Queue, error) {
	if a.jobsOut != nil {
		q, err := a.jobQueue()
		if err != nil {
			return nil, nil, err
		}
		dispatch := func(ctx context.Context, source models.Source, kind models.Kind) error {
			return q.Publish(ctx, jobs.NewJob(source, kind, nil, nil))
		}
		return dispatch, []jobs.Queue{q}, nil
	}

	local := map[models.Source]*jobs.LocalQueue{}
	var queues []jobs.Queue
	for _, group := range scheduler.Feeds(a.sources) {
		q := jobs.NewLocalQueue(len(group)*4, a.logger)
		local[group[0].Source] = q
		queues = append(queues, q)
	}
	dispatch := func(ctx context.Context, source models.Source, kind models.Kind) error {
		q, ok := local[source]
		if !ok {
			return fmt.Errorf("no job queue for source %s", source)
		}
		return q.Publish(ctx, jobs.NewJob(source, kind, nil, nil))
	}
	return dispatch, queues, nil
}
