package jobs

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/harvest"
	"github.com/Ramsey-B/mef/pkg/metrics"
	"github.com/Ramsey-B/mef/pkg/models"
	"github.com/Ramsey-B/mef/pkg/tracing"
)

// Harvester runs one (source, kind) harvest.
type Harvester interface {
	Harvest(ctx context.Context, source models.Source, kind models.Kind, from, until *time.Time) (*harvest.Report, error)
}

// Worker consumes a Queue and harvests each job.
type Worker struct {
	queue     Queue
	harvester Harvester
	logger    ectologger.Logger
}

func NewWorker(queue Queue, harvester Harvester, logger ectologger.Logger) *Worker {
	return &Worker{queue: queue, harvester: harvester, logger: logger}
}

// Run blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	return w.queue.Consume(ctx, w.Handle)
}

// Handle runs one job. Jobs that can never succeed (bad input, unknown feed)
// are reported and acknowledged; other failures are returned so the queue can
// deliver the job again.
func (w *Worker) Handle(ctx context.Context, job Job) error {
	ctx, span := tracing.StartSpan(ctx, "jobs.Worker.Handle")
	defer span.End()

	metrics.QueueJobsInFlight.Inc()
	defer metrics.QueueJobsInFlight.Dec()

	log := w.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id": job.ID,
		"source": job.Source,
		"kind":   job.Kind,
	})
	log.Info("Processing harvest job")

	start := time.Now()
	report, err := w.harvester.Harvest(ctx, job.Source, job.Kind, job.From, job.Until)
	if err != nil {
		if mefErrors.IsMisconfiguration(err) || mefErrors.IsInvalidInput(err) {
			metrics.RecordQueueJob("rejected")
			log.WithError(err).Error("Rejected harvest job")
			return nil
		}
		metrics.RecordQueueJob("failed")
		log.WithError(err).Error("Harvest job failed")
		return err
	}

	metrics.RecordQueueJob("success")
	log.WithFields(map[string]any{
		"windows":  len(report.Windows),
		"counters": report.Counters.Map(),
		"duration": time.Since(start).String(),
	}).Info("Harvest job completed")
	return nil
}
