// Package jobs queues harvest jobs and runs them through the harvester.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/kafka"
	"github.com/Ramsey-B/mef/pkg/models"
)

var (
	// ErrQueueClosed is returned when publishing to a closed queue
	ErrQueueClosed = errors.New("job queue closed")

	validate = validator.New()
)

// JobTypeHarvest is the type header of harvest job messages.
const JobTypeHarvest = "mef.harvest"

// Job asks for one (source, kind) harvest. Nil bounds fall back to the
// harvester defaults.
type Job struct {
	ID          string        `json:"id" validate:"required"`
	Source      models.Source `json:"source" validate:"required,oneof=gnd idref rero"`
	Kind        models.Kind   `json:"kind" validate:"required,oneof=agents concepts places"`
	From        *time.Time    `json:"from,omitempty"`
	Until       *time.Time    `json:"until,omitempty"`
	ScheduledAt time.Time     `json:"scheduled_at"`
}

// NewJob stamps a job with a fresh id.
func NewJob(source models.Source, kind models.Kind, from, until *time.Time) Job {
	return Job{
		ID:          uuid.NewString(),
		Source:      source,
		Kind:        kind,
		From:        from,
		Until:       until,
		ScheduledAt: time.Now().UTC(),
	}
}

// Validate checks the job fields and its bounds.
func (j Job) Validate() error {
	if err := validate.Struct(j); err != nil {
		return mefErrors.Wrap(mefErrors.CodeInvalidInput, err, "invalid harvest job")
	}
	if j.From != nil && j.Until != nil && !j.From.Before(*j.Until) {
		return mefErrors.New(mefErrors.CodeInvalidInput, "harvest job from must be before until")
	}
	return nil
}

// Handler runs one job.
type Handler func(ctx context.Context, job Job) error

// Queue carries harvest jobs. Jobs of one source are handled in publish order.
type Queue interface {
	Publish(ctx context.Context, job Job) error
	// Consume hands jobs to fn until ctx is done.
	Consume(ctx context.Context, fn Handler) error
	Close() error
}

// LocalQueue is an in-process Queue backed by a buffered channel.
type LocalQueue struct {
	mu     sync.RWMutex
	jobs   chan Job
	closed bool
	logger ectologger.Logger
}

func NewLocalQueue(size int, logger ectologger.Logger) *LocalQueue {
	if size <= 0 {
		size = 64
	}
	return &LocalQueue{jobs: make(chan Job, size), logger: logger}
}

func (q *LocalQueue) Publish(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume runs jobs one at a time. A failed job is logged and dropped.
func (q *LocalQueue) Consume(ctx context.Context, fn Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-q.jobs:
			if !ok {
				return nil
			}
			if err := fn(ctx, job); err != nil {
				q.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
					"job_id": job.ID,
					"source": job.Source,
					"kind":   job.Kind,
				}).Error("Harvest job failed")
			}
		}
	}
}

// Len is the number of queued jobs.
func (q *LocalQueue) Len() int {
	return len(q.jobs)
}

func (q *LocalQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	return nil
}

// KafkaQueue publishes jobs keyed by source so one partition, and therefore one
// consumer, sees all jobs of a source in order.
type KafkaQueue struct {
	producer *kafka.Producer
	consumer kafka.ConsumerConfig
	logger   ectologger.Logger
}

func NewKafkaQueue(producer *kafka.Producer, consumer kafka.ConsumerConfig, logger ectologger.Logger) *KafkaQueue {
	return &KafkaQueue{producer: producer, consumer: consumer, logger: logger}
}

func (q *KafkaQueue) Publish(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	return q.producer.PublishJSON(ctx, string(job.Source), job, map[string]string{
		kafka.HeaderType: JobTypeHarvest,
	})
}

// Consume blocks until ctx is done. Failed jobs are not committed.
func (q *KafkaQueue) Consume(ctx context.Context, fn Handler) error {
	consumer := kafka.NewConsumer(q.consumer, q.logger, func(ctx context.Context, msg *kafka.Message) error {
		var job Job
		if err := msg.Decode(&job); err != nil {
			q.logger.WithContext(ctx).WithError(err).Warn("Dropping undecodable harvest job")
			return nil
		}
		if err := job.Validate(); err != nil {
			q.logger.WithContext(ctx).WithError(err).Warn("Dropping invalid harvest job")
			return nil
		}
		return fn(ctx, job)
	})
	if err := consumer.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	if err := consumer.Stop(); err != nil {
		return err
	}
	return ctx.Err()
}

func (q *KafkaQueue) Close() error {
	return q.producer.Close()
}
