package viaf

import (
	"context"
	"sync"
	"time"

	"github.com/Ramsey-B/mef/pkg/cluster"
	"github.com/Ramsey-B/mef/pkg/kafka"
	"github.com/Ramsey-B/mef/pkg/metrics"
	"github.com/Ramsey-B/mef/pkg/models"
)

// Op is the kind of a VIAF delta.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Delta is one pending VIAF change.
type Delta struct {
	Op      Op                       `json:"op"`
	Pid     string                   `json:"pid"`
	Sources map[models.Source]string `json:"sources,omitempty"`
}

func (d Delta) Row() Row {
	return Row{Pid: d.Pid, Sources: d.Sources}
}

// Queue holds VIAF deltas until the next harvest window drains them.
type Queue interface {
	Push(ctx context.Context, d Delta) error
	// Drain hands every pending delta to fn in push order. A delta fn fails on
	// stays queued.
	Drain(ctx context.Context, fn func(context.Context, Delta) error) (int, error)
}

// Apply runs one delta.
func (s *Service) Apply(ctx context.Context, d Delta) (models.Action, *cluster.Outcome, error) {
	apply := s.Ingest
	if d.Op == OpDelete {
		apply = func(ctx context.Context, row Row) (models.Action, *cluster.Outcome, error) {
			return s.Delete(ctx, row.Pid)
		}
	}
	action, out, err := apply(ctx, d.Row())
	if err == nil {
		metrics.RecordViafDelta(string(action))
	}
	return action, out, err
}

// MemoryQueue is an in-process Queue.
type MemoryQueue struct {
	mu      sync.Mutex
	pending []Delta
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(_ context.Context, d Delta) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, d)
	return nil
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemoryQueue) Drain(ctx context.Context, fn func(context.Context, Delta) error) (int, error) {
	n := 0
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return n, nil
		}
		d := q.pending[0]
		q.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := fn(ctx, d); err != nil {
			return n, err
		}

		q.mu.Lock()
		q.pending = q.pending[1:]
		q.mu.Unlock()
		n++
	}
}

// KafkaQueue keeps deltas on a topic keyed by VIAF pid.
type KafkaQueue struct {
	producer *kafka.Producer
	consumer *kafka.Consumer
	idle     time.Duration
}

// NewKafkaQueue drains until no delta arrives within idle.
func NewKafkaQueue(producer *kafka.Producer, consumer *kafka.Consumer, idle time.Duration) *KafkaQueue {
	if idle <= 0 {
		idle = 2 * time.Second
	}
	return &KafkaQueue{producer: producer, consumer: consumer, idle: idle}
}

func (q *KafkaQueue) Push(ctx context.Context, d Delta) error {
	return q.producer.PublishJSON(ctx, d.Pid, d, map[string]string{kafka.HeaderType: "viaf." + string(d.Op)})
}

func (q *KafkaQueue) Drain(ctx context.Context, fn func(context.Context, Delta) error) (int, error) {
	return q.consumer.Drain(ctx, q.idle, func(ctx context.Context, msg *kafka.Message) error {
		var d Delta
		if err := msg.Decode(&d); err != nil {
			// Undecodable deltas are committed and dropped.
			return nil
		}
		return fn(ctx, d)
	})
}

func (q *KafkaQueue) Close() error {
	perr := q.producer.Close()
	if err := q.consumer.Stop(); err != nil {
		return err
	}
	return perr
}
