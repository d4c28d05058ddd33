// Package events publishes MEF cluster changes.
package events

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/mef/pkg/cluster"
	"github.com/Ramsey-B/mef/pkg/kafka"
	"github.com/Ramsey-B/mef/pkg/metrics"
	"github.com/Ramsey-B/mef/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// ClusterEvent is the payload of one cluster change.
type ClusterEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Kind      string          `json:"kind"`
	Pid       string          `json:"pid"`
	Into      string          `json:"into,omitempty"`
	Source    string          `json:"source,omitempty"`
	SourcePid string          `json:"source_pid,omitempty"`
	Sources   []string        `json:"sources,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Sink receives committed cluster changes.
type Sink interface {
	Emit(ctx context.Context, changes []cluster.Change) error
}

// Noop discards changes.
type Noop struct{}

func (Noop) Emit(context.Context, []cluster.Change) error { return nil }

// Emitter publishes cluster changes to Kafka, keyed by cluster so that the changes
// of one cluster stay ordered.
type Emitter struct {
	publisher kafka.Publisher
	topic     string
	logger    ectologger.Logger
	now       func() time.Time
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher kafka.Publisher, topic string, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		topic:     topic,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Emit publishes changes in one batch.
func (e *Emitter) Emit(ctx context.Context, changes []cluster.Change) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.Emit")
	defer span.End()

	if len(changes) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(changes))
	for _, change := range changes {
		event, err := e.event(change)
		if err != nil {
			return err
		}
		value, err := json.Marshal(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   event.Kind + ":" + event.Pid,
			Value: value,
			Headers: map[string]string{
				kafka.HeaderType:   event.EventType,
				kafka.HeaderSchema: SchemaVersion,
				"kind":             event.Kind,
			},
		})
	}

	if err := e.publisher.Publish(ctx, msgs...); err != nil {
		metrics.RecordKafkaPublish(e.topic, "error")
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"events": len(msgs),
		}).Error("Failed to emit cluster events")
		return err
	}
	metrics.RecordKafkaPublish(e.topic, "success")
	return nil
}

func (e *Emitter) event(change cluster.Change) (*ClusterEvent, error) {
	event := &ClusterEvent{
		ID:        uuid.NewString(),
		EventType: string(change.Type),
		Kind:      string(change.Kind),
		Pid:       change.Pid,
		Into:      change.Into,
		Source:    string(change.Source),
		SourcePid: change.SourcePid,
		Timestamp: e.now(),
	}
	if change.Cluster != nil {
		data, err := json.Marshal(change.Cluster.View())
		if err != nil {
			return nil, err
		}
		event.Data = data
		for source := range cluster.Refs(change.Cluster) {
			event.Sources = append(event.Sources, string(source))
		}
		sort.Strings(event.Sources)
	}
	return event, nil
}
