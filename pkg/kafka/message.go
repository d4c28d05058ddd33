// Package kafka wraps segmentio/kafka-go for the MEF work, VIAF delta and event
// topics.
package kafka

import (
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderType        = "type"
	HeaderTraceParent = "traceparent"
	HeaderSchema      = "schema_version"
)

// Message is one record read from or written to a topic.
type Message struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
}

// Decode unmarshals the message value into v.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Value, v)
}

func (m Message) toKafka(topic string) kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(m.Key),
		Value:   m.Value,
		Headers: headers,
	}
}

func fromKafka(msg kafka.Message) *Message {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &Message{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
