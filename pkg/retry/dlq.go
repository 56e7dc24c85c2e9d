package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultDLQSuffix is appended to the original topic to name its dead letter topic
const DefaultDLQSuffix = ".dlq"

// DLQMessage is a message that could not be delivered after all retries
type DLQMessage struct {
	ID            string            `json:"id"`
	OriginalTopic string            `json:"original_topic"`
	OriginalKey   string            `json:"original_key"`
	Payload       json.RawMessage   `json:"payload"`
	Headers       map[string]string `json:"headers,omitempty"`
	// Error is the error returned by the last attempt
	Error          string    `json:"error"`
	Attempts       int       `json:"attempts"`
	FirstAttemptAt time.Time `json:"first_attempt_at"`
	MovedToDLQAt   time.Time `json:"moved_to_dlq_at"`
	Source         string    `json:"source"`
}

// NewDLQMessage builds a dead letter from a failed retry loop
func NewDLQMessage(id, topic, key string, value interface{}, headers map[string]string, result *Result) (*DLQMessage, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dead letter payload: %w", err)
	}

	msg := &DLQMessage{
		ID:            id,
		OriginalTopic: topic,
		OriginalKey:   key,
		Payload:       payload,
		Headers:       headers,
	}
	if result != nil {
		msg.Attempts = result.Attempts
		msg.FirstAttemptAt = time.Now().Add(-result.Duration)
		switch {
		case result.LastError != nil:
			msg.Error = result.LastError.Error()
		case result.Err != nil:
			msg.Error = result.Err.Error()
		}
	}
	return msg, nil
}

// DLQPublisher parks messages that exhausted their retries
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg *DLQMessage) error
	GetDLQTopic(originalTopic string) string
}

// JSONProducer is the producer call the Kafka dead letter publisher needs
type JSONProducer interface {
	ProduceJSON(ctx context.Context, topic, key string, value interface{}, headers map[string]string) error
}

// KafkaDLQPublisher writes dead letters to <topic>.dlq
type KafkaDLQPublisher struct {
	producer JSONProducer
	suffix   string
	source   string
}

// NewKafkaDLQPublisher creates a dead letter publisher on top of producer
func NewKafkaDLQPublisher(producer JSONProducer, source string) *KafkaDLQPublisher {
	return &KafkaDLQPublisher{
		producer: producer,
		suffix:   DefaultDLQSuffix,
		source:   source,
	}
}

// PublishToDLQ publishes msg once; a dead letter that cannot be written is reported, not retried
func (p *KafkaDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	if msg == nil {
		return fmt.Errorf("DLQ message cannot be nil")
	}

	msg.MovedToDLQAt = time.Now().UTC()
	msg.Source = p.source

	headers := map[string]string{
		"content_type":   "application/json",
		"original_topic": msg.OriginalTopic,
		"error":          msg.Error,
		"attempts":       fmt.Sprintf("%d", msg.Attempts),
		"source":         msg.Source,
	}
	for k, v := range msg.Headers {
		if _, exists := headers[k]; !exists {
			headers["original_"+k] = v
		}
	}

	return p.producer.ProduceJSON(ctx, p.GetDLQTopic(msg.OriginalTopic), msg.OriginalKey, msg, headers)
}

// GetDLQTopic returns the dead letter topic for originalTopic
func (p *KafkaDLQPublisher) GetDLQTopic(originalTopic string) string {
	return originalTopic + p.suffix
}
