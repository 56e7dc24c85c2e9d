package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/yugalbansal1/eticket1/internal/domain"
	"github.com/yugalbansal1/eticket1/pkg/kafka"
	"github.com/yugalbansal1/eticket1/pkg/logger"
	"github.com/yugalbansal1/eticket1/pkg/retry"
	"go.uber.org/zap"
)

// EventPublisher publishes settlement events
type EventPublisher interface {
	PublishReservationCreated(ctx context.Context, res *domain.Reservation) error
	PublishReservationConfirmed(ctx context.Context, res *domain.Reservation) error
	PublishReservationReleased(ctx context.Context, res *domain.Reservation) error
	PublishTicketIssued(ctx context.Context, ticket *domain.Ticket) error
	PublishTicketStatusChanged(ctx context.Context, ticket *domain.Ticket) error
	PublishReconciliationAlert(ctx context.Context, alert *domain.ReconciliationAlert) error

	// Close closes the event publisher
	Close() error
}

// MessageProducer is the part of the Kafka producer the publisher needs
type MessageProducer interface {
	ProduceJSON(ctx context.Context, topic, key string, value interface{}, headers map[string]string) error
	Close()
}

// EventPublisherConfig contains configuration for the event publisher
type EventPublisherConfig struct {
	Brokers     []string
	Topic       string
	ServiceName string
	ClientID    string
	Retry       *retry.Config
	// DeadLetter parks events that exhausted their retries on <topic>.dlq
	DeadLetter bool
}

// KafkaEventPublisher implements EventPublisher using Kafka
type KafkaEventPublisher struct {
	producer    MessageProducer
	topic       string
	serviceName string
	retrier     *retry.Retrier
	dlq         retry.DLQPublisher
}

// NewKafkaEventPublisher creates a new Kafka event publisher
func NewKafkaEventPublisher(ctx context.Context, cfg *EventPublisherConfig) (*KafkaEventPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("event publisher config is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "eticket-settlement-producer"
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Brokers,
		ClientID:      clientID,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		LingerMs:      10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return NewEventPublisherWithProducer(producer, cfg), nil
}

// NewEventPublisherWithProducer wraps an existing producer
func NewEventPublisherWithProducer(producer MessageProducer, cfg *EventPublisherConfig) *KafkaEventPublisher {
	if cfg == nil {
		cfg = &EventPublisherConfig{}
	}
	topic := cfg.Topic
	if topic == "" {
		topic = "settlement-events"
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "eticket"
	}
	p := &KafkaEventPublisher{
		producer:    producer,
		topic:       topic,
		serviceName: serviceName,
		retrier:     retry.New(cfg.Retry),
	}
	if cfg.DeadLetter {
		p.dlq = retry.NewKafkaDLQPublisher(producer, serviceName)
	}
	return p
}

func (p *KafkaEventPublisher) PublishReservationCreated(ctx context.Context, res *domain.Reservation) error {
	return p.publish(ctx, domain.EventReservationCreated, res.TierID, res)
}

func (p *KafkaEventPublisher) PublishReservationConfirmed(ctx context.Context, res *domain.Reservation) error {
	return p.publish(ctx, domain.EventReservationConfirmed, res.TierID, res)
}

func (p *KafkaEventPublisher) PublishReservationReleased(ctx context.Context, res *domain.Reservation) error {
	return p.publish(ctx, domain.EventReservationReleased, res.TierID, res)
}

func (p *KafkaEventPublisher) PublishTicketIssued(ctx context.Context, ticket *domain.Ticket) error {
	return p.publish(ctx, domain.EventTicketIssued, ticket.TierID, ticket)
}

func (p *KafkaEventPublisher) PublishTicketStatusChanged(ctx context.Context, ticket *domain.Ticket) error {
	return p.publish(ctx, domain.EventTicketStatusChanged, ticket.TierID, ticket)
}

func (p *KafkaEventPublisher) PublishReconciliationAlert(ctx context.Context, alert *domain.ReconciliationAlert) error {
	return p.publish(ctx, domain.EventReconciliationAlert, alert.TierID, alert)
}

// Close closes the event publisher
func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		p.producer.Close()
	}
	return nil
}

// publish sends one event, retrying with backoff until ctx ends or retries run out
func (p *KafkaEventPublisher) publish(ctx context.Context, eventType domain.SettlementEventType, tierID string, data interface{}) error {
	event := &domain.SettlementEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Source:     p.serviceName,
		OccurredAt: time.Now().UTC(),
		TierID:     tierID,
		Data:       data,
	}

	headers := map[string]string{
		"event_type":   string(eventType),
		"event_id":     event.ID,
		"source":       p.serviceName,
		"content_type": "application/json",
	}

	result := p.retrier.Do(ctx, func(ctx context.Context) error {
		return p.producer.ProduceJSON(ctx, p.topic, event.Key(), event, headers)
	}, func(attempt int, err error, wait time.Duration) {
		logger.Get().Warn("Retrying settlement event publish",
			zap.String("event_type", string(eventType)),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if result.Err != nil {
		err := result.LastError
		if err == nil {
			err = result.Err
		}
		p.deadLetter(ctx, event, headers, result)
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}
	return nil
}

func (p *KafkaEventPublisher) deadLetter(ctx context.Context, event *domain.SettlementEvent, headers map[string]string, result *retry.Result) {
	if p.dlq == nil {
		return
	}
	msg, err := retry.NewDLQMessage(event.ID, p.topic, event.Key(), event, headers, result)
	if err == nil {
		err = p.dlq.PublishToDLQ(context.WithoutCancel(ctx), msg)
	}
	if err != nil {
		logger.Get().Error("Failed to dead-letter settlement event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		return
	}
	logger.Get().Warn("Settlement event moved to dead letter topic",
		zap.String("event_id", event.ID),
		zap.String("topic", p.dlq.GetDLQTopic(p.topic)),
	)
}

// NoOpEventPublisher is a no-op implementation of EventPublisher
type NoOpEventPublisher struct{}

// NewNoOpEventPublisher creates a new no-op event publisher
func NewNoOpEventPublisher() *NoOpEventPublisher {
	return &NoOpEventPublisher{}
}

func (p *NoOpEventPublisher) PublishReservationCreated(ctx context.Context, res *domain.Reservation) error {
	return nil
}

func (p *NoOpEventPublisher) PublishReservationConfirmed(ctx context.Context, res *domain.Reservation) error {
	return nil
}

func (p *NoOpEventPublisher) PublishReservationReleased(ctx context.Context, res *domain.Reservation) error {
	return nil
}

func (p *NoOpEventPublisher) PublishTicketIssued(ctx context.Context, ticket *domain.Ticket) error {
	return nil
}

func (p *NoOpEventPublisher) PublishTicketStatusChanged(ctx context.Context, ticket *domain.Ticket) error {
	return nil
}

func (p *NoOpEventPublisher) PublishReconciliationAlert(ctx context.Context, alert *domain.ReconciliationAlert) error {
	return nil
}

// Close is a no-op
func (p *NoOpEventPublisher) Close() error {
	return nil
}
