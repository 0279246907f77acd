package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeFlowEvent       MessageType = "event.flow"
	MessageTypeJobEvent        MessageType = "event.job"
	MessageTypeContainerResize MessageType = "container.resize"
)

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload json.RawMessage `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// FlowEventPayload — payload flow-события.
type FlowEventPayload struct {
	ExecID    int64     `json:"exec_id"`
	ProjectID int64     `json:"project_id"`
	FlowName  string    `json:"flow_name"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// JobEventPayload — payload job-события (callback-подсистема).
type JobEventPayload struct {
	ExecID   int64     `json:"exec_id"`
	FlowName string    `json:"flow_name"`
	JobID    string    `json:"job_id"`
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// ResizePayload — payload уведомления о пересмотре ресурсного бюджета.
// Само новое значение контейнер перечитывает из окружения.
type ResizePayload struct {
	ExecID int64 `json:"exec_id"`
}

// Publisher публикует сообщения контейнера в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	msg := &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   rawPayload,
		Timestamp: time.Now(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // событие переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishFlowEvent публикует flow-событие.
// Потребитель: monitoring-подсистема платформы.
func (p *Publisher) PublishFlowEvent(ctx context.Context, payload FlowEventPayload) error {
	return p.Publish(ctx, ExchangeEvents, RoutingKeyFlow, MessageTypeFlowEvent, payload)
}

// PublishJobEvent публикует job-событие.
// Потребитель: callback-подсистема платформы.
func (p *Publisher) PublishJobEvent(ctx context.Context, payload JobEventPayload) error {
	return p.Publish(ctx, ExchangeEvents, RoutingKeyJob, MessageTypeJobEvent, payload)
}
