package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	// ExchangeEvents — события выполнения (flow- и job-уровня).
	ExchangeEvents Exchange = "automata.events"

	// ExchangeContainers — управляющие сообщения для контейнеров.
	ExchangeContainers Exchange = "automata.containers"
)

// Queues — имена очередей.
const (
	// QueueFlowEvents — flow-события; потребитель: monitoring-подсистема.
	QueueFlowEvents Queue = "events.flow"

	// QueueJobEvents — job-события; потребитель: callback-подсистема платформы.
	QueueJobEvents Queue = "events.job"
)

// Routing keys.
const (
	RoutingKeyFlow RoutingKey = "flow"
	RoutingKeyJob  RoutingKey = "job"
)

// ResizeQueue возвращает имя resize-очереди контейнера.
// Очередь индивидуальна для каждого выполнения: контейнеры не должны
// конкурировать за чужие уведомления.
func ResizeQueue(execID int64) Queue {
	return Queue(fmt.Sprintf("containers.resize.%d", execID))
}

// ResizeRoutingKey возвращает routing key resize-уведомлений контейнера.
func ResizeRoutingKey(execID int64) RoutingKey {
	return RoutingKey(fmt.Sprintf("resize.%d", execID))
}

// SetupTopology объявляет exchanges, очереди и привязки контейнера.
// Объявления идемпотентны, поэтому каждый контейнер может безопасно
// выполнять их при старте.
func SetupTopology(conn *Connection) error {
	return conn.WithChannel(func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeEvents, "direct"},
		{ExchangeContainers, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// DeclareResizeQueue объявляет resize-очередь этого выполнения и
// привязывает её к automata.containers. Очередь auto-delete: живёт,
// пока жив контейнер.
func DeclareResizeQueue(conn *Connection, execID int64) (Queue, error) {
	queue := ResizeQueue(execID)

	err := conn.WithChannel(func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclare(
			string(queue), // name
			false,         // durable
			true,          // delete when unused
			false,         // exclusive
			false,         // no-wait
			nil,           // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}

		err = ch.QueueBind(
			string(queue),
			string(ResizeRoutingKey(execID)),
			string(ExchangeContainers),
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return queue, nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	queues := []Queue{
		QueueFlowEvents,
		QueueJobEvents,
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q), // name
			true,      // durable
			false,     // delete when unused
			false,     // exclusive
			false,     // no-wait
			nil,       // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueFlowEvents, RoutingKeyFlow, ExchangeEvents},
		{QueueJobEvents, RoutingKeyJob, ExchangeEvents},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}
