// Package mq — транспорт событий контейнера поверх RabbitMQ.
//
// Контейнер публикует flow- и job-события в automata.events и
// потребляет уведомления о resize из containers.resize.
//
// Топология:
//
//	automata.events (direct)
//	├── events.flow [routing: flow]   — monitoring-подсистема
//	└── events.job  [routing: job]    — callback-подсистема
//
//	automata.containers (direct)
//	└── containers.resize.<execID> [routing: resize.<execID>] — контейнер
package mq
