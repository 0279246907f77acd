// Package telemetry обеспечивает наблюдаемость контейнера.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики
//
// Метрики регистрируются в Registry, которым владеет контейнер,
// и экспортируются на /metrics endpoint админ-сервера.
package telemetry
