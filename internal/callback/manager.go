package callback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/automata-container/internal/domain"
	"github.com/shaiso/automata-container/internal/mq"
)

// Publisher — транспорт job-событий.
// Реализуется mq.Publisher; тесты подставляют fake.
type Publisher interface {
	PublishJobEvent(ctx context.Context, payload mq.JobEventPayload) error
}

// Manager — callback-подсистема job-событий.
//
// Опциональная фича: создаётся контейнером не более одного раза за
// жизнь процесса и только при включённом jobcallback-флаге. Пока
// флаг выключен, подсистемы не существует вовсе.
type Manager struct {
	execID   int64
	flowName string

	publisher Publisher
	logger    *slog.Logger
}

// Config — конфигурация Manager.
type Config struct {
	ExecID    int64
	FlowName  string
	Publisher Publisher
	Logger    *slog.Logger
}

// NewManager создаёт callback-подсистему для одного выполнения.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		execID:    cfg.ExecID,
		flowName:  cfg.FlowName,
		publisher: cfg.Publisher,
		logger:    logger,
	}
}

// NotifyJobStatus публикует событие смены статуса job.
//
// Ошибка доставки не прерывает выполнение flow: callback — best-effort
// канал для внешних подписчиков, не часть контракта выполнения.
func (m *Manager) NotifyJobStatus(ctx context.Context, jobID string, status domain.JobStatus, jobErr string) error {
	payload := mq.JobEventPayload{
		ExecID:   m.execID,
		FlowName: m.flowName,
		JobID:    jobID,
		Status:   string(status),
		Error:    jobErr,
		At:       time.Now().UTC(),
	}

	if err := m.publisher.PublishJobEvent(ctx, payload); err != nil {
		m.logger.Warn("job callback delivery failed",
			"job_id", jobID,
			"status", status,
			"error", err,
		)
		return fmt.Errorf("publish job event: %w", err)
	}

	// Терминальные статусы заметнее промежуточных.
	if status.IsTerminal() {
		m.logger.Info("job callback delivered",
			"job_id", jobID,
			"status", status,
		)
	} else {
		m.logger.Debug("job callback delivered",
			"job_id", jobID,
			"status", status,
		)
	}
	return nil
}

// NotifyJobStarted — событие начала job.
func (m *Manager) NotifyJobStarted(ctx context.Context, jobID string) error {
	return m.NotifyJobStatus(ctx, jobID, domain.JobStatusStarted, "")
}

// NotifyJobSucceeded — событие успешного завершения job.
func (m *Manager) NotifyJobSucceeded(ctx context.Context, jobID string) error {
	return m.NotifyJobStatus(ctx, jobID, domain.JobStatusSucceeded, "")
}

// NotifyJobFailed — событие неуспешного завершения job.
func (m *Manager) NotifyJobFailed(ctx context.Context, jobID string, jobErr string) error {
	return m.NotifyJobStatus(ctx, jobID, domain.JobStatusFailed, jobErr)
}
