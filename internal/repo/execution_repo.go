package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/automata-container/internal/domain"
)

// ExecutionRepo — loader состояния выполнения.
//
// Контейнер читает своё назначение один раз при старте, дальше —
// только пишет статус и времена (write-only в нормальной работе).
type ExecutionRepo struct {
	pool *pgxpool.Pool
}

// NewExecutionRepo создаёт новый ExecutionRepo.
func NewExecutionRepo(pool *pgxpool.Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

// FetchExecutableFlow возвращает назначенный контейнеру flow.
func (r *ExecutionRepo) FetchExecutableFlow(ctx context.Context, execID int64) (*domain.ExecutableFlow, error) {
	query := `
		SELECT exec_id, flow_name, project_id, project_version, status,
		       submit_user, started_at, finished_at
		FROM executions
		WHERE exec_id = $1
	`

	var flow domain.ExecutableFlow
	var submitUser *string

	err := r.pool.QueryRow(ctx, query, execID).Scan(
		&flow.ExecID,
		&flow.FlowName,
		&flow.ProjectID,
		&flow.ProjectVersion,
		&flow.Status,
		&submitUser,
		&flow.StartedAt,
		&flow.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("execution %d: %w", execID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch executable flow: %w", err)
	}

	if submitUser != nil {
		flow.SubmitUser = *submitUser
	}

	return &flow, nil
}

// UpdateStatus записывает новый статус выполнения.
// Терминальные статусы неизменяемы: попытка перезаписать — ErrInvalidState.
func (r *ExecutionRepo) UpdateStatus(ctx context.Context, execID int64, status domain.FlowStatus) error {
	query := `
		UPDATE executions
		SET status = $2
		WHERE exec_id = $1
		  AND status NOT IN ('SUCCEEDED', 'FAILED', 'KILLED')
	`
	result, err := r.pool.Exec(ctx, query, execID, status)
	if err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}
	if result.RowsAffected() == 0 {
		var current domain.FlowStatus
		scanErr := r.pool.QueryRow(ctx,
			`SELECT status FROM executions WHERE exec_id = $1`, execID,
		).Scan(&current)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return fmt.Errorf("execution %d: %w", execID, ErrNotFound)
		}
		if scanErr != nil {
			return fmt.Errorf("fetch execution status: %w", scanErr)
		}
		return fmt.Errorf("execution %d is already %s: %w", execID, current, ErrInvalidState)
	}
	return nil
}

// SetStartTime фиксирует начало выполнения.
func (r *ExecutionRepo) SetStartTime(ctx context.Context, execID int64, at time.Time) error {
	return r.setTime(ctx, execID, "started_at", at)
}

// SetEndTime фиксирует завершение выполнения.
func (r *ExecutionRepo) SetEndTime(ctx context.Context, execID int64, at time.Time) error {
	return r.setTime(ctx, execID, "finished_at", at)
}

func (r *ExecutionRepo) setTime(ctx context.Context, execID int64, column string, at time.Time) error {
	// column — одно из двух фиксированных имён, не пользовательский ввод.
	query := fmt.Sprintf(`UPDATE executions SET %s = $2 WHERE exec_id = $1`, column)

	result, err := r.pool.Exec(ctx, query, execID, at.UTC())
	if err != nil {
		return fmt.Errorf("set %s: %w", column, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("execution %d: %w", execID, ErrNotFound)
	}
	return nil
}
