package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/shaiso/automata-container/internal/callback"
	"github.com/shaiso/automata-container/internal/container"
	"github.com/shaiso/automata-container/internal/domain"
	"github.com/shaiso/automata-container/internal/telemetry"
)

// Config — конфигурация runner'а.
type Config struct {
	// Flow — выполнение с загруженным определением.
	Flow *domain.ExecutableFlow

	// Callbacks — подсистема job-событий; nil отключает уведомления.
	Callbacks *callback.Manager

	// Logger.
	Logger *slog.Logger
}

// Runner — минимальный in-process движок: выполняет узлы определения
// в порядке зависимостей, по одному за раз.
type Runner struct {
	flow      *domain.ExecutableFlow
	callbacks *callback.Manager
	logger    *slog.Logger
	sink      *container.UtilizationSink
}

// New создаёт Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Flow == nil || cfg.Flow.Def == nil {
		return nil, ErrNoDefinition
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		flow:      cfg.Flow,
		callbacks: cfg.Callbacks,
		logger:    logger,
		sink:      &container.UtilizationSink{},
	}, nil
}

// ResourceSink возвращает приёмник ресурсного бюджета.
// Движок читает последние значения между узлами.
func (r *Runner) ResourceSink() container.ResourceSink {
	return r.sink
}

// Run выполняет все узлы определения и возвращает первую ошибку.
// Отмена ctx прерывает текущий узел и останавливает flow.
func (r *Runner) Run(ctx context.Context) error {
	order, err := executionOrder(r.flow.Def)
	if err != nil {
		return err
	}

	for _, node := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runNode(ctx, node); err != nil {
			return err
		}
	}
	return nil
}

// runNode выполняет один узел и уведомляет callback-подсистему.
func (r *Runner) runNode(ctx context.Context, node domain.NodeDef) error {
	logger := telemetry.WithJobID(r.logger, node.Name)
	logger.Info("job started", "type", node.Type)
	r.notifyStarted(ctx, node.Name)

	err := r.execute(ctx, node)
	if err != nil {
		logger.Error("job failed", "error", err)
		r.notifyFailed(ctx, node.Name, err)
		return fmt.Errorf("node %s: %w", node.Name, err)
	}

	logger.Info("job succeeded")
	r.notifySucceeded(ctx, node.Name)
	return nil
}

// execute выполняет полезную нагрузку узла.
func (r *Runner) execute(ctx context.Context, node domain.NodeDef) error {
	switch node.Type {
	case "command":
		return r.runCommand(ctx, node)
	case "noop", "":
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownNodeType, node.Type)
	}
}

// runCommand запускает shell-команду узла.
func (r *Runner) runCommand(ctx context.Context, node domain.NodeDef) error {
	raw, ok := node.Config["command"]
	if !ok {
		return ErrNoCommand
	}
	command, ok := raw.(string)
	if !ok || command == "" {
		return ErrNoCommand
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("command failed: %w, output: %s", err, out)
	}
	return nil
}

func (r *Runner) notifyStarted(ctx context.Context, jobID string) {
	if r.callbacks == nil {
		return
	}
	_ = r.callbacks.NotifyJobStarted(ctx, jobID)
}

func (r *Runner) notifySucceeded(ctx context.Context, jobID string) {
	if r.callbacks == nil {
		return
	}
	_ = r.callbacks.NotifyJobSucceeded(ctx, jobID)
}

func (r *Runner) notifyFailed(ctx context.Context, jobID string, err error) {
	if r.callbacks == nil {
		return
	}
	_ = r.callbacks.NotifyJobFailed(ctx, jobID, err.Error())
}

// executionOrder строит порядок выполнения узлов (алгоритм Кана).
// Определение уже валидировано на ацикличность; цикл здесь означает
// рассинхронизацию с валидацией.
func executionOrder(def *domain.FlowDef) ([]domain.NodeDef, error) {
	indegree := make(map[string]int, len(def.Nodes))
	dependents := make(map[string][]string, len(def.Nodes))
	byName := make(map[string]domain.NodeDef, len(def.Nodes))

	for _, node := range def.Nodes {
		byName[node.Name] = node
		indegree[node.Name] += 0
		for _, dep := range node.DependsOn {
			indegree[node.Name]++
			dependents[dep] = append(dependents[dep], node.Name)
		}
	}

	// Узлы без зависимостей идут в порядке объявления.
	var queue []string
	for _, node := range def.Nodes {
		if indegree[node.Name] == 0 {
			queue = append(queue, node.Name)
		}
	}

	order := make([]domain.NodeDef, 0, len(def.Nodes))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, byName[name])

		for _, next := range dependents[name] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(def.Nodes) {
		return nil, ErrCyclicDefinition
	}
	return order, nil
}
