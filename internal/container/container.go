package container

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/automata-container/internal/callback"
	"github.com/shaiso/automata-container/internal/domain"
	"github.com/shaiso/automata-container/internal/flowdef"
	"github.com/shaiso/automata-container/internal/fsutil"
	"github.com/shaiso/automata-container/internal/mq"
	"github.com/shaiso/automata-container/internal/resource"
	"github.com/shaiso/automata-container/internal/telemetry"
)

// defaultReportSchedule — расписание reporting loop по умолчанию.
const defaultReportSchedule = "@every 30s"

// reportScheduleParser разбирает расписание reporting loop:
// стандартный cron или дескрипторы вида "@every 30s".
var reportScheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ExecutionLoader — loader состояния выполнения.
// Реализуется repo.ExecutionRepo; тесты подставляют fake.
type ExecutionLoader interface {
	FetchExecutableFlow(ctx context.Context, execID int64) (*domain.ExecutableFlow, error)
	UpdateStatus(ctx context.Context, execID int64, status domain.FlowStatus) error
	SetStartTime(ctx context.Context, execID int64, at time.Time) error
	SetEndTime(ctx context.Context, execID int64, at time.Time) error
}

// ProjectLoader — loader метаданных проектов.
// Реализуется repo.ProjectRepo.
type ProjectLoader interface {
	FetchProjectMetadata(ctx context.Context, projectID int64, version int) (*domain.ProjectMeta, error)
}

// ArtifactFetcher скачивает и распаковывает артефакты проекта.
// Реализуется storage.ArtifactStore.
type ArtifactFetcher interface {
	Download(ctx context.Context, meta *domain.ProjectMeta, dir string) error
}

// EventPublisher — транспорт flow- и job-событий.
// Реализуется mq.Publisher.
type EventPublisher interface {
	PublishFlowEvent(ctx context.Context, payload mq.FlowEventPayload) error
	PublishJobEvent(ctx context.Context, payload mq.JobEventPayload) error
}

// State — состояние жизненного цикла контейнера.
//
//	Created → Starting → Running → (Completed | Failed) → Closed
//
// Closed достижим из любого состояния: teardown не предполагает
// успешного старта.
type State string

const (
	StateCreated   State = "CREATED"
	StateStarting  State = "STARTING"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateClosed    State = "CLOSED"
)

// Config — конфигурация контейнера.
type Config struct {
	// ExecID — идентификатор выполнения, назначенный placement-слоем.
	ExecID int64

	// WorkDir — рабочая директория с артефактами flow.
	WorkDir string

	// EventReportingEnabled включает публикацию flow-событий.
	EventReportingEnabled bool

	// JobCallbackEnabled включает одноразовую инициализацию
	// callback-подсистемы job-событий. Default: false.
	JobCallbackEnabled bool

	// ReportSchedule — расписание resource reporting loop:
	// cron-выражение или "@every 30s" (default).
	ReportSchedule string

	// Loaders / collaborators.
	Executions ExecutionLoader
	Projects   ProjectLoader
	Artifacts  ArtifactFetcher
	NewRunner  RunnerFactory

	// Publisher — транспорт событий; nil отключает события и callbacks.
	Publisher EventPublisher

	// Conn — соединение с брокером для resize-уведомлений; nil —
	// reporting только по расписанию.
	Conn *mq.Connection

	// Environ — источник CPU_REQUEST/MEMORY_REQUEST.
	// Default: реальное окружение процесса.
	Environ resource.Environ

	// Registry — реестр метрик. Default: собственный Registry.
	Registry *prometheus.Registry

	// AdminAddr — адрес админ-сервера (/healthz, /metrics, /status);
	// пустая строка отключает сервер.
	AdminAddr string

	// Logger.
	Logger *slog.Logger
}

// Container — lifecycle manager одного выполнения flow.
//
// Контейнер:
//   - Загружает назначение и метаданные проекта
//   - Материализует артефакты и определение flow
//   - Опционально инициализирует callback-подсистему
//   - Запускает движок и ждёт завершения
//   - Периодически транслирует ресурсный бюджет в движок
//   - Детерминированно освобождает ресурсы при teardown
type Container struct {
	execID         int64
	workDir        string
	eventReporting bool
	jobCallback    bool
	reportSchedule cron.Schedule

	executions ExecutionLoader
	projects   ProjectLoader
	artifacts  ArtifactFetcher
	newRunner  RunnerFactory
	publisher  EventPublisher
	conn       *mq.Connection
	environ    resource.Environ

	registry *prometheus.Registry
	metrics  *telemetry.Metrics
	admin    *adminServer
	logger   *slog.Logger

	// Зеркало последних отправленных значений (для /status).
	alloc *UtilizationSink

	mu        sync.RWMutex
	state     State
	flow      *domain.ExecutableFlow
	runner    FlowRunner
	cb        *callback.Manager
	reclaimed bool

	cancelFunc     context.CancelFunc
	wg             sync.WaitGroup
	resizeConsumer *mq.Consumer

	done     chan struct{}
	doneOnce sync.Once
}

// New создаёт контейнер. Конфигурация без loader'ов или фабрики
// движка — ошибка программирования, не runtime-состояние.
func New(cfg Config) (*Container, error) {
	if cfg.Executions == nil {
		return nil, ErrNoExecutionLoader
	}
	if cfg.Projects == nil {
		return nil, ErrNoProjectLoader
	}
	if cfg.Artifacts == nil {
		return nil, ErrNoArtifactFetcher
	}
	if cfg.NewRunner == nil {
		return nil, ErrNoRunnerFactory
	}

	scheduleExpr := cfg.ReportSchedule
	if scheduleExpr == "" {
		scheduleExpr = defaultReportSchedule
	}
	schedule, err := reportScheduleParser.Parse(scheduleExpr)
	if err != nil {
		return nil, fmt.Errorf("parse report schedule %q: %w", scheduleExpr, err)
	}

	environ := cfg.Environ
	if environ == nil {
		environ = resource.OSEnviron{}
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = telemetry.WithExecID(logger, cfg.ExecID)

	return &Container{
		execID:         cfg.ExecID,
		workDir:        cfg.WorkDir,
		eventReporting: cfg.EventReportingEnabled,
		jobCallback:    cfg.JobCallbackEnabled,
		reportSchedule: schedule,
		executions:     cfg.Executions,
		projects:       cfg.Projects,
		artifacts:      cfg.Artifacts,
		newRunner:      cfg.NewRunner,
		publisher:      cfg.Publisher,
		conn:           cfg.Conn,
		environ:        environ,
		registry:       registry,
		metrics:        telemetry.NewMetrics(registry),
		logger:         logger,
		alloc:          &UtilizationSink{},
		state:          StateCreated,
		done:           make(chan struct{}),
		admin:          newAdminServer(cfg.AdminAddr),
	}, nil
}

// Start загружает flow и передаёт его движку.
//
// Возвращается, когда движок принял flow к выполнению, а не когда
// flow завершился. Ошибки загрузки (loader, артефакты, определение)
// фатальны: поверхность ошибки — caller, без повторов.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateCreated:
		c.state = StateStarting
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	default:
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.mu.Unlock()

	c.logger.Info("starting flow container", "workdir", c.workDir)

	flow, err := c.executions.FetchExecutableFlow(ctx, c.execID)
	if err != nil {
		c.failStartup(nil, err)
		return fmt.Errorf("fetch executable flow: %w", err)
	}
	if flow.Status.IsTerminal() {
		// Повторная диспетчеризация уже завершённого выполнения.
		err := fmt.Errorf("%w: status %s", ErrExecutionFinished, flow.Status)
		c.failStartup(nil, err)
		return err
	}

	logger := telemetry.WithProjectID(c.logger, flow.ProjectID)

	c.mu.Lock()
	c.flow = flow
	c.mu.Unlock()

	c.persistStatus(ctx, flow, domain.FlowStatusPreparing)

	meta, err := c.projects.FetchProjectMetadata(ctx, flow.ProjectID, flow.ProjectVersion)
	if err != nil {
		c.failStartup(flow, err)
		return fmt.Errorf("fetch project metadata: %w", err)
	}

	if err := c.artifacts.Download(ctx, meta, c.workDir); err != nil {
		c.failStartup(flow, err)
		return fmt.Errorf("download project artifacts: %w", err)
	}

	def, err := flowdef.Load(c.workDir, flow.FlowName)
	if err != nil {
		c.failStartup(flow, err)
		return fmt.Errorf("load flow definition: %w", err)
	}
	flow.Def = def

	c.initCallback(flow)

	runner, err := c.newRunner(flow, c.logger)
	if err != nil {
		c.failStartup(flow, err)
		return fmt.Errorf("construct flow runner: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.state == StateClosed {
		// Close пришёл во время подготовки.
		c.mu.Unlock()
		cancel()
		return ErrClosed
	}
	c.runner = runner
	c.cancelFunc = cancel
	c.state = StateRunning
	// Учёт run- и report-горутин до выхода из критической секции:
	// wg.Add не должен гнаться с wg.Wait в Close.
	c.wg.Add(2)
	c.mu.Unlock()

	now := time.Now().UTC()
	flow.StartedAt = &now
	flow.Status = domain.FlowStatusRunning
	c.persistStatus(ctx, flow, domain.FlowStatusRunning)
	if err := c.executions.SetStartTime(ctx, c.execID, now); err != nil {
		c.logger.Warn("failed to persist start time", "error", err)
	}
	c.publishFlowEvent(ctx, flow, domain.FlowStatusRunning, "")

	// Первый push до запуска reporting loop: движок получает бюджет
	// сразу, а не через один период расписания.
	c.SetResourceUtilization()

	go func() {
		defer c.wg.Done()
		c.finalize(runner.Run(runCtx))
	}()

	go func() {
		defer c.wg.Done()
		c.reportLoop(runCtx)
	}()

	c.startResizeConsumer(runCtx)
	c.startAdmin()

	logger.Info("flow accepted for execution",
		"flow", flow.FlowName,
		"project_version", flow.ProjectVersion,
	)
	return nil
}

// SetResourceUtilization читает CPU_REQUEST и MEMORY_REQUEST и
// транслирует их в resource sink движка.
//
// Операция идемпотентна и не имеет памяти между вызовами:
//   - отсутствующая переменная — измерение не отправляется вовсе
//     (default движка сохраняется);
//   - ошибка парсинга — измерение пропускается в этом вызове, второе
//     измерение обрабатывается независимо.
//
// Вызывается reporting loop'ом по расписанию и по resize-уведомлению;
// пригодна и для прямого вызова.
func (c *Container) SetResourceUtilization() {
	c.mu.RLock()
	runner := c.runner
	c.mu.RUnlock()

	if runner == nil {
		return
	}
	sink := runner.ResourceSink()
	if sink == nil {
		return
	}

	if raw, ok := c.environ.Lookup(resource.EnvCPURequest); ok {
		cores, err := resource.ParseCPU(raw)
		if err != nil {
			c.logger.Warn("malformed CPU_REQUEST, skipping dimension", "value", raw, "error", err)
			c.metrics.ResourceParseFailures.WithLabelValues(string(resource.DimensionCPU)).Inc()
		} else {
			sink.SetCPUUtilization(cores)
			c.alloc.SetCPUUtilization(cores)
			c.metrics.CPUAllocation.Set(cores)
			c.metrics.ResourcePushes.WithLabelValues(string(resource.DimensionCPU)).Inc()
		}
	}

	if raw, ok := c.environ.Lookup(resource.EnvMemoryRequest); ok {
		bytes, err := resource.ParseMemory(raw)
		if err != nil {
			c.logger.Warn("malformed MEMORY_REQUEST, skipping dimension", "value", raw, "error", err)
			c.metrics.ResourceParseFailures.WithLabelValues(string(resource.DimensionMemory)).Inc()
		} else {
			sink.SetMemoryUtilization(bytes)
			c.alloc.SetMemoryUtilization(bytes)
			c.metrics.MemoryAllocation.Set(float64(bytes))
			c.metrics.ResourcePushes.WithLabelValues(string(resource.DimensionMemory)).Inc()
		}
	}
}

// Close освобождает monitoring/management ресурсы контейнера.
//
// Единственный переход в Closed; достижим из любого состояния,
// включая частично выполненный Start. Ошибки teardown логируются и
// не пробрасываются: teardown всегда доходит до конца. Повторный
// вызов безопасен.
func (c *Container) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = StateClosed
	cancel := c.cancelFunc
	consumer := c.resizeConsumer
	c.mu.Unlock()

	c.logger.Info("closing container", "from_state", prev)

	if cancel != nil {
		cancel()
	}
	if consumer != nil {
		consumer.Stop()
	}

	c.wg.Wait()

	if c.admin != nil {
		if err := c.admin.Shutdown(); err != nil {
			c.logger.Warn("admin server shutdown failed", "error", err)
		}
	}
	if c.metrics != nil {
		c.metrics.Unregister()
	}

	c.reclaimWorkDir()
	c.markDone()

	c.logger.Info("container closed")
}

// Done возвращает канал, закрываемый после финализации flow
// (или после Close, если flow не стартовал).
func (c *Container) Done() <-chan struct{} {
	return c.done
}

// State возвращает текущее состояние жизненного цикла.
func (c *Container) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Flow возвращает загруженный flow (nil до Start).
func (c *Container) Flow() *domain.ExecutableFlow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.flow
}

// Allocation возвращает последнюю отправленную аллокацию ресурсов.
func (c *Container) Allocation() domain.ResourceAllocation {
	return c.alloc.Snapshot()
}

// CallbackInitialized сообщает, прошла ли callback-подсистема свою
// одноразовую инициализацию.
func (c *Container) CallbackInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cb != nil
}

// Callback возвращает callback-подсистему.
// До инициализации — ErrCallbackNotInitialized.
func (c *Container) Callback() (*callback.Manager, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cb == nil {
		return nil, ErrCallbackNotInitialized
	}
	return c.cb, nil
}

// --- Внутренние шаги жизненного цикла ---

// initCallback выполняет одноразовую инициализацию callback-подсистемы,
// если она включена конфигурацией.
func (c *Container) initCallback(flow *domain.ExecutableFlow) {
	if !c.jobCallback {
		return
	}
	if c.publisher == nil {
		c.logger.Warn("job callbacks enabled but no event publisher configured")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cb != nil {
		return
	}
	c.cb = callback.NewManager(callback.Config{
		ExecID:    c.execID,
		FlowName:  flow.FlowName,
		Publisher: c.publisher,
		Logger:    c.logger,
	})
	c.logger.Info("job callback subsystem initialized")
}

// finalize фиксирует исход выполнения flow и освобождает рабочую
// директорию. Вызывается ровно один раз из run-горутины.
func (c *Container) finalize(runErr error) {
	status := domain.FlowStatusSucceeded
	errMsg := ""
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		status = domain.FlowStatusKilled
	default:
		status = domain.FlowStatusFailed
		errMsg = runErr.Error()
	}

	// runCtx к этому моменту может быть отменён: финализация идёт
	// на собственном bounded-контексте.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.mu.Lock()
	flow := c.flow
	if flow != nil {
		now := time.Now().UTC()
		flow.FinishedAt = &now
		flow.Status = status
	}
	if c.state == StateRunning {
		if status == domain.FlowStatusSucceeded {
			c.state = StateCompleted
		} else {
			c.state = StateFailed
		}
	}
	c.mu.Unlock()

	c.persistStatus(ctx, flow, status)
	if flow != nil && flow.FinishedAt != nil {
		if err := c.executions.SetEndTime(ctx, c.execID, *flow.FinishedAt); err != nil {
			c.logger.Warn("failed to persist end time", "error", err)
		}
	}
	c.publishFlowEvent(ctx, flow, status, errMsg)
	c.reclaimWorkDir()
	c.markDone()

	if runErr != nil && status == domain.FlowStatusFailed {
		c.logger.Error("flow execution failed", "error", runErr)
	} else {
		c.logger.Info("flow execution finished", "status", status)
	}
}

// failStartup фиксирует фатальную ошибку подготовки.
// Teardown остаётся обязанностью caller'а (Close).
func (c *Container) failStartup(flow *domain.ExecutableFlow, err error) {
	c.mu.Lock()
	if c.state == StateStarting {
		c.state = StateFailed
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.persistStatus(ctx, flow, domain.FlowStatusFailed)
	c.publishFlowEvent(ctx, flow, domain.FlowStatusFailed, err.Error())
	c.markDone()

	c.logger.Error("container startup failed", "error", err)
}

// persistStatus записывает статус выполнения best-effort: сбой записи
// логируется и не прерывает жизненный цикл.
func (c *Container) persistStatus(ctx context.Context, flow *domain.ExecutableFlow, status domain.FlowStatus) {
	c.metrics.SetFlowStatus(string(status))

	if flow == nil {
		return
	}
	if err := c.executions.UpdateStatus(ctx, c.execID, status); err != nil {
		c.logger.Warn("failed to persist flow status", "status", status, "error", err)
	}
}

// publishFlowEvent публикует flow-событие, если reporting включён.
func (c *Container) publishFlowEvent(ctx context.Context, flow *domain.ExecutableFlow, status domain.FlowStatus, errMsg string) {
	if !c.eventReporting || c.publisher == nil || flow == nil {
		return
	}

	payload := mq.FlowEventPayload{
		ExecID:    c.execID,
		ProjectID: flow.ProjectID,
		FlowName:  flow.FlowName,
		Status:    string(status),
		Error:     errMsg,
		At:        time.Now().UTC(),
	}
	if err := c.publisher.PublishFlowEvent(ctx, payload); err != nil {
		c.logger.Warn("failed to publish flow event", "status", status, "error", err)
	}
}

// reportLoop периодически транслирует ресурсный бюджет в движок.
// Не блокируется движком: общение идёт только через resource sink.
func (c *Container) reportLoop(ctx context.Context) {
	for {
		next := c.reportSchedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			c.SetResourceUtilization()
		}
	}
}

// startResizeConsumer подписывается на resize-уведомления, если
// есть соединение с брокером.
func (c *Container) startResizeConsumer(ctx context.Context) {
	if c.conn == nil {
		return
	}

	queue, err := mq.DeclareResizeQueue(c.conn, c.execID)
	if err != nil {
		c.logger.Warn("failed to declare resize queue, schedule-only reporting", "error", err)
		return
	}

	consumer := mq.NewConsumer(c.conn, c.logger, mq.ConsumerConfig{
		Queue:   string(queue),
		Handler: c.handleResize,
	})

	c.mu.Lock()
	if c.state == StateClosed {
		// Close успел раньше: новый consumer уже никому не нужен.
		c.mu.Unlock()
		return
	}
	c.resizeConsumer = consumer
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("resize consumer error", "error", err)
		}
	}()
}

// handleResize обрабатывает одно resize-уведомление: перечитывает
// окружение вне расписания.
func (c *Container) handleResize(_ context.Context, msg *mq.Delivery) error {
	if msg.Message.Type != mq.MessageTypeContainerResize {
		c.logger.Warn("unexpected message type on resize queue", "type", msg.Message.Type)
		return nil
	}

	var payload mq.ResizePayload
	if err := json.Unmarshal(msg.Message.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal resize payload: %w", err)
	}

	if payload.ExecID != c.execID {
		c.logger.Warn("resize notification for another execution", "their_exec_id", payload.ExecID)
		return nil
	}

	c.logger.Info("resize notification received, re-reading resource grants")
	c.SetResourceUtilization()
	return nil
}

// reclaimWorkDir symlink-safe освобождает рабочую директорию.
// Идемпотентна в рамках процесса.
func (c *Container) reclaimWorkDir() {
	if c.workDir == "" {
		return
	}

	c.mu.Lock()
	if c.reclaimed {
		c.mu.Unlock()
		return
	}
	c.reclaimed = true
	c.mu.Unlock()

	removed, err := fsutil.CleanDir(c.workDir)
	c.metrics.ReclaimedPaths.Add(float64(removed))
	if err != nil {
		c.metrics.ReclaimErrors.Inc()
		c.logger.Warn("working directory reclaim incomplete",
			"dir", c.workDir,
			"removed", removed,
			"error", err,
		)
		return
	}
	c.logger.Info("working directory reclaimed", "dir", c.workDir, "removed", removed)
}

// markDone закрывает done-канал (не более одного раза).
func (c *Container) markDone() {
	c.doneOnce.Do(func() {
		close(c.done)
	})
}
