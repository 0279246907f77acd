// Automata Container — выполняет ровно один flow.
//
// Контейнер:
//   - Загружает назначенное выполнение и метаданные проекта из Postgres
//   - Скачивает и распаковывает артефакты проекта из объектного хранилища
//   - Запускает движок и сопровождает выполнение до конца
//   - Транслирует ресурсный бюджет окружения в движок
//   - Детерминированно освобождает ресурсы при завершении
//
// Один процесс — одно выполнение; масштабирование — задача
// placement-слоя, запускающего контейнеры.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/automata-container/internal/container"
	"github.com/shaiso/automata-container/internal/domain"
	"github.com/shaiso/automata-container/internal/engine"
	"github.com/shaiso/automata-container/internal/mq"
	"github.com/shaiso/automata-container/internal/repo"
	"github.com/shaiso/automata-container/internal/storage"
	"github.com/shaiso/automata-container/internal/telemetry"
)

type options struct {
	execID         int64
	workDir        string
	adminAddr      string
	reportSchedule string
	eventReporting bool
	jobCallbacks   bool
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:   "automata-container",
		Short: "Runs a single Automata flow execution to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
		SilenceUsage: true,
	}

	flags := root.Flags()
	flags.Int64Var(&opts.execID, "exec-id", envInt64("EXEC_ID", 0), "execution id assigned by the placement layer")
	flags.StringVar(&opts.workDir, "workdir", envString("WORK_DIR", "/var/lib/automata/flow"), "working directory for project artifacts")
	flags.StringVar(&opts.adminAddr, "admin-addr", envString("ADMIN_ADDR", ":8086"), "admin server address, empty disables it")
	flags.StringVar(&opts.reportSchedule, "report-schedule", envString("REPORT_SCHEDULE", ""), "resource reporting schedule, cron or @every form")
	flags.BoolVar(&opts.eventReporting, "enable-event-reporting", envBool("EVENT_REPORTING_ENABLED"), "publish flow lifecycle events to the broker")
	flags.BoolVar(&opts.jobCallbacks, "enable-job-callbacks", envBool("JOB_CALLBACK_ENABLED"), "initialize the job callback subsystem")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting automata-container", "exec_id", opts.execID)

	if opts.execID <= 0 {
		logger.Error("exec id is required")
		return fmt.Errorf("exec id is required")
	}

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return err
	}
	defer pool.Close()
	logger.Info("database connected")

	executions := repo.NewExecutionRepo(pool)
	projects := repo.NewProjectRepo(pool)

	// Объектное хранилище артефактов
	artifacts, err := storage.New(storage.ConfigFromEnv(), logger)
	if err != nil {
		logger.Error("failed to init artifact store", "error", err)
		return err
	}

	// RabbitMQ: без брокера контейнер работает, но без событий и
	// resize-уведомлений
	var publisher *mq.Publisher
	var mqConn *mq.Connection
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err = mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running without events", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Создаём контейнер; фабрика движка подключает callback-подсистему,
	// когда та инициализирована
	var ctr *container.Container
	newRunner := func(flow *domain.ExecutableFlow, runnerLogger *slog.Logger) (container.FlowRunner, error) {
		cfg := engine.Config{Flow: flow, Logger: runnerLogger}
		if cb, cbErr := ctr.Callback(); cbErr == nil {
			cfg.Callbacks = cb
		}
		return engine.New(cfg)
	}

	cfg := container.Config{
		ExecID:                opts.execID,
		WorkDir:               opts.workDir,
		EventReportingEnabled: opts.eventReporting,
		JobCallbackEnabled:    opts.jobCallbacks,
		ReportSchedule:        opts.reportSchedule,
		Executions:            executions,
		Projects:              projects,
		Artifacts:             artifacts,
		NewRunner:             newRunner,
		Conn:                  mqConn,
		AdminAddr:             opts.adminAddr,
		Logger:                logger,
	}
	if publisher != nil {
		cfg.Publisher = publisher
	}

	ctr, err = container.New(cfg)
	if err != nil {
		logger.Error("failed to create container", "error", err)
		return err
	}

	if err := ctr.Start(ctx); err != nil {
		logger.Error("failed to start container", "error", err)
		ctr.Close()
		return err
	}

	// Ожидаем завершение flow или сигнал остановки
	select {
	case <-ctr.Done():
	case <-ctx.Done():
	}

	ctr.Close()
	logger.Info("automata-container stopped")
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "true" || v == "1"
}
