package container

import "errors"

// Ошибки контейнера.
var (
	// ErrAlreadyStarted — повторный вызов Start.
	ErrAlreadyStarted = errors.New("container already started")

	// ErrClosed — операция на уже закрытом контейнере.
	ErrClosed = errors.New("container closed")

	// ErrNoRunnerFactory — конфигурация не содержит фабрики движка.
	ErrNoRunnerFactory = errors.New("no flow runner factory configured")

	// ErrNoExecutionLoader — конфигурация не содержит execution loader.
	ErrNoExecutionLoader = errors.New("no execution loader configured")

	// ErrNoProjectLoader — конфигурация не содержит project loader.
	ErrNoProjectLoader = errors.New("no project loader configured")

	// ErrNoArtifactFetcher — конфигурация не содержит artifact fetcher.
	ErrNoArtifactFetcher = errors.New("no artifact fetcher configured")

	// ErrCallbackNotInitialized — доступ к callback-подсистеме до её
	// одноразовой инициализации (флаг выключен или Start не выполнялся).
	ErrCallbackNotInitialized = errors.New("callback subsystem not initialized")

	// ErrExecutionFinished — выполнение уже в терминальном статусе;
	// повторный запуск запрещён.
	ErrExecutionFinished = errors.New("execution already finished")
)
