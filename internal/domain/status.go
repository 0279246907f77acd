package domain

// FlowStatus — статус выполнения flow в контейнере.
//
// Жизненный цикл:
//
//	READY → PREPARING → RUNNING → SUCCEEDED
//	                            ↘ FAILED
//	                   (или) → KILLED (по сигналу остановки)
type FlowStatus string

const (
	// FlowStatusReady — flow принят, контейнер ещё не начал подготовку.
	FlowStatusReady FlowStatus = "READY"

	// FlowStatusPreparing — контейнер загружает артефакты и определение flow.
	FlowStatusPreparing FlowStatus = "PREPARING"

	// FlowStatusRunning — движок выполняет flow.
	FlowStatusRunning FlowStatus = "RUNNING"

	// FlowStatusSucceeded — flow успешно завершён.
	FlowStatusSucceeded FlowStatus = "SUCCEEDED"

	// FlowStatusFailed — flow завершился с ошибкой.
	FlowStatusFailed FlowStatus = "FAILED"

	// FlowStatusKilled — выполнение прервано остановкой контейнера.
	FlowStatusKilled FlowStatus = "KILLED"
)

// IsTerminal возвращает true, если статус финальный (flow завершён).
func (s FlowStatus) IsTerminal() bool {
	switch s {
	case FlowStatusSucceeded, FlowStatusFailed, FlowStatusKilled:
		return true
	default:
		return false
	}
}

// JobStatus — статус одного job внутри flow.
//
// Используется в job-событиях callback-подсистемы; полный граф
// состояний job ведёт движок выполнения.
type JobStatus string

const (
	// JobStatusStarted — job начал выполняться.
	JobStatusStarted JobStatus = "STARTED"

	// JobStatusSucceeded — job успешно завершён.
	JobStatusSucceeded JobStatus = "SUCCEEDED"

	// JobStatusFailed — job завершился с ошибкой.
	JobStatusFailed JobStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed:
		return true
	default:
		return false
	}
}
