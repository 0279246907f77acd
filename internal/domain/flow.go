package domain

import "time"

// ExecutableFlow — один запуск flow, загруженный в контейнер.
//
// Контейнер процесса хостит ровно один ExecutableFlow: execution id
// назначается один раз внешним placement-слоем при submit и не меняется
// в течение всей жизни процесса.
type ExecutableFlow struct {
	// ExecID — уникальный идентификатор выполнения (immutable).
	ExecID int64 `json:"exec_id"`

	// FlowName — имя flow внутри проекта (например, "basic_flow").
	FlowName string `json:"flow_name"`

	// ProjectID — идентификатор проекта, которому принадлежит flow.
	ProjectID int64 `json:"project_id"`

	// ProjectVersion — версия проекта, зафиксированная при submit.
	ProjectVersion int `json:"project_version"`

	// Def — загруженное определение flow (граф jobs).
	// Заполняется контейнером после распаковки артефактов проекта.
	Def *FlowDef `json:"-"`

	// Status — текущий статус выполнения.
	Status FlowStatus `json:"status"`

	// SubmitUser — пользователь, отправивший flow на выполнение.
	SubmitUser string `json:"submit_user,omitempty"`

	// StartedAt / FinishedAt — времена начала и завершения выполнения.
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// FlowDef — определение flow: именованный граф jobs.
//
// Это "программа" контейнера — описание того, что движок выполнения
// должен запустить. Порядок обхода графа — зона ответственности
// движка, не контейнера.
type FlowDef struct {
	// Name — имя flow (совпадает с именем .flow файла).
	Name string `yaml:"name,omitempty"`

	// Nodes — jobs и их зависимости.
	Nodes []NodeDef `yaml:"nodes"`
}

// NodeDef — определение одного job внутри flow.
type NodeDef struct {
	// Name — уникальное имя job в рамках flow.
	// Используется в dependsOn и в job-событиях.
	Name string `yaml:"name"`

	// Type — тип job (например, "command", "noop").
	Type string `yaml:"type"`

	// DependsOn — имена jobs, от которых зависит этот job.
	DependsOn []string `yaml:"dependsOn,omitempty"`

	// Config — конфигурация job (зависит от типа).
	Config map[string]any `yaml:"config,omitempty"`
}

// ResourceAllocation — выданный контейнеру бюджет ресурсов.
//
// Значения производные: пересчитываются из окружения при каждом
// чтении и нигде не хранятся. Отсутствующее измерение НЕ имеет
// значения по умолчанию — соответствующий setter движка просто
// не вызывается.
type ResourceAllocation struct {
	// CPU — доля ядер (0.5 = половина ядра). Валидно только при HasCPU.
	CPU    float64 `json:"cpu,omitempty"`
	HasCPU bool    `json:"-"`

	// MemoryBytes — бюджет памяти в байтах. Валидно только при HasMemory.
	MemoryBytes int64 `json:"memory_bytes,omitempty"`
	HasMemory   bool  `json:"-"`
}
