package container

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/shaiso/automata-container/internal/domain"
)

// FlowRunner — движок выполнения flow.
//
// Движок — внешний компонент: он сам планирует обход графа jobs и
// владеет собственной конкуррентностью. Контейнер видит только эту
// границу: запустить, дождаться, передавать ресурсные сигналы.
type FlowRunner interface {
	// Run выполняет flow до завершения. Отмена ctx — команда kill;
	// семантику прерывания движок реализует сам.
	Run(ctx context.Context) error

	// ResourceSink возвращает приёмник ресурсных сигналов движка.
	ResourceSink() ResourceSink
}

// ResourceSink — приёмник resource utilization сигналов.
//
// Пишет одна горутина (reporting loop контейнера), читают
// monitoring-коллабораторы движка. Измерения независимы: кратковременная
// рассинхронизация cpu и memory допустима.
type ResourceSink interface {
	SetCPUUtilization(cores float64)
	SetMemoryUtilization(bytes int64)
}

// RunnerFactory создаёт движок, привязанный к загруженному flow.
type RunnerFactory func(flow *domain.ExecutableFlow, logger *slog.Logger) (FlowRunner, error)

// UtilizationSink — атомарная реализация ResourceSink.
//
// Используется контейнером как зеркало последних отправленных значений
// (для /status) и годится движкам как готовый sink: single writer,
// many readers, по измерению на атомик.
type UtilizationSink struct {
	cpu    atomic.Uint64 // биты float64
	mem    atomic.Int64
	hasCPU atomic.Bool
	hasMem atomic.Bool
}

// SetCPUUtilization реализует ResourceSink.
func (s *UtilizationSink) SetCPUUtilization(cores float64) {
	s.cpu.Store(math.Float64bits(cores))
	s.hasCPU.Store(true)
}

// SetMemoryUtilization реализует ResourceSink.
func (s *UtilizationSink) SetMemoryUtilization(bytes int64) {
	s.mem.Store(bytes)
	s.hasMem.Store(true)
}

// CPUUtilization возвращает последнее записанное значение CPU.
// ok=false — значение ни разу не отправлялось.
func (s *UtilizationSink) CPUUtilization() (cores float64, ok bool) {
	if !s.hasCPU.Load() {
		return 0, false
	}
	return math.Float64frombits(s.cpu.Load()), true
}

// MemoryUtilization возвращает последнее записанное значение памяти.
func (s *UtilizationSink) MemoryUtilization() (bytes int64, ok bool) {
	if !s.hasMem.Load() {
		return 0, false
	}
	return s.mem.Load(), true
}

// Snapshot возвращает текущую аллокацию как единое значение.
// Межизмеренческая согласованность не гарантируется.
func (s *UtilizationSink) Snapshot() domain.ResourceAllocation {
	var alloc domain.ResourceAllocation
	alloc.CPU, alloc.HasCPU = s.CPUUtilization()
	alloc.MemoryBytes, alloc.HasMemory = s.MemoryUtilization()
	return alloc
}
