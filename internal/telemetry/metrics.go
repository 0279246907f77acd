package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — набор Prometheus метрик контейнера.
//
// Все коллекторы регистрируются в переданном Registry, а не в
// глобальном: контейнер владеет своим Registry и снимает регистрацию
// при teardown (Close).
type Metrics struct {
	registry *prometheus.Registry

	// ResourcePushes — количество push'ей resource utilization в движок,
	// по измерениям (cpu/memory).
	ResourcePushes *prometheus.CounterVec

	// ResourceParseFailures — количество ошибок парсинга resource
	// quantity строк, по измерениям.
	ResourceParseFailures *prometheus.CounterVec

	// CPUAllocation — последняя отправленная доля CPU (в ядрах).
	CPUAllocation prometheus.Gauge

	// MemoryAllocation — последний отправленный бюджет памяти (в байтах).
	MemoryAllocation prometheus.Gauge

	// ReclaimedPaths — количество удалённых путей при reclaim.
	ReclaimedPaths prometheus.Counter

	// ReclaimErrors — количество ошибок удаления при reclaim.
	ReclaimErrors prometheus.Counter

	// FlowStatus — текущий статус flow (по одному gauge на статус, 0/1).
	FlowStatus *prometheus.GaugeVec
}

// NewMetrics создаёт метрики и регистрирует их в registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		ResourcePushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "container_resource_pushes_total",
			Help: "Number of resource utilization pushes to the flow runner.",
		}, []string{"dimension"}),
		ResourceParseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "container_resource_parse_failures_total",
			Help: "Number of malformed resource quantity strings.",
		}, []string{"dimension"}),
		CPUAllocation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "container_cpu_allocation_cores",
			Help: "Last CPU allocation pushed to the flow runner, in cores.",
		}),
		MemoryAllocation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "container_memory_allocation_bytes",
			Help: "Last memory allocation pushed to the flow runner, in bytes.",
		}),
		ReclaimedPaths: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "container_reclaimed_paths_total",
			Help: "Number of filesystem paths removed during cleanup.",
		}),
		ReclaimErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "container_reclaim_errors_total",
			Help: "Number of filesystem cleanup failures.",
		}),
		FlowStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "container_flow_status",
			Help: "Current flow status (1 for the active status, 0 otherwise).",
		}, []string{"status"}),
	}

	registry.MustRegister(
		m.ResourcePushes,
		m.ResourceParseFailures,
		m.CPUAllocation,
		m.MemoryAllocation,
		m.ReclaimedPaths,
		m.ReclaimErrors,
		m.FlowStatus,
	)

	return m
}

// SetFlowStatus выставляет gauge текущего статуса в 1, остальные — в 0.
func (m *Metrics) SetFlowStatus(status string) {
	m.FlowStatus.Reset()
	m.FlowStatus.WithLabelValues(status).Set(1)
}

// Unregister снимает регистрацию всех коллекторов контейнера.
// Идемпотентна: повторный вызов безопасен.
func (m *Metrics) Unregister() {
	m.registry.Unregister(m.ResourcePushes)
	m.registry.Unregister(m.ResourceParseFailures)
	m.registry.Unregister(m.CPUAllocation)
	m.registry.Unregister(m.MemoryAllocation)
	m.registry.Unregister(m.ReclaimedPaths)
	m.registry.Unregister(m.ReclaimErrors)
	m.registry.Unregister(m.FlowStatus)
}
