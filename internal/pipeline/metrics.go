// metrics.go — Prometheus метрики конвейера импорта.
// Регистрирует метрики: di_jobs_*, di_queue_depth, di_imports_completed_total,
// di_records_persisted_total, di_embed_batches_total, di_import_duration_seconds.
package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики конвейера импорта
var (
	// jobsAcceptedTotal — количество заданий, принятых в очередь.
	jobsAcceptedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "di_jobs_accepted_total",
			Help: "Количество заданий импорта, принятых в очередь планировщика",
		},
	)

	// jobsRejectedTotal — количество заданий, отклоненных из-за переполнения очереди.
	jobsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "di_jobs_rejected_total",
			Help: "Количество заданий импорта, отклоненных из-за переполнения очереди",
		},
	)

	// queueDepth — текущая глубина очереди планировщика.
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "di_queue_depth",
			Help: "Текущее количество заданий в очереди планировщика",
		},
	)

	// importsCompletedTotal — количество завершенных импортов по финальному статусу.
	importsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "di_imports_completed_total",
			Help: "Количество завершенных импортов по финальному статусу",
		},
		[]string{"status"},
	)

	// recordsPersistedTotal — количество сохраненных записей по статусу валидации.
	recordsPersistedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "di_records_persisted_total",
			Help: "Количество сохраненных записей по статусу валидации",
		},
		[]string{"status"},
	)

	// embedBatchesTotal — количество пакетных вызовов векторизации по результату.
	embedBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "di_embed_batches_total",
			Help: "Количество пакетных вызовов векторизации по результату",
		},
		[]string{"result"},
	)

	// importDurationSeconds — гистограмма длительности обработки импорта.
	importDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "di_import_duration_seconds",
			Help:    "Длительность обработки одного импорта в секундах",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
		},
	)
)
