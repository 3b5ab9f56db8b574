package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	PathSerial   = "serial"
	PathParallel = "parallel"
)

var (
	SoftmaxCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "softmax_calls_total",
		Help: "Number of batch softmax calls",
	}, []string{"path"})

	SoftmaxRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "softmax_rows_total",
		Help: "Number of rows normalized",
	})

	SoftmaxElementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "softmax_elements_total",
		Help: "Number of float32 elements normalized",
	})

	KernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "softmax_kernel_duration_seconds",
		Help:    "Histogram of batch softmax execution times",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
	}, []string{"path"})

	RowWidth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "softmax_row_width",
		Help:    "Distribution of row widths processed",
		Buckets: []float64{8, 64, 128, 512, 1024, 4096, 16384, 65536},
	})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "softmax_validation_errors_total",
		Help: "Calls rejected for violating the kernel's preconditions",
	}, []string{"operation", "error_type"})

	NumericalInstability = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "softmax_numerical_instability_total",
		Help: "NaN/Inf values found in softmax outputs",
	}, []string{"type"})

	WorkerPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "softmax_worker_pool_size",
		Help: "Number of workers in the batch driver's pool",
	})

	FlightRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "softmax_flight_records_total",
		Help: "Arrow Flight records exchanged",
	}, []string{"status"})
)

// RecordBatch records one completed batch call.
func RecordBatch(path string, rows, width int, duration time.Duration) {
	SoftmaxCallsTotal.WithLabelValues(path).Inc()
	SoftmaxRowsTotal.Add(float64(rows))
	SoftmaxElementsTotal.Add(float64(rows * width))
	RowWidth.Observe(float64(width))
	KernelDuration.WithLabelValues(path).Observe(duration.Seconds())
}

func RecordValidationError(operation, errorType string) {
	ValidationErrors.WithLabelValues(operation, errorType).Inc()
}

func RecordNumericalInstability(nanCount, infCount int) {
	if nanCount > 0 {
		NumericalInstability.WithLabelValues("nan").Add(float64(nanCount))
	}
	if infCount > 0 {
		NumericalInstability.WithLabelValues("inf").Add(float64(infCount))
	}
}

func RecordWorkerPoolSize(n int) {
	WorkerPoolSize.Set(float64(n))
}

func RecordFlightRecord(status string) {
	FlightRecordsTotal.WithLabelValues(status).Inc()
}
