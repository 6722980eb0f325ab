package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ImageOperationsTotal counts image service operations by outcome.
	ImageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patientimages",
			Subsystem: "service",
			Name:      "operations_total",
			Help:      "Total image service operations",
		},
		[]string{"operation", "status"},
	)

	// BlobFailuresTotal counts blob store failures, including degraded reads.
	BlobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patientimages",
			Subsystem: "blob_store",
			Name:      "failures_total",
			Help:      "Total blob store failures",
		},
		[]string{"operation", "reason"},
	)

	BlobBytesWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "patientimages",
			Subsystem: "blob_store",
			Name:      "bytes_written_total",
			Help:      "Total image bytes committed to the blob store",
		},
	)

	// CompensationsTotal counts metadata writes rolled back after a failed blob commit.
	CompensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patientimages",
			Subsystem: "service",
			Name:      "compensations_total",
			Help:      "Total metadata compensations after failed blob commits",
		},
		[]string{"operation", "status"},
	)
)

// RecordOperation records the outcome of an image service operation.
func RecordOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ImageOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordBlobFailure records a blob store failure.
func RecordBlobFailure(operation, reason string) {
	BlobFailuresTotal.WithLabelValues(operation, reason).Inc()
}

// RecordBlobWrite records bytes committed to the blob store.
func RecordBlobWrite(bytes int) {
	BlobBytesWrittenTotal.Add(float64(bytes))
}

// RecordCompensation records a compensating metadata write.
func RecordCompensation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	CompensationsTotal.WithLabelValues(operation, status).Inc()
}
