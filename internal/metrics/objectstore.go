package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dray-io/housekeeper/internal/objectstore"
)

// ObjectStoreMetrics holds metrics related to object store operations.
type ObjectStoreMetrics struct {
	// LatencyHistogram tracks object store operation latencies.
	// Labels: operation (list, exists, delete, delete_objects), status (success, failure)
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal tracks total object store operations by operation and status.
	RequestsTotal *prometheus.CounterVec

	// ObjectsDeletedTotal counts objects removed through batch deletes.
	ObjectsDeletedTotal prometheus.Counter
}

// Object store operation label values.
const (
	OpObjList          = "list"
	OpObjExists        = "exists"
	OpObjDelete        = "delete"
	OpObjDeleteObjects = "delete_objects"
)

// DefaultObjectStoreLatencyBuckets are latency buckets for object store operations.
// S3 listings and batch deletes range from tens of ms to seconds.
var DefaultObjectStoreLatencyBuckets = []float64{
	0.005, // 5ms
	0.01,  // 10ms
	0.025, // 25ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.25,  // 250ms
	0.5,   // 500ms
	1.0,   // 1s
	2.5,   // 2.5s
	5.0,   // 5s
	10.0,  // 10s
	30.0,  // 30s
}

// NewObjectStoreMetrics creates object store metrics registered with the
// default registry.
func NewObjectStoreMetrics() *ObjectStoreMetrics {
	return NewObjectStoreMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewObjectStoreMetricsWithRegistry creates object store metrics registered with a custom registry.
// Useful for testing to avoid conflicts with the default registry.
func NewObjectStoreMetricsWithRegistry(reg prometheus.Registerer) *ObjectStoreMetrics {
	latencyHist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "housekeeper",
			Subsystem: "objectstore",
			Name:      "operation_latency_seconds",
			Help:      "Object store operation latency in seconds, broken down by operation and status.",
			Buckets:   DefaultObjectStoreLatencyBuckets,
		},
		[]string{"operation", "status"},
	)

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "housekeeper",
			Subsystem: "objectstore",
			Name:      "operations_total",
			Help:      "Total number of object store operations, broken down by operation and status.",
		},
		[]string{"operation", "status"},
	)

	objectsDeleted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "housekeeper",
			Subsystem: "objectstore",
			Name:      "objects_deleted_total",
			Help:      "Total number of objects removed by batch deletes.",
		},
	)

	reg.MustRegister(latencyHist)
	reg.MustRegister(requestsTotal)
	reg.MustRegister(objectsDeleted)

	return &ObjectStoreMetrics{
		LatencyHistogram:    latencyHist,
		RequestsTotal:       requestsTotal,
		ObjectsDeletedTotal: objectsDeleted,
	}
}

// RecordOperation records an object store operation latency and increments the request counter.
func (m *ObjectStoreMetrics) RecordOperation(operation string, durationSeconds float64, success bool) {
	status := StatusFailure
	if success {
		status = StatusSuccess
	}
	m.LatencyHistogram.WithLabelValues(operation, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordList records a List operation.
func (m *ObjectStoreMetrics) RecordList(durationSeconds float64, success bool) {
	m.RecordOperation(OpObjList, durationSeconds, success)
}

// RecordExists records an Exists operation.
func (m *ObjectStoreMetrics) RecordExists(durationSeconds float64, success bool) {
	m.RecordOperation(OpObjExists, durationSeconds, success)
}

// RecordDelete records a single-object Delete operation.
func (m *ObjectStoreMetrics) RecordDelete(durationSeconds float64, success bool) {
	m.RecordOperation(OpObjDelete, durationSeconds, success)
}

// RecordDeleteObjects records a batch delete and the number of objects it removed.
func (m *ObjectStoreMetrics) RecordDeleteObjects(durationSeconds float64, success bool, objects int) {
	m.RecordOperation(OpObjDeleteObjects, durationSeconds, success)
	if success && objects > 0 {
		m.ObjectsDeletedTotal.Add(float64(objects))
	}
}

var _ objectstore.MetricsRecorder = (*ObjectStoreMetrics)(nil)
