package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func TestObjectStoreMetrics_NewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewObjectStoreMetricsWithRegistry(reg)

	if m.LatencyHistogram == nil {
		t.Error("LatencyHistogram should not be nil")
	}
	if m.RequestsTotal == nil {
		t.Error("RequestsTotal should not be nil")
	}

	// Vec metrics are only gathered once they have an observation.
	m.RecordList(0.01, true)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if len(mfs) != 3 {
		t.Errorf("Expected 3 metric families, got %d", len(mfs))
	}
}

func TestObjectStoreMetrics_RecordList(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewObjectStoreMetricsWithRegistry(reg)

	m.RecordList(0.1, true)
	m.RecordList(0.2, false)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	latencyMF := findMetricFamily(mfs, "housekeeper_objectstore_operation_latency_seconds")
	if latencyMF == nil {
		t.Fatal("housekeeper_objectstore_operation_latency_seconds not found")
	}
	if len(latencyMF.Metric) != 2 {
		t.Errorf("Expected 2 latency metrics (success/failure), got %d", len(latencyMF.Metric))
	}

	requestsMF := findMetricFamily(mfs, "housekeeper_objectstore_operations_total")
	if requestsMF == nil {
		t.Fatal("housekeeper_objectstore_operations_total not found")
	}
	if got := getCounterValue(requestsMF, map[string]string{"operation": OpObjList, "status": StatusSuccess}); got != 1 {
		t.Errorf("Expected 1 successful list, got %f", got)
	}
	if got := getCounterValue(requestsMF, map[string]string{"operation": OpObjList, "status": StatusFailure}); got != 1 {
		t.Errorf("Expected 1 failed list, got %f", got)
	}
}

func TestObjectStoreMetrics_RecordExistsAndDelete(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewObjectStoreMetricsWithRegistry(reg)

	m.RecordExists(0.01, true)
	m.RecordExists(0.01, true)
	m.RecordDelete(0.02, false)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	requestsMF := findMetricFamily(mfs, "housekeeper_objectstore_operations_total")
	if got := getCounterValue(requestsMF, map[string]string{"operation": OpObjExists, "status": StatusSuccess}); got != 2 {
		t.Errorf("Expected 2 exists calls, got %f", got)
	}
	if got := getCounterValue(requestsMF, map[string]string{"operation": OpObjDelete, "status": StatusFailure}); got != 1 {
		t.Errorf("Expected 1 failed delete, got %f", got)
	}
}

func TestObjectStoreMetrics_RecordDeleteObjects(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewObjectStoreMetricsWithRegistry(reg)

	m.RecordDeleteObjects(0.3, true, 250)
	m.RecordDeleteObjects(0.3, false, 100)
	m.RecordDeleteObjects(0.1, true, 0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	requestsMF := findMetricFamily(mfs, "housekeeper_objectstore_operations_total")
	if got := getCounterValue(requestsMF, map[string]string{"operation": OpObjDeleteObjects, "status": StatusSuccess}); got != 2 {
		t.Errorf("Expected 2 successful batch deletes, got %f", got)
	}

	// Failed batches do not count their objects.
	deletedMF := findMetricFamily(mfs, "housekeeper_objectstore_objects_deleted_total")
	if deletedMF == nil {
		t.Fatal("housekeeper_objectstore_objects_deleted_total not found")
	}
	if got := deletedMF.Metric[0].Counter.GetValue(); got != 250 {
		t.Errorf("Expected 250 objects deleted, got %f", got)
	}
}

func TestObjectStoreMetrics_LatencyBuckets(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewObjectStoreMetricsWithRegistry(reg)

	m.RecordList(0.003, true)
	m.RecordList(0.4, true)
	m.RecordList(12, true)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	latencyMF := findMetricFamily(mfs, "housekeeper_objectstore_operation_latency_seconds")
	if latencyMF == nil {
		t.Fatal("latency histogram not found")
	}
	h := latencyMF.Metric[0].Histogram
	if h.GetSampleCount() != 3 {
		t.Errorf("Expected 3 samples, got %d", h.GetSampleCount())
	}
	if len(h.Bucket) != len(DefaultObjectStoreLatencyBuckets) {
		t.Errorf("Expected %d buckets, got %d", len(DefaultObjectStoreLatencyBuckets), len(h.Bucket))
	}
}

func findMetricFamily(mfs []*io_prometheus_client.MetricFamily, name string) *io_prometheus_client.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

// Helper to get counter value with specific labels
func getCounterValue(mf *io_prometheus_client.MetricFamily, labels map[string]string) float64 {
	if mf == nil {
		return 0
	}
	for _, metric := range mf.Metric {
		if matchLabels(metric.Label, labels) {
			if metric.Counter != nil {
				return metric.Counter.GetValue()
			}
		}
	}
	return 0
}

// Helper to get gauge value with specific labels
func getGaugeValue(mf *io_prometheus_client.MetricFamily, labels map[string]string) float64 {
	if mf == nil {
		return 0
	}
	for _, metric := range mf.Metric {
		if matchLabels(metric.Label, labels) && metric.Gauge != nil {
			return metric.Gauge.GetValue()
		}
	}
	return 0
}

func matchLabels(metricLabels []*io_prometheus_client.LabelPair, expected map[string]string) bool {
	if len(metricLabels) != len(expected) {
		return false
	}
	for _, lp := range metricLabels {
		if expected[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}
