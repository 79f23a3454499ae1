package objectstore

import (
	"context"
	"time"
)

// MetricsRecorder is the interface for recording object store operation metrics.
// This allows the objectstore package to be decoupled from the metrics package.
type MetricsRecorder interface {
	RecordList(durationSeconds float64, success bool)
	RecordExists(durationSeconds float64, success bool)
	RecordDelete(durationSeconds float64, success bool)
	RecordDeleteObjects(durationSeconds float64, success bool, objects int)
}

// InstrumentedStore wraps a Store and records metrics for each operation.
type InstrumentedStore struct {
	store   Store
	metrics MetricsRecorder
}

// NewInstrumentedStore creates an instrumented wrapper around a Store.
// If metrics is nil, no metrics are recorded and operations pass through directly.
func NewInstrumentedStore(store Store, metrics MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{
		store:   store,
		metrics: metrics,
	}
}

// List returns objects matching the given prefix.
func (s *InstrumentedStore) List(ctx context.Context, bucket, prefix string) ([]ObjectMeta, error) {
	start := time.Now()
	result, err := s.store.List(ctx, bucket, prefix)
	if s.metrics != nil {
		s.metrics.RecordList(time.Since(start).Seconds(), err == nil)
	}
	return result, err
}

// Exists reports whether an object exists at key. A successful answer of
// either kind counts as success.
func (s *InstrumentedStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	start := time.Now()
	ok, err := s.store.Exists(ctx, bucket, key)
	if s.metrics != nil {
		s.metrics.RecordExists(time.Since(start).Seconds(), err == nil)
	}
	return ok, err
}

// Size returns the object's size. It is recorded as an existence check.
func (s *InstrumentedStore) Size(ctx context.Context, bucket, key string) (int64, error) {
	start := time.Now()
	size, err := s.store.Size(ctx, bucket, key)
	if s.metrics != nil {
		s.metrics.RecordExists(time.Since(start).Seconds(), err == nil)
	}
	return size, err
}

// Delete removes an object.
func (s *InstrumentedStore) Delete(ctx context.Context, bucket, key string) error {
	start := time.Now()
	err := s.store.Delete(ctx, bucket, key)
	if s.metrics != nil {
		s.metrics.RecordDelete(time.Since(start).Seconds(), err == nil)
	}
	return err
}

// DeleteObjects removes objects in batches. Empty calls are not recorded.
func (s *InstrumentedStore) DeleteObjects(ctx context.Context, bucket string, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	start := time.Now()
	deleted, err := s.store.DeleteObjects(ctx, bucket, keys)
	if s.metrics != nil {
		s.metrics.RecordDeleteObjects(time.Since(start).Seconds(), err == nil, len(deleted))
	}
	return deleted, err
}

// Close releases resources associated with the store.
func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

// Ensure InstrumentedStore implements Store.
var _ Store = (*InstrumentedStore)(nil)
