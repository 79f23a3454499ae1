package objectstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory implementation of the Store interface for testing.
type MockStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]ObjectMeta

	deleteRequests int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{buckets: make(map[string]map[string]ObjectMeta)}
}

var _ Store = (*MockStore)(nil)

// Put adds an object of the given size.
func (s *MockStore) Put(bucket, key string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[bucket]
	if !ok {
		b = make(map[string]ObjectMeta)
		s.buckets[bucket] = b
	}
	b[key] = ObjectMeta{
		Key:          key,
		Size:         size,
		ETag:         "mock-etag",
		LastModified: time.Now().UnixMilli(),
	}
}

// Keys returns every key in the bucket, sorted.
func (s *MockStore) Keys(bucket string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.buckets[bucket]))
	for k := range s.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether the key exists.
func (s *MockStore) Has(bucket, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buckets[bucket][key]
	return ok
}

// DeleteRequests returns how many Delete and DeleteObjects batch requests
// were made.
func (s *MockStore) DeleteRequests() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deleteRequests
}

func (s *MockStore) List(ctx context.Context, bucket, prefix string) ([]ObjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []ObjectMeta
	for key, meta := range s.buckets[bucket] {
		if strings.HasPrefix(key, prefix) {
			result = append(result, meta)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})

	return result, nil
}

func (s *MockStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	return s.Has(bucket, key), nil
}

func (s *MockStore) Size(ctx context.Context, bucket, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.buckets[bucket][key]
	if !ok {
		return 0, &ObjectError{Op: "Size", Bucket: bucket, Key: key, Err: ErrNotFound}
	}
	return meta.Size, nil
}

func (s *MockStore) Delete(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteRequests++
	delete(s.buckets[bucket], key)
	return nil
}

func (s *MockStore) DeleteObjects(ctx context.Context, bucket string, keys []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted []string
	for _, batch := range Batches(keys, MaxDeleteBatch) {
		s.deleteRequests++
		for _, key := range batch {
			delete(s.buckets[bucket], key)
			deleted = append(deleted, key)
		}
	}
	return deleted, nil
}

func (s *MockStore) Close() error {
	return nil
}
