// Package objectstore defines the Store interface for S3-compatible storage.
//
// Housekeeping only ever lists and deletes: it never reads or writes object
// bodies. Every call names its bucket because the paths being cleaned up
// span many buckets.
//
// # Usage
//
//	loc, err := objectstore.ParsePath("s3://lake/db/events/dt=2024-01-01/")
//	if err != nil {
//	    return err
//	}
//	objs, err := store.List(ctx, loc.Bucket, loc.Key+"/")
//	if err != nil {
//	    return err
//	}
//	keys := make([]string, len(objs))
//	for i, o := range objs {
//	    keys[i] = o.Key
//	}
//	deleted, err := store.DeleteObjects(ctx, loc.Bucket, keys)
//
// Wrap a store with [NewDryRun] to report deletions without performing
// them, and with [NewInstrumentedStore] to record per-operation metrics.
package objectstore

import (
	"context"
	"errors"
	"fmt"
)

// MaxDeleteBatch is the most keys a single batch delete request may carry.
const MaxDeleteBatch = 1000

// Common errors returned by Store implementations.
var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned when the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrAccessDenied is returned when the credentials lack permission for the operation.
	ErrAccessDenied = errors.New("access denied")
)

// ObjectError wraps an error with the object location for context.
type ObjectError struct {
	Op     string // Operation that failed (e.g., "List", "Delete")
	Bucket string
	Key    string
	Err    error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("objectstore: %s %q: %v", e.Op, "s3://"+e.Bucket+"/"+e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// ObjectMeta contains metadata about an object.
type ObjectMeta struct {
	// Key is the object's key (path) in the bucket.
	Key string

	// Size is the object's size in bytes.
	Size int64

	// ETag is the entity tag, typically an MD5 hash of the object content.
	ETag string

	// LastModified is the Unix timestamp (milliseconds) when the object was last modified.
	LastModified int64
}

// Store is the interface for object storage operations.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Store interface {
	// List returns every object whose key starts with prefix, sorted by
	// key. Implementations paginate internally.
	List(ctx context.Context, bucket, prefix string) ([]ObjectMeta, error)

	// Exists reports whether an object exists at exactly key.
	Exists(ctx context.Context, bucket, key string) (bool, error)

	// Size returns the object's size in bytes.
	//   - ErrNotFound: object doesn't exist
	Size(ctx context.Context, bucket, key string) (int64, error)

	// Delete removes an object. Deleting a missing object succeeds.
	Delete(ctx context.Context, bucket, key string) error

	// DeleteObjects removes the given keys in batches of at most
	// MaxDeleteBatch and returns the keys reported deleted. An empty key
	// list makes no request.
	DeleteObjects(ctx context.Context, bucket string, keys []string) ([]string, error)

	// Close releases resources associated with the store.
	Close() error
}

// Batches splits keys into consecutive slices of at most size entries.
func Batches(keys []string, size int) [][]string {
	if size <= 0 {
		size = MaxDeleteBatch
	}
	var out [][]string
	for len(keys) > 0 {
		n := min(size, len(keys))
		out = append(out, keys[:n])
		keys = keys[n:]
	}
	return out
}
