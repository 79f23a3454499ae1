package objectstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dray-io/housekeeper/internal/logging"
)

func TestObjectErrorFormat(t *testing.T) {
	tests := []struct {
		name     string
		err      *ObjectError
		expected string
	}{
		{
			name:     "list access denied",
			err:      &ObjectError{Op: "List", Bucket: "lake", Key: "db/tbl/", Err: ErrAccessDenied},
			expected: `objectstore: List "s3://lake/db/tbl/": access denied`,
		},
		{
			name:     "size not found",
			err:      &ObjectError{Op: "Size", Bucket: "lake", Key: "db/tbl/part-0.parquet", Err: ErrNotFound},
			expected: `objectstore: Size "s3://lake/db/tbl/part-0.parquet": object not found`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("ObjectError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestObjectErrorUnwrap(t *testing.T) {
	err := &ObjectError{Op: "Delete", Bucket: "b", Key: "k", Err: ErrBucketNotFound}
	if !errors.Is(err, ErrBucketNotFound) {
		t.Error("ObjectError should unwrap to ErrBucketNotFound")
	}

	var objErr *ObjectError
	wrapped := fmt.Errorf("cleanup: %w", err)
	if !errors.As(wrapped, &objErr) || objErr.Bucket != "b" {
		t.Error("errors.As should find the ObjectError through wrapping")
	}
}

func TestBatches(t *testing.T) {
	keys := make([]string, 2501)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%d", i)
	}

	batches := Batches(keys, MaxDeleteBatch)
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	if len(batches[0]) != 1000 || len(batches[1]) != 1000 || len(batches[2]) != 501 {
		t.Errorf("batch sizes = %d, %d, %d", len(batches[0]), len(batches[1]), len(batches[2]))
	}
	if batches[2][500] != "k2500" {
		t.Errorf("last key = %q, want k2500", batches[2][500])
	}

	if got := Batches(nil, MaxDeleteBatch); len(got) != 0 {
		t.Errorf("Batches(nil) = %v, want none", got)
	}
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		path    string
		want    Location
		wantErr bool
	}{
		{path: "s3://lake/db/tbl/dt=1/", want: Location{Bucket: "lake", Key: "db/tbl/dt=1"}},
		{path: "s3://lake/db/tbl/dt=1", want: Location{Bucket: "lake", Key: "db/tbl/dt=1"}},
		{path: "s3a://lake/db/file.parquet", want: Location{Bucket: "lake", Key: "db/file.parquet"}},
		{path: "s3n://lake", want: Location{Bucket: "lake"}},
		{path: "s3://lake/", want: Location{Bucket: "lake"}},
		{path: "hdfs://nn/db", wantErr: true},
		{path: "s3:///key", wantErr: true},
		{path: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := ParsePath(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParsePath(%q) expected error", tt.path)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePath(%q) error: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("ParsePath(%q) = %+v, want %+v", tt.path, got, tt.want)
			}
		})
	}
}

func TestLocationString(t *testing.T) {
	if got := (Location{Bucket: "b", Key: "a/c"}).String(); got != "s3://b/a/c" {
		t.Errorf("String() = %q", got)
	}
	if got := (Location{Bucket: "b"}).String(); got != "s3://b" {
		t.Errorf("String() = %q", got)
	}
}

func TestParentAndBase(t *testing.T) {
	tests := []struct {
		key, parent, base string
	}{
		{"db/tbl/dt=1", "db/tbl", "dt=1"},
		{"db/tbl/dt=1/", "db/tbl", "dt=1"},
		{"tbl", "", "tbl"},
	}
	for _, tt := range tests {
		if got := Parent(tt.key); got != tt.parent {
			t.Errorf("Parent(%q) = %q, want %q", tt.key, got, tt.parent)
		}
		if got := Base(tt.key); got != tt.base {
			t.Errorf("Base(%q) = %q, want %q", tt.key, got, tt.base)
		}
	}
}

func TestNormalizeKey(t *testing.T) {
	if got := NormalizeKey("s3://b/x/y"); got != "x/y" {
		t.Errorf("NormalizeKey = %q", got)
	}
	if got := NormalizeKey("x/y"); got != "x/y" {
		t.Errorf("NormalizeKey = %q", got)
	}
}

func TestMockStoreListIsSortedAndPrefixed(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()
	s.Put("b", "tbl/p_10/f", 1)
	s.Put("b", "tbl/p_1/g", 2)
	s.Put("b", "tbl/p_1/f", 3)
	s.Put("other", "tbl/p_1/f", 4)

	objs, err := s.List(ctx, "b", "tbl/p_1/")
	if err != nil {
		t.Fatal(err)
	}
	if len(objs) != 2 || objs[0].Key != "tbl/p_1/f" || objs[1].Key != "tbl/p_1/g" {
		t.Errorf("List = %+v", objs)
	}
}

func TestMockStoreDeleteObjects(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()

	deleted, err := s.DeleteObjects(ctx, "b", nil)
	if err != nil || len(deleted) != 0 {
		t.Fatalf("DeleteObjects(nil) = %v, %v", deleted, err)
	}
	if s.DeleteRequests() != 0 {
		t.Errorf("empty DeleteObjects made %d requests", s.DeleteRequests())
	}

	keys := make([]string, 1500)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%04d", i)
		s.Put("b", keys[i], 1)
	}
	deleted, err = s.DeleteObjects(ctx, "b", keys)
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 1500 {
		t.Errorf("deleted %d, want 1500", len(deleted))
	}
	if s.DeleteRequests() != 2 {
		t.Errorf("DeleteRequests = %d, want 2", s.DeleteRequests())
	}
	if len(s.Keys("b")) != 0 {
		t.Errorf("objects left: %v", s.Keys("b"))
	}
}

func TestMockStoreSizeNotFound(t *testing.T) {
	_, err := NewMockStore().Size(context.Background(), "b", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Size error = %v, want ErrNotFound", err)
	}
}

func TestDryRunDoesNotDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()
	s.Put("b", "k1", 1)
	s.Put("b", "k2", 1)

	d := NewDryRun(s, logging.Nop())
	deleted, err := d.DeleteObjects(ctx, "b", []string{"k1", "k2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 2 {
		t.Errorf("dry run reported %d deletions, want 2", len(deleted))
	}
	if err := d.Delete(ctx, "b", "k1"); err != nil {
		t.Fatal(err)
	}
	if !s.Has("b", "k1") || !s.Has("b", "k2") {
		t.Error("dry run must not delete")
	}
	if s.DeleteRequests() != 0 {
		t.Errorf("dry run reached the store %d times", s.DeleteRequests())
	}

	ok, err := d.Exists(ctx, "b", "k1")
	if err != nil || !ok {
		t.Errorf("Exists should pass through: %v, %v", ok, err)
	}
}
