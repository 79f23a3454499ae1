// Package catalog defines the metadata catalog operations housekeeping
// needs: existence checks, drops and the table metadata read by the
// scheduler and the Iceberg guard.
//
// Implementations live in subpackages (glue) or here ([MockCatalog] for
// tests and local runs). [NewDryRun] wraps any implementation so drops are
// reported but never applied.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when the table or partition does not exist.
// Drop callers treat it as success.
var ErrNotFound = errors.New("catalog: not found")

// Error wraps a catalog failure with the operation and the asset it
// concerned.
type Error struct {
	Op        string // Operation that failed (e.g., "DropTable")
	Database  string
	Table     string
	Partition string // Empty for table-level operations
	Err       error
}

func (e *Error) Error() string {
	target := e.Database + "." + e.Table
	if e.Partition != "" {
		target += "/" + e.Partition
	}
	return fmt.Sprintf("catalog: %s %s: %v", e.Op, target, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Catalog is the metadata catalog capability.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Catalog interface {
	// TableExists reports whether the table is registered.
	TableExists(ctx context.Context, database, table string) (bool, error)

	// DropTable removes the table's metadata. Data files are left alone.
	// Returns ErrNotFound if the table does not exist.
	DropTable(ctx context.Context, database, table string) error

	// DropPartition removes one partition's metadata. partitionName has the
	// form key1=val1/key2=val2. Returns ErrNotFound if the table or the
	// partition does not exist.
	DropPartition(ctx context.Context, database, table, partitionName string) error

	// GetTablePartitionsAndPaths returns every partition of the table keyed
	// by partition name, with its storage location as value.
	GetTablePartitionsAndPaths(ctx context.Context, database, table string) (map[string]string, error)

	// GetTableProperties returns the table parameters.
	GetTableProperties(ctx context.Context, database, table string) (map[string]string, error)

	// GetOutputFormat returns the table's storage output format class.
	GetOutputFormat(ctx context.Context, database, table string) (string, error)
}

// PartitionName builds a partition name from the table's partition keys
// and one partition's values, in declaration order.
func PartitionName(keys, values []string) (string, error) {
	if len(keys) != len(values) {
		return "", fmt.Errorf("catalog: %d partition keys but %d values", len(keys), len(values))
	}
	parts := make([]string, len(keys))
	for i := range keys {
		parts[i] = keys[i] + "=" + values[i]
	}
	return strings.Join(parts, "/"), nil
}

// ParsePartitionName splits key1=val1/key2=val2 into its values, in order.
func ParsePartitionName(name string) (keys, values []string, err error) {
	if name == "" {
		return nil, nil, errors.New("catalog: empty partition name")
	}
	for _, part := range strings.Split(name, "/") {
		k, v, ok := strings.Cut(part, "=")
		if !ok || k == "" {
			return nil, nil, fmt.Errorf("catalog: malformed partition name %q", name)
		}
		keys = append(keys, k)
		values = append(values, v)
	}
	return keys, values, nil
}
