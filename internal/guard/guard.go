// Package guard refuses housekeeping for tables whose format it cannot
// handle safely. Iceberg tables keep their partitions outside the catalog,
// so scheduling or cleaning one would treat the whole table as a single
// unpartitioned asset.
package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dray-io/housekeeper/internal/catalog"
)

// ErrUnsupportedFormat is returned for tables housekeeping must not touch.
var ErrUnsupportedFormat = errors.New("unsupported table format")

// Checker decides whether a table may be housekept.
type Checker interface {
	Check(ctx context.Context, database, table string) error
}

// IcebergGuard rejects Iceberg tables.
type IcebergGuard struct {
	catalog catalog.Catalog
}

// NewIcebergGuard returns a guard reading table metadata from c.
func NewIcebergGuard(c catalog.Catalog) *IcebergGuard {
	return &IcebergGuard{catalog: c}
}

var _ Checker = (*IcebergGuard)(nil)

// Check returns ErrUnsupportedFormat when the table's table_type or format
// property, or its output format, mentions iceberg (case-insensitive). A
// table missing from the catalog passes: there is nothing to misread.
func (g *IcebergGuard) Check(ctx context.Context, database, table string) error {
	props, err := g.catalog.GetTableProperties(ctx, database, table)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("guard: read properties of %s.%s: %w", database, table, err)
	}
	outputFormat, err := g.catalog.GetOutputFormat(ctx, database, table)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("guard: read output format of %s.%s: %w", database, table, err)
	}

	for _, v := range []string{props["table_type"], props["format"], outputFormat} {
		if strings.Contains(strings.ToLower(v), "iceberg") {
			return fmt.Errorf("%w: iceberg table %s.%s", ErrUnsupportedFormat, database, table)
		}
	}
	return nil
}
