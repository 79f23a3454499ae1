package catalog

import (
	"context"

	"github.com/dray-io/housekeeper/internal/logging"
)

// DryRun wraps a Catalog so that drops are logged and reported as
// successful without reaching the underlying catalog. Reads pass through.
type DryRun struct {
	Catalog
	logger *logging.Logger
}

// NewDryRun wraps c in a DryRun catalog.
func NewDryRun(c Catalog, logger *logging.Logger) *DryRun {
	if logger == nil {
		logger = logging.Global()
	}
	return &DryRun{Catalog: c, logger: logger}
}

var _ Catalog = (*DryRun)(nil)

// DropTable logs the table that would be dropped.
func (d *DryRun) DropTable(ctx context.Context, database, table string) error {
	d.logger.Infof("dry run: would drop table", map[string]any{
		"database": database,
		"table":    table,
	})
	return nil
}

// DropPartition logs the partition that would be dropped.
func (d *DryRun) DropPartition(ctx context.Context, database, table, partitionName string) error {
	d.logger.Infof("dry run: would drop partition", map[string]any{
		"database":  database,
		"table":     table,
		"partition": partitionName,
	})
	return nil
}
