package objectstore

import (
	"context"

	"github.com/dray-io/housekeeper/internal/logging"
)

// DryRun wraps a Store so that deletes are logged and reported as
// successful without reaching the underlying store. Reads pass through.
type DryRun struct {
	Store
	logger *logging.Logger
}

// NewDryRun wraps s in a DryRun store.
func NewDryRun(s Store, logger *logging.Logger) *DryRun {
	if logger == nil {
		logger = logging.Global()
	}
	return &DryRun{Store: s, logger: logger}
}

var _ Store = (*DryRun)(nil)

// Delete logs the object that would be deleted.
func (d *DryRun) Delete(ctx context.Context, bucket, key string) error {
	d.logger.Infof("dry run: would delete object", map[string]any{
		"path": Location{Bucket: bucket, Key: key}.String(),
	})
	return nil
}

// DeleteObjects logs each object that would be deleted and returns the
// keys as if they had been.
func (d *DryRun) DeleteObjects(ctx context.Context, bucket string, keys []string) ([]string, error) {
	for _, key := range keys {
		d.logger.Infof("dry run: would delete object", map[string]any{
			"path": Location{Bucket: bucket, Key: key}.String(),
		})
	}
	return append([]string(nil), keys...), nil
}

// Close does not close the wrapped store; its owner does.
func (d *DryRun) Close() error {
	return nil
}
