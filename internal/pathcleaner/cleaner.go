// Package pathcleaner deletes the object-store data behind a housekeeping
// record and tidies the directory sentinels legacy tooling leaves behind.
//
// A sentinel is a zero-byte object named <dir>_$folder$ that marks an
// otherwise empty directory. Once a path is cleaned, its ancestors may
// become empty; their sentinels are removed walking upward until an
// ancestor still holds data or the table root is reached.
package pathcleaner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dray-io/housekeeper/internal/logging"
	"github.com/dray-io/housekeeper/internal/objectstore"
)

// SentinelSuffix is appended to a directory key to form its sentinel key.
const SentinelSuffix = "_$folder$"

// ErrBucketRoot is returned when asked to clean a whole bucket.
var ErrBucketRoot = errors.New("pathcleaner: refusing to clean a bucket root")

// ErrBucketNotAllowed is returned for paths outside the allowed buckets.
var ErrBucketNotAllowed = errors.New("pathcleaner: bucket not allowed")

// SentinelKey returns the sentinel object key for a directory key.
func SentinelKey(dir string) string {
	return strings.TrimRight(dir, "/") + SentinelSuffix
}

// BytesReporter receives the number of bytes removed (or that would have
// been removed in a dry run) for each cleaned path.
type BytesReporter interface {
	ReportBytesDeleted(bytes int64, dryRun bool)
}

// Config configures a Cleaner.
type Config struct {
	// DryRun reports deletions without performing them.
	DryRun bool

	// Reporter receives byte counts. Optional.
	Reporter BytesReporter

	// AllowedBuckets restricts cleanup to the named buckets.
	// Empty allows every bucket.
	AllowedBuckets []string

	// Logger defaults to the global logger.
	Logger *logging.Logger
}

// Cleaner removes paths from an object store.
type Cleaner struct {
	store    objectstore.Store
	dryRun   bool
	reporter BytesReporter
	allowed  map[string]struct{}
	logger   *logging.Logger
}

// New creates a Cleaner. In dry-run mode the store is wrapped so that no
// delete ever reaches it.
func New(store objectstore.Store, cfg Config) *Cleaner {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Global()
	}
	if cfg.DryRun {
		if _, ok := store.(*objectstore.DryRun); !ok {
			store = objectstore.NewDryRun(store, logger)
		}
	}
	var allowed map[string]struct{}
	if len(cfg.AllowedBuckets) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedBuckets))
		for _, b := range cfg.AllowedBuckets {
			allowed[b] = struct{}{}
		}
	}
	return &Cleaner{
		store:    store,
		dryRun:   cfg.DryRun,
		reporter: cfg.Reporter,
		allowed:  allowed,
		logger:   logger,
	}
}

// DryRun reports whether the cleaner only simulates deletions.
func (c *Cleaner) DryRun() bool {
	return c.dryRun
}

// CleanupPath deletes everything stored at path. tableName bounds the
// sentinel walk: the ancestor directory named after the table is never
// touched. A path with nothing stored under it succeeds.
func (c *Cleaner) CleanupPath(ctx context.Context, path, tableName string) error {
	loc, err := objectstore.ParsePath(path)
	if err != nil {
		return err
	}
	if loc.Key == "" {
		return fmt.Errorf("%w: %s", ErrBucketRoot, path)
	}
	if c.allowed != nil {
		if _, ok := c.allowed[loc.Bucket]; !ok {
			return fmt.Errorf("%w: %s", ErrBucketNotAllowed, loc.Bucket)
		}
	}
	logger := logging.ContextLogger(ctx, c.logger).With(map[string]any{
		"path":   loc.String(),
		"dryRun": c.dryRun,
	})

	isFile, err := c.store.Exists(ctx, loc.Bucket, loc.Key)
	if err != nil {
		return fmt.Errorf("pathcleaner: check %s: %w", loc, err)
	}
	if isFile {
		return c.deleteFile(ctx, loc, logger)
	}

	deleted, bytes, err := c.deleteDirectory(ctx, loc)
	if err != nil {
		return err
	}
	if deleted == 0 {
		logger.Debug("path does not exist")
	} else {
		logger.Infof("deleted path", map[string]any{"objects": deleted, "bytes": bytes})
	}

	return c.deleteEmptyAncestorSentinels(ctx, loc, tableName, logger)
}

func (c *Cleaner) deleteFile(ctx context.Context, loc objectstore.Location, logger *logging.Logger) error {
	size, err := c.store.Size(ctx, loc.Bucket, loc.Key)
	if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		return fmt.Errorf("pathcleaner: size of %s: %w", loc, err)
	}
	if err := c.store.Delete(ctx, loc.Bucket, loc.Key); err != nil {
		return fmt.Errorf("pathcleaner: delete %s: %w", loc, err)
	}
	c.report(size)
	logger.Infof("deleted file", map[string]any{"bytes": size})
	return nil
}

// deleteDirectory removes every object under loc/ plus loc's own sentinel
// and returns how many objects and bytes went.
func (c *Cleaner) deleteDirectory(ctx context.Context, loc objectstore.Location) (int, int64, error) {
	objs, err := c.store.List(ctx, loc.Bucket, loc.Key+"/")
	if err != nil {
		return 0, 0, fmt.Errorf("pathcleaner: list %s: %w", loc, err)
	}

	keys := make([]string, 0, len(objs)+1)
	var bytes int64
	for _, o := range objs {
		keys = append(keys, o.Key)
		bytes += o.Size
	}

	sentinel := SentinelKey(loc.Key)
	hasSentinel, err := c.store.Exists(ctx, loc.Bucket, sentinel)
	if err != nil {
		return 0, 0, fmt.Errorf("pathcleaner: check sentinel of %s: %w", loc, err)
	}
	if hasSentinel {
		keys = append(keys, sentinel)
	}

	deleted, err := c.store.DeleteObjects(ctx, loc.Bucket, keys)
	if err != nil {
		return len(deleted), bytes, fmt.Errorf("pathcleaner: delete %s: %w", loc, err)
	}
	if len(objs) > 0 {
		c.report(bytes)
	}
	return len(deleted), bytes, nil
}

// deleteEmptyAncestorSentinels climbs from loc's parent towards the table
// root, deleting the sentinel of every ancestor left empty, and stops at
// the first ancestor still holding data. A table root has no ancestors to
// clean.
func (c *Cleaner) deleteEmptyAncestorSentinels(ctx context.Context, loc objectstore.Location, tableName string, logger *logging.Logger) error {
	if objectstore.Base(loc.Key) == tableName {
		return nil
	}
	child := loc.Key
	for ancestor := objectstore.Parent(child); ancestor != ""; ancestor = objectstore.Parent(ancestor) {
		if objectstore.Base(ancestor) == tableName {
			return nil
		}

		var empty bool
		var err error
		if c.dryRun {
			empty, err = WouldBeEmptyWithout(ctx, c.store, loc.Bucket, ancestor, child)
		} else {
			empty, err = IsEmpty(ctx, c.store, loc.Bucket, ancestor)
		}
		if err != nil {
			return fmt.Errorf("pathcleaner: check %s is empty: %w", objectstore.Location{Bucket: loc.Bucket, Key: ancestor}, err)
		}
		if !empty {
			return nil
		}

		sentinel := SentinelKey(ancestor)
		exists, err := c.store.Exists(ctx, loc.Bucket, sentinel)
		if err != nil {
			return fmt.Errorf("pathcleaner: check sentinel %s: %w", sentinel, err)
		}
		if exists {
			if err := c.store.Delete(ctx, loc.Bucket, sentinel); err != nil {
				return fmt.Errorf("pathcleaner: delete sentinel %s: %w", sentinel, err)
			}
			logger.Debugf("deleted sentinel", map[string]any{"sentinel": sentinel})
		}
		child = ancestor
	}
	return nil
}

func (c *Cleaner) report(bytes int64) {
	if c.reporter != nil {
		c.reporter.ReportBytesDeleted(bytes, c.dryRun)
	}
}

// IsEmpty reports whether nothing is stored under dir/. The directory's
// own sentinel sits beside it, not under it, so it never counts.
func IsEmpty(ctx context.Context, store objectstore.Store, bucket, dir string) (bool, error) {
	objs, err := store.List(ctx, bucket, strings.TrimRight(dir, "/")+"/")
	if err != nil {
		return false, err
	}
	return len(objs) == 0, nil
}

// WouldBeEmptyWithout reports whether dir/ would be empty once excluded
// (a descendant directory of dir) and its sentinel were gone. Dry runs use
// it to answer the question a real run asks after deleting excluded.
func WouldBeEmptyWithout(ctx context.Context, store objectstore.Store, bucket, dir, excluded string) (bool, error) {
	objs, err := store.List(ctx, bucket, strings.TrimRight(dir, "/")+"/")
	if err != nil {
		return false, err
	}
	excluded = strings.TrimRight(excluded, "/")
	excludedPrefix := excluded + "/"
	excludedSentinel := SentinelKey(excluded)
	for _, o := range objs {
		if o.Key == excluded || o.Key == excludedSentinel || strings.HasPrefix(o.Key, excludedPrefix) {
			continue
		}
		return false, nil
	}
	return true, nil
}
