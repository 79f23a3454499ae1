package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/dray-io/housekeeper/internal/catalog"
	"github.com/dray-io/housekeeper/internal/objectstore"
)

// Pinger is implemented by *store.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker reports the record database as ready when it answers a ping.
type StoreChecker struct {
	store Pinger
}

// NewStoreChecker creates a new StoreChecker.
func NewStoreChecker(store Pinger) *StoreChecker {
	return &StoreChecker{store: store}
}

func (c *StoreChecker) Name() string {
	return "record_store"
}

func (c *StoreChecker) CheckReady(ctx context.Context) error {
	if c.store == nil {
		return errors.New("record store not configured")
	}
	return c.store.Ping(ctx)
}

// HealthCheckPrefix is listed in each bucket by ObjectStoreChecker.
const HealthCheckPrefix = "housekeeper-health-check/"

// ObjectStoreChecker lists a well-known prefix in every cleanup bucket.
// An empty listing is fine; a missing bucket or denied access is not.
type ObjectStoreChecker struct {
	store   objectstore.Store
	buckets []string
}

// NewObjectStoreChecker creates a new ObjectStoreChecker.
func NewObjectStoreChecker(store objectstore.Store, buckets []string) *ObjectStoreChecker {
	return &ObjectStoreChecker{store: store, buckets: buckets}
}

func (c *ObjectStoreChecker) Name() string {
	return "object_store"
}

func (c *ObjectStoreChecker) CheckReady(ctx context.Context) error {
	if c.store == nil {
		return errors.New("object store not configured")
	}
	for _, bucket := range c.buckets {
		if _, err := c.store.List(ctx, bucket, HealthCheckPrefix); err != nil {
			return fmt.Errorf("bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// CatalogChecker looks up a table that is not expected to exist. A
// not-found answer means the catalog is reachable.
type CatalogChecker struct {
	catalog catalog.Catalog
}

// NewCatalogChecker creates a new CatalogChecker.
func NewCatalogChecker(c catalog.Catalog) *CatalogChecker {
	return &CatalogChecker{catalog: c}
}

func (c *CatalogChecker) Name() string {
	return "catalog"
}

func (c *CatalogChecker) CheckReady(ctx context.Context) error {
	if c.catalog == nil {
		return errors.New("catalog not configured")
	}
	_, err := c.catalog.TableExists(ctx, "housekeeper_health_check", "housekeeper_health_check")
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return err
	}
	return nil
}

// FuncChecker is a ReadinessChecker that wraps a function.
type FuncChecker struct {
	name  string
	check func(context.Context) error
}

// NewFuncChecker creates a new FuncChecker with the given name and check function.
func NewFuncChecker(name string, check func(context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, check: check}
}

func (c *FuncChecker) Name() string {
	return c.name
}

func (c *FuncChecker) CheckReady(ctx context.Context) error {
	if c.check == nil {
		return nil
	}
	return c.check(ctx)
}
