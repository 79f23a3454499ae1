package main

import (
	"context"
	"fmt"

	"github.com/dray-io/housekeeper/internal/catalog"
	"github.com/dray-io/housekeeper/internal/catalog/glue"
	"github.com/dray-io/housekeeper/internal/config"
	"github.com/dray-io/housekeeper/internal/housekeeping"
	"github.com/dray-io/housekeeper/internal/objectstore"
	"github.com/dray-io/housekeeper/internal/objectstore/s3"
	"github.com/dray-io/housekeeper/internal/store"
)

func openStore(ctx context.Context, cfg config.DatabaseConfig) (*store.Store, error) {
	st, err := store.Open(ctx, store.Config{
		Driver:       cfg.Driver,
		DSN:          cfg.DSN,
		MaxOpenConns: cfg.MaxOpenConns,
		LogLevel:     cfg.LogLevel,
	}, housekeeping.SystemClock{})
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	return st, nil
}

func newCatalog(ctx context.Context, cfg config.CatalogConfig, creds config.ObjectStoreConfig) (catalog.Catalog, error) {
	switch cfg.Type {
	case "memory":
		return catalog.NewMockCatalog(), nil
	case "glue":
		c, err := glue.New(ctx, glue.Config{
			Region:          cfg.Region,
			CatalogID:       cfg.CatalogID,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     creds.AccessKey,
			SecretAccessKey: creds.SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create glue catalog: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown catalog type %q", cfg.Type)
	}
}

func newObjectStore(ctx context.Context, cfg config.ObjectStoreConfig, recorder objectstore.MetricsRecorder) (objectstore.Store, error) {
	s, err := s3.New(ctx, s3.Config{
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKey,
		SecretAccessKey: cfg.SecretKey,
		UsePathStyle:    cfg.UsePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object store: %w", err)
	}
	return objectstore.NewInstrumentedStore(s, recorder), nil
}
