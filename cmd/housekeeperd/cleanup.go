package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/dray-io/housekeeper/internal/catalog"
	"github.com/dray-io/housekeeper/internal/cleanup"
	"github.com/dray-io/housekeeper/internal/config"
	"github.com/dray-io/housekeeper/internal/gc"
	"github.com/dray-io/housekeeper/internal/housekeeping"
	"github.com/dray-io/housekeeper/internal/logging"
	"github.com/dray-io/housekeeper/internal/metrics"
	"github.com/dray-io/housekeeper/internal/objectstore"
	"github.com/dray-io/housekeeper/internal/server"
	"github.com/dray-io/housekeeper/internal/store"
)

// backlogInterval is how often the per-status record gauges are refreshed.
const backlogInterval = time.Minute

func newCleanupCmd(root *rootOptions) *cobra.Command {
	var (
		healthAddr string
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete data whose housekeeping records are due",
		Long: `Periodically run cleanup cycles for each configured lifecycle type:
drop expired tables and partitions from the catalog, delete their data
from the object store and mark the records DELETED. Old DELETED and
DISABLED records are purged by the retention sweep.

With --dry-run nothing is deleted or persisted; every deletion that would
happen is logged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if healthAddr != "" {
				cfg.Observability.HealthAddr = healthAddr
			}
			if cmd.Flags().Changed("dry-run") {
				cfg.Cleanup.DryRun = dryRun
			}
			logger := newLogger(cfg)
			return runDaemon(cmd.Context(), "cleanup", NewCleanupDaemon(CleanupOptions{
				Config:  cfg,
				Logger:  logger,
				Version: version,
			}), logger)
		},
	}
	cmd.Flags().StringVar(&healthAddr, "health-addr", "", "Override health endpoint address (e.g., :8080)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log deletions without performing them")
	return cmd
}

// CleanupOptions configures a CleanupDaemon. Store, Catalog and
// ObjectStore are built from Config when nil.
type CleanupOptions struct {
	Config  *config.Config
	Logger  *logging.Logger
	Version string

	Store       *store.Store
	Catalog     catalog.Catalog
	ObjectStore objectstore.Store
}

// CleanupDaemon runs the cleanup worker and the retention worker.
type CleanupDaemon struct {
	opts   CleanupOptions
	logger *logging.Logger

	store           *store.Store
	ownsStore       bool
	engines         []*cleanup.Engine
	cleanupWorker   *gc.CleanupWorker
	retentionWorker *gc.RetentionWorker
	healthServer    *server.HealthServer
	metricsServer   *metrics.Server
	backlog         *metrics.BacklogScanner

	mu      sync.Mutex
	started bool
}

// NewCleanupDaemon creates a CleanupDaemon.
func NewCleanupDaemon(opts CleanupOptions) *CleanupDaemon {
	if opts.Logger == nil {
		opts.Logger = logging.Global()
	}
	return &CleanupDaemon{opts: opts, logger: opts.Logger}
}

// heartbeatCycler reports each finished cycle to the health server.
type heartbeatCycler struct {
	gc.Cycler
	health *server.HealthServer
	name   string
}

func (c heartbeatCycler) RunCycle(ctx context.Context) (cleanup.CycleReport, error) {
	report, err := c.Cycler.RunCycle(ctx)
	c.health.Heartbeat(c.name)
	return report, err
}

func workerName(lt housekeeping.LifecycleType) string {
	return "cleanup-" + string(lt)
}

// build wires engines and workers. Metrics are passed in so tests can use
// a private registry.
func (d *CleanupDaemon) build(ctx context.Context, hk *metrics.HousekeepingMetrics, objMetrics objectstore.MetricsRecorder) error {
	cfg := d.opts.Config

	d.store = d.opts.Store
	if d.store == nil {
		st, err := openStore(ctx, cfg.Database)
		if err != nil {
			return err
		}
		d.store = st
		d.ownsStore = true
	}

	cat := d.opts.Catalog
	if cat == nil {
		c, err := newCatalog(ctx, cfg.Catalog, cfg.ObjectStore)
		if err != nil {
			return err
		}
		cat = c
	}

	objects := d.opts.ObjectStore
	if objects == nil {
		s, err := newObjectStore(ctx, cfg.ObjectStore, objMetrics)
		if err != nil {
			return err
		}
		objects = s
	}

	d.healthServer = server.NewHealthServer(cfg.Observability.HealthAddr, d.logger)
	d.healthServer.RegisterReadinessCheck(server.NewStoreChecker(d.store))
	d.healthServer.RegisterReadinessCheck(server.NewCatalogChecker(cat))
	d.healthServer.RegisterReadinessCheck(server.NewObjectStoreChecker(objects, cfg.ObjectStore.Buckets))
	// A worker is stale after missing three cycles.
	d.healthServer.SetStaleAfter(3 * cfg.Cleanup.ScanInterval())

	engineCfg := cleanup.EngineConfig{
		DryRun:         cfg.Cleanup.DryRun,
		PageSize:       cfg.Cleanup.PageSize,
		AllowedBuckets: cfg.ObjectStore.Buckets,
	}

	var cyclers []gc.Cycler
	d.engines = nil
	for _, lt := range cfg.Cleanup.LifecycleTypes() {
		handler, err := newHandler(lt, d.store)
		if err != nil {
			return err
		}
		engine := cleanup.NewEngine(engineCfg, cleanup.Deps{
			Store:       d.store,
			Catalog:     cat,
			ObjectStore: objects,
			Handler:     handler,
			Recorder:    hk,
			Logger:      d.logger,
		})
		d.engines = append(d.engines, engine)
		cyclers = append(cyclers, heartbeatCycler{Cycler: engine, health: d.healthServer, name: workerName(lt)})
	}

	d.cleanupWorker = gc.NewCleanupWorker(cyclers, gc.CleanupWorkerConfig{
		ScanIntervalMs: cfg.Cleanup.ScanIntervalMs,
		Logger:         d.logger,
	})

	if cfg.Retention.Enabled {
		d.retentionWorker = gc.NewRetentionWorker(d.store, gc.RetentionWorkerConfig{
			ScanIntervalMs: cfg.Retention.IntervalMs,
			AgeDays:        cfg.Retention.AgeDays,
			Recorder:       hk,
			Logger:         d.logger,
		})
	}
	return nil
}

func newHandler(lt housekeeping.LifecycleType, st *store.Store) (cleanup.LifecycleHandler, error) {
	switch lt {
	case housekeeping.LifecycleExpired:
		return cleanup.NewExpiredHandler(st), nil
	case housekeeping.LifecycleUnreferenced:
		return cleanup.NewUnreferencedHandler(st), nil
	default:
		return nil, fmt.Errorf("no cleanup handler for lifecycle type %q", lt)
	}
}

// Start launches the workers and blocks until ctx is done.
func (d *CleanupDaemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("cleanup already started")
	}
	d.started = true
	err := d.setup(ctx)
	d.mu.Unlock()
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func (d *CleanupDaemon) setup(ctx context.Context) error {
	cfg := d.opts.Config
	d.logger.Infof("starting cleanup", map[string]any{
		"version":    d.opts.Version,
		"dryRun":     cfg.Cleanup.DryRun,
		"lifecycles": cfg.Cleanup.Lifecycles,
	})

	if err := d.build(ctx, metrics.NewHousekeepingMetrics(), metrics.NewObjectStoreMetrics()); err != nil {
		return err
	}

	if cfg.Observability.HealthAddr != "" {
		if err := d.healthServer.Start(); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
	}
	if cfg.Observability.MetricsAddr != "" {
		d.metricsServer = metrics.NewServer(cfg.Observability.MetricsAddr)
		if err := d.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}
	d.backlog = metrics.NewBacklogScanner(metrics.NewBacklogMetrics(), d.store, backlogInterval, d.logger)
	d.backlog.Start()

	for _, e := range d.engines {
		d.healthServer.RegisterWorker(workerName(e.LifecycleType()))
	}
	d.cleanupWorker.Start()
	if d.retentionWorker != nil {
		d.retentionWorker.Start()
	}
	return nil
}

// Shutdown stops the workers, waiting for an in-flight cycle to finish.
func (d *CleanupDaemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}

	d.logger.Info("shutting down cleanup")
	if d.healthServer != nil {
		d.healthServer.SetShuttingDown()
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if d.cleanupWorker != nil {
			d.cleanupWorker.Stop()
		}
		if d.retentionWorker != nil {
			d.retentionWorker.Stop()
		}
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		d.logger.Warn("shutdown context cancelled, forcing stop")
	}

	closeObservability(d.logger, d.backlog, d.healthServer, d.metricsServer)
	if d.ownsStore && d.store != nil {
		if err := d.store.Close(); err != nil {
			return fmt.Errorf("failed to close record store: %w", err)
		}
	}
	return nil
}

func closeObservability(logger *logging.Logger, backlog *metrics.BacklogScanner, health *server.HealthServer, metricsServer *metrics.Server) {
	if backlog != nil {
		backlog.Stop()
	}
	if health != nil {
		if err := health.Close(); err != nil {
			logger.Warnf("error closing health server", map[string]any{"error": err.Error()})
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Close(); err != nil {
			logger.Warnf("error closing metrics server", map[string]any{"error": err.Error()})
		}
	}
}
