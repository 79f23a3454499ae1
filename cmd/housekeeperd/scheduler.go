package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/dray-io/housekeeper/internal/catalog"
	"github.com/dray-io/housekeeper/internal/config"
	"github.com/dray-io/housekeeper/internal/events"
	"github.com/dray-io/housekeeper/internal/guard"
	"github.com/dray-io/housekeeper/internal/logging"
	"github.com/dray-io/housekeeper/internal/metrics"
	"github.com/dray-io/housekeeper/internal/scheduler"
	"github.com/dray-io/housekeeper/internal/server"
	"github.com/dray-io/housekeeper/internal/store"
)

func newSchedulerCmd(root *rootOptions) *cobra.Command {
	var healthAddr string
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Consume metastore events and schedule housekeeping records",
		Long: `Consume metastore lifecycle events from Kafka and schedule expired and
unreferenced data for deletion. Tables and partitions opt in through the
beekeeper.remove.expired.data and beekeeper.remove.unreferenced.data
table parameters.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if healthAddr != "" {
				cfg.Observability.HealthAddr = healthAddr
			}
			logger := newLogger(cfg)
			return runDaemon(cmd.Context(), "scheduler", NewSchedulerDaemon(SchedulerOptions{
				Config:  cfg,
				Logger:  logger,
				Version: version,
			}), logger)
		},
	}
	cmd.Flags().StringVar(&healthAddr, "health-addr", "", "Override health endpoint address (e.g., :8080)")
	return cmd
}

// SchedulerOptions configures a SchedulerDaemon. Store and Catalog are
// built from Config when nil.
type SchedulerOptions struct {
	Config  *config.Config
	Logger  *logging.Logger
	Version string

	Store   *store.Store
	Catalog catalog.Catalog
}

// SchedulerDaemon runs the event consumer that feeds the scheduling service.
type SchedulerDaemon struct {
	opts   SchedulerOptions
	logger *logging.Logger

	store         *store.Store
	ownsStore     bool
	service       *scheduler.Service
	consumer      *events.Consumer
	healthServer  *server.HealthServer
	metricsServer *metrics.Server
	backlog       *metrics.BacklogScanner

	mu      sync.Mutex
	started bool
}

// NewSchedulerDaemon creates a SchedulerDaemon.
func NewSchedulerDaemon(opts SchedulerOptions) *SchedulerDaemon {
	if opts.Logger == nil {
		opts.Logger = logging.Global()
	}
	return &SchedulerDaemon{opts: opts, logger: opts.Logger}
}

// buildService wires the store, catalog, guard and lifecycle schedulers.
func (d *SchedulerDaemon) buildService(ctx context.Context, hk *metrics.HousekeepingMetrics) error {
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

	retries := cfg.Scheduler.ConflictRetries
	d.service = scheduler.NewService(scheduler.ServiceConfig{
		Schedulers: []scheduler.Scheduler{
			scheduler.NewExpiredScheduler(scheduler.ExpiredConfig{
				Store:           d.store,
				Catalog:         cat,
				Logger:          d.logger,
				ConflictRetries: retries,
			}),
			scheduler.NewUnreferencedScheduler(scheduler.UnreferencedConfig{
				Store:           d.store,
				Logger:          d.logger,
				ConflictRetries: retries,
			}),
		},
		Guard:    guard.NewIcebergGuard(cat),
		Recorder: hk,
		Logger:   d.logger,
	})

	d.healthServer = server.NewHealthServer(cfg.Observability.HealthAddr, d.logger)
	d.healthServer.RegisterReadinessCheck(server.NewStoreChecker(d.store))
	d.healthServer.RegisterReadinessCheck(server.NewCatalogChecker(cat))
	return nil
}

// Start connects to Kafka and consumes events until ctx is done.
func (d *SchedulerDaemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	d.started = true
	err := d.setup(ctx)
	d.mu.Unlock()
	if err != nil {
		return err
	}

	d.healthServer.RegisterWorker("event-consumer")
	defer d.healthServer.WorkerStopped("event-consumer")

	if err := d.consumer.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// setup runs with d.mu held so Shutdown never sees a half-built daemon.
func (d *SchedulerDaemon) setup(ctx context.Context) error {
	cfg := d.opts.Config
	d.logger.Infof("starting scheduler", map[string]any{
		"version": d.opts.Version,
		"topic":   cfg.Events.Topic,
		"group":   cfg.Events.Group,
	})

	if err := d.buildService(ctx, metrics.NewHousekeepingMetrics()); err != nil {
		return err
	}

	auth := events.SASL{
		Mechanism: cfg.Events.SASLMechanism,
		Username:  cfg.Events.SASLUsername,
		Password:  cfg.Events.SASLPassword,
	}
	if cfg.Events.CreateTopic {
		if err := events.EnsureTopic(ctx, cfg.Events.Brokers, auth, cfg.Events.Topic, cfg.Events.Partitions, cfg.Events.ReplicationFactor); err != nil {
			return err
		}
	}

	expired, unreferenced := cfg.Scheduler.Delays()
	consumer, err := events.NewConsumer(events.ConsumerConfig{
		Brokers:      cfg.Events.Brokers,
		Topic:        cfg.Events.Topic,
		Group:        cfg.Events.Group,
		SASL:         auth,
		RetryBackoff: cfg.Events.RetryBackoff(),
		Defaults: events.Defaults{
			ExpiredDelay:      expired,
			UnreferencedDelay: unreferenced,
		},
		Logger: d.logger,
	}, d.service)
	if err != nil {
		return fmt.Errorf("failed to create event consumer: %w", err)
	}
	d.consumer = consumer

	return d.startObservability()
}

func (d *SchedulerDaemon) startObservability() error {
	cfg := d.opts.Config
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
	return nil
}

// Shutdown stops consuming and releases resources.
func (d *SchedulerDaemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}

	d.logger.Info("shutting down scheduler")
	if d.healthServer != nil {
		d.healthServer.SetShuttingDown()
	}
	if d.consumer != nil {
		d.consumer.Close()
	}
	closeObservability(d.logger, d.backlog, d.healthServer, d.metricsServer)
	if d.ownsStore && d.store != nil {
		if err := d.store.Close(); err != nil {
			return fmt.Errorf("failed to close record store: %w", err)
		}
	}
	return nil
}
