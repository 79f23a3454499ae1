// Package store persists housekeeping records and exposes the query shapes
// the scheduling and cleanup engines depend on.
//
// Production deployments use PostgreSQL; tests and local runs can use
// SQLite. Both are accessed through gorm.
//
// # Identity
//
// At most one active (SCHEDULED or FAILED) record exists per identity
// (database, table, partition). A NULL partition is part of the identity:
// lookups match NULL only against NULL. The invariant is enforced by a
// partial unique index so two instances racing to insert the same identity
// cannot both succeed; the loser sees [ErrConflict].
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dray-io/housekeeper/internal/housekeeping"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("store: record not found")

	// ErrConflict is returned when an insert collides with an existing
	// active record for the same identity.
	ErrConflict = errors.New("store: active record already exists for identity")
)

// Config configures the database connection.
type Config struct {
	// Driver is "postgres" or "sqlite". Default: postgres.
	Driver string

	// DSN is the driver-specific connection string.
	DSN string

	// MaxOpenConns limits the connection pool. Default: 10.
	MaxOpenConns int

	// LogLevel is the gorm log level: silent, error, warn or info.
	// Default: warn.
	LogLevel string
}

// Page selects a window of an ordered query.
type Page struct {
	Offset int
	Limit  int
}

// Next returns the page following p.
func (p Page) Next() Page {
	return Page{Offset: p.Offset + p.Limit, Limit: p.Limit}
}

// Store is the housekeeping record store.
type Store struct {
	db    *gorm.DB
	clock housekeeping.Clock
}

// Open connects to the database described by cfg and migrates the schema.
func Open(ctx context.Context, cfg Config, clock housekeeping.Clock) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(parseLogLevel(cfg.LogLevel)),
		TranslateError: true,
		NowFunc: func() time.Time {
			return clockOrSystem(clock).Now()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: get connection pool: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	if cfg.Driver == "sqlite" {
		// In-memory SQLite databases exist per connection.
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)

	return New(ctx, db, clock)
}

// New wraps an existing gorm handle and migrates the schema.
func New(ctx context.Context, db *gorm.DB, clock housekeeping.Clock) (*Store, error) {
	s := &Store{db: db, clock: clockOrSystem(clock)}
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func clockOrSystem(c housekeeping.Clock) housekeeping.Clock {
	if c == nil {
		return housekeeping.SystemClock{}
	}
	return c
}

func parseLogLevel(s string) gormlogger.LogLevel {
	switch s {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// Migrate creates or updates the tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&metadataRow{}, &historyRow{}); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uq_housekeeping_metadata_active_identity
		ON housekeeping_metadata (lifecycle_type, database_name, table_name, COALESCE(partition_name, ''), path_key)
		WHERE housekeeping_status IN ('SCHEDULED', 'FAILED')`).Error
	if err != nil {
		return fmt.Errorf("store: create active identity index: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Clock returns the clock used to stamp records.
func (s *Store) Clock() housekeeping.Clock {
	return s.clock
}

// WithinTransaction runs fn with a Store bound to a single transaction.
// The transaction commits if fn returns nil and rolls back otherwise.
func (s *Store) WithinTransaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, clock: s.clock})
	})
}

func activeStatuses() []string {
	return statusStrings(housekeeping.ActiveStatuses)
}

func statusStrings(statuses []housekeeping.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func byKey(k housekeeping.RecordKey) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("lifecycle_type = ? AND path_key = ?", string(k.LifecycleType), k.Path).
			Where("database_name = ? AND table_name = ?", k.DatabaseName, k.TableName)
		if k.PartitionName == nil {
			return db.Where("partition_name IS NULL")
		}
		return db.Where("partition_name = ?", *k.PartitionName)
	}
}

func byTable(databaseName, tableName string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("database_name = ? AND table_name = ?", databaseName, tableName)
	}
}

func active(db *gorm.DB) *gorm.DB {
	return db.Where("housekeeping_status IN ?", activeStatuses())
}

// expiredPartitions selects partition-level EXPIRED records, the only ones
// that hold a table back.
func expiredPartitions(db *gorm.DB) *gorm.DB {
	return db.Where("partition_name IS NOT NULL").
		Where("lifecycle_type = ?", string(housekeeping.LifecycleExpired))
}

// Create inserts a new record. CreationTimestamp defaults to the store
// clock when zero; ModifiedTimestamp is always set to the store clock.
// The assigned ID is written back to e.
func (s *Store) Create(ctx context.Context, e *housekeeping.Entity) error {
	now := s.clock.Now()
	if e.CreationTimestamp.IsZero() {
		e.CreationTimestamp = now
	}
	e.ModifiedTimestamp = now

	row := rowFromEntity(e)
	row.ID = 0
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", ErrConflict, e.Identity())
		}
		return fmt.Errorf("store: create %s: %w", e.Identity(), err)
	}
	e.ID = row.ID
	return nil
}

// Update persists every mutable field of an existing record and refreshes
// its ModifiedTimestamp.
func (s *Store) Update(ctx context.Context, e *housekeeping.Entity) error {
	if e.ID == 0 {
		return fmt.Errorf("store: update %s: record has no id", e.Identity())
	}
	e.ModifiedTimestamp = s.clock.Now()

	row := rowFromEntity(e)
	result := s.db.WithContext(ctx).
		Model(&metadataRow{ID: e.ID}).
		Select("*").
		Omit("id").
		Updates(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", ErrConflict, e.Identity())
		}
		return fmt.Errorf("store: update %s: %w", e.Identity(), result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("store: update %s: %w", e.Identity(), ErrNotFound)
	}
	return nil
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id int64) (*housekeeping.Entity, error) {
	var rows []metadataRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: get %d: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	e, err := rows[0].entity()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FindActive returns the active record with exactly this key. A nil
// partition name only matches table-level records.
func (s *Store) FindActive(ctx context.Context, key housekeeping.RecordKey) (*housekeeping.Entity, error) {
	return s.findActive(s.db.WithContext(ctx), key)
}

// LockActive is FindActive with a row lock held until the surrounding
// transaction ends. Call it from inside WithinTransaction. SQLite has no
// row locks and serializes writers instead.
func (s *Store) LockActive(ctx context.Context, key housekeeping.RecordKey) (*housekeeping.Entity, error) {
	return s.findActive(s.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), key)
}

func (s *Store) findActive(db *gorm.DB, key housekeeping.RecordKey) (*housekeeping.Entity, error) {
	var rows []metadataRow
	err := db.Scopes(byKey(key), active).Order("id").Limit(1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: find active %s: %w", key, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	e, err := rows[0].entity()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FindDue returns one page of records due for cleanup at now for the given
// lifecycle type: active, cleanup timestamp and modified timestamp not after
// now, fewer than housekeeping.MaxCleanupAttempts attempts. Records are
// ordered oldest-modified first.
func (s *Store) FindDue(ctx context.Context, lifecycle housekeeping.LifecycleType, now time.Time, page Page) ([]housekeeping.Entity, error) {
	var rows []metadataRow
	err := s.db.WithContext(ctx).
		Scopes(active).
		Where("lifecycle_type = ?", string(lifecycle)).
		Where("cleanup_timestamp <= ?", now.UTC()).
		Where("modified_timestamp <= ?", now.UTC()).
		Where("cleanup_attempts < ?", housekeeping.MaxCleanupAttempts).
		Order("modified_timestamp").
		Order("id").
		Offset(page.Offset).
		Limit(page.Limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: find due %s records: %w", lifecycle, err)
	}
	return entitiesFromRows(rows)
}

// MaxActivePartitionCleanupTimestamp returns the latest cleanup timestamp
// over the table's active partition records, or the zero time when there
// are none.
func (s *Store) MaxActivePartitionCleanupTimestamp(ctx context.Context, databaseName, tableName string) (time.Time, error) {
	var rows []metadataRow
	err := s.db.WithContext(ctx).
		Scopes(byTable(databaseName, tableName), active, expiredPartitions).
		Order("cleanup_timestamp DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return time.Time{}, fmt.Errorf("store: max partition cleanup timestamp %s.%s: %w", databaseName, tableName, err)
	}
	if len(rows) == 0 {
		return time.Time{}, nil
	}
	return rows[0].CleanupTimestamp.UTC(), nil
}

// CountActivePartitions counts the table's active partition records.
func (s *Store) CountActivePartitions(ctx context.Context, databaseName, tableName string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&metadataRow{}).
		Scopes(byTable(databaseName, tableName), active, expiredPartitions).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("store: count partitions %s.%s: %w", databaseName, tableName, err)
	}
	return n, nil
}

// CountPendingPartitions counts the table's active partition records whose
// cleanup timestamp is at or after now. Dry runs use it because they never
// remove due partitions, so only the ones a real cycle would leave behind
// can hold a table back.
func (s *Store) CountPendingPartitions(ctx context.Context, now time.Time, databaseName, tableName string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&metadataRow{}).
		Scopes(byTable(databaseName, tableName), active, expiredPartitions).
		Where("cleanup_timestamp >= ?", now.UTC()).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("store: count pending partitions %s.%s: %w", databaseName, tableName, err)
	}
	return n, nil
}

// ActivePartitions returns the table's active partition records.
func (s *Store) ActivePartitions(ctx context.Context, databaseName, tableName string) ([]housekeeping.Entity, error) {
	var rows []metadataRow
	err := s.db.WithContext(ctx).
		Scopes(byTable(databaseName, tableName), active, expiredPartitions).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: list partitions %s.%s: %w", databaseName, tableName, err)
	}
	return entitiesFromRows(rows)
}

// DeleteActivePartitions removes the table's active partition records and
// returns how many were removed.
func (s *Store) DeleteActivePartitions(ctx context.Context, databaseName, tableName string) (int64, error) {
	result := s.db.WithContext(ctx).
		Scopes(byTable(databaseName, tableName), active, expiredPartitions).
		Delete(&metadataRow{})
	if result.Error != nil {
		return 0, fmt.Errorf("store: delete partitions %s.%s: %w", databaseName, tableName, result.Error)
	}
	return result.RowsAffected, nil
}

// ActiveTables returns every active table-level EXPIRED record.
func (s *Store) ActiveTables(ctx context.Context) ([]housekeeping.Entity, error) {
	var rows []metadataRow
	err := s.db.WithContext(ctx).
		Scopes(active).
		Where("partition_name IS NULL").
		Where("lifecycle_type = ?", string(housekeeping.LifecycleExpired)).
		Order("database_name").
		Order("table_name").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: list active tables: %w", err)
	}
	return entitiesFromRows(rows)
}

// DisableTable marks the table's active table-level EXPIRED record DISABLED
// and removes its active partition records. It returns the number of rows
// touched.
func (s *Store) DisableTable(ctx context.Context, databaseName, tableName string) (int64, error) {
	var touched int64
	err := s.WithinTransaction(ctx, func(tx *Store) error {
		deleted, err := tx.DeleteActivePartitions(ctx, databaseName, tableName)
		if err != nil {
			return err
		}
		result := tx.db.WithContext(ctx).Model(&metadataRow{}).
			Scopes(byTable(databaseName, tableName), active).
			Where("partition_name IS NULL").
			Where("lifecycle_type = ?", string(housekeeping.LifecycleExpired)).
			Updates(map[string]any{
				"housekeeping_status": string(housekeeping.StatusDisabled),
				"modified_timestamp":  tx.clock.Now().UTC(),
			})
		if result.Error != nil {
			return fmt.Errorf("store: disable %s.%s: %w", databaseName, tableName, result.Error)
		}
		touched = deleted + result.RowsAffected
		return nil
	})
	return touched, err
}

// PurgeTerminal deletes DELETED and DISABLED records whose cleanup
// timestamp is before the given instant and returns how many were removed.
func (s *Store) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("housekeeping_status IN ?", statusStrings(housekeeping.TerminalStatuses)).
		Where("cleanup_timestamp < ?", before.UTC()).
		Delete(&metadataRow{})
	if result.Error != nil {
		return 0, fmt.Errorf("store: purge terminal records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	DatabaseName  string
	TableName     string
	LifecycleType housekeeping.LifecycleType
	Statuses      []housekeeping.Status
	Limit         int
}

// List returns records matching f, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]housekeeping.Entity, error) {
	db := s.db.WithContext(ctx)
	if f.DatabaseName != "" {
		db = db.Where("database_name = ?", f.DatabaseName)
	}
	if f.TableName != "" {
		db = db.Where("table_name = ?", f.TableName)
	}
	if f.LifecycleType != "" {
		db = db.Where("lifecycle_type = ?", string(f.LifecycleType))
	}
	if len(f.Statuses) > 0 {
		db = db.Where("housekeeping_status IN ?", statusStrings(f.Statuses))
	}
	if f.Limit > 0 {
		db = db.Limit(f.Limit)
	}

	var rows []metadataRow
	if err := db.Order("id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list records: %w", err)
	}
	return entitiesFromRows(rows)
}

// CountByStatus returns the number of records per status.
func (s *Store) CountByStatus(ctx context.Context) (map[housekeeping.Status]int64, error) {
	var results []struct {
		HousekeepingStatus string
		Count              int64
	}
	err := s.db.WithContext(ctx).Model(&metadataRow{}).
		Select("housekeeping_status, COUNT(*) AS count").
		Group("housekeeping_status").
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("store: count by status: %w", err)
	}
	counts := make(map[housekeeping.Status]int64, len(results))
	for _, r := range results {
		counts[housekeeping.Status(r.HousekeepingStatus)] = r.Count
	}
	return counts, nil
}

// AppendHistory records one scheduling or cleanup outcome.
func (s *Store) AppendHistory(ctx context.Context, h housekeeping.HistoryEntry) error {
	if h.EventTimestamp.IsZero() {
		h.EventTimestamp = s.clock.Now()
	}
	row := historyRowFromEntry(h)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store: append history: %w", err)
	}
	return nil
}

// History returns the history entries for a table, oldest first. Entries
// for the table's partitions are included.
func (s *Store) History(ctx context.Context, databaseName, tableName string) ([]housekeeping.HistoryEntry, error) {
	var rows []historyRow
	err := s.db.WithContext(ctx).
		Scopes(byTable(databaseName, tableName)).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: history %s.%s: %w", databaseName, tableName, err)
	}
	out := make([]housekeeping.HistoryEntry, len(rows))
	for i := range rows {
		out[i] = rows[i].entry()
	}
	return out, nil
}

// OpenInMemory returns a store backed by a private in-memory SQLite
// database. It is meant for tests and local dry runs.
func OpenInMemory(ctx context.Context, clock housekeeping.Clock) (*Store, error) {
	return Open(ctx, Config{Driver: "sqlite", DSN: ":memory:", LogLevel: "silent"}, clock)
}
