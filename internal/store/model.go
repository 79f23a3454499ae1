package store

import (
	"time"

	"github.com/dray-io/housekeeper/internal/housekeeping"
)

// metadataRow is the persisted form of a housekeeping.Entity.
type metadataRow struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement"`
	Path               string    `gorm:"not null"`
	DatabaseName       string    `gorm:"not null;index:idx_housekeeping_metadata_table,priority:1"`
	TblName            string    `gorm:"column:table_name;not null;index:idx_housekeeping_metadata_table,priority:2"`
	PartitionName      *string   `gorm:"index:idx_housekeeping_metadata_table,priority:3"`
	PathKey            string    `gorm:"not null;default:''"`
	HousekeepingStatus string    `gorm:"not null;index"`
	LifecycleType      string    `gorm:"not null"`
	CleanupDelay       string    `gorm:"not null"`
	CreationTimestamp  time.Time `gorm:"not null"`
	ModifiedTimestamp  time.Time `gorm:"not null;index"`
	CleanupTimestamp   time.Time `gorm:"not null"`
	CleanupAttempts    int       `gorm:"not null"`
	ClientID           string
}

func (metadataRow) TableName() string {
	return "housekeeping_metadata"
}

// historyRow is the persisted form of a housekeeping.HistoryEntry.
type historyRow struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	EventTimestamp time.Time `gorm:"not null;index"`
	DatabaseName   string    `gorm:"not null;index:idx_housekeeping_history_table,priority:1"`
	TblName        string    `gorm:"column:table_name;not null;index:idx_housekeeping_history_table,priority:2"`
	PartitionName  *string
	Path           string
	LifecycleType  string `gorm:"not null"`
	Status         string `gorm:"not null"`
	ClientID       string
	Attempts       int
}

func (historyRow) TableName() string {
	return "housekeeping_history"
}

func rowFromEntity(e *housekeeping.Entity) metadataRow {
	return metadataRow{
		ID:                 e.ID,
		Path:               e.Path,
		DatabaseName:       e.DatabaseName,
		TblName:            e.TableName,
		PartitionName:      e.PartitionName,
		PathKey:            e.Key().Path,
		HousekeepingStatus: string(e.Status),
		LifecycleType:      string(e.LifecycleType),
		CleanupDelay:       e.CleanupDelay.String(),
		CreationTimestamp:  e.CreationTimestamp.UTC(),
		ModifiedTimestamp:  e.ModifiedTimestamp.UTC(),
		CleanupTimestamp:   e.CleanupTimestamp.UTC(),
		CleanupAttempts:    e.CleanupAttempts,
		ClientID:           e.ClientID,
	}
}

func (r *metadataRow) entity() (housekeeping.Entity, error) {
	delay, err := housekeeping.ParsePeriod(r.CleanupDelay)
	if err != nil {
		return housekeeping.Entity{}, err
	}
	return housekeeping.Entity{
		ID:                r.ID,
		Path:              r.Path,
		DatabaseName:      r.DatabaseName,
		TableName:         r.TblName,
		PartitionName:     r.PartitionName,
		Status:            housekeeping.Status(r.HousekeepingStatus),
		LifecycleType:     housekeeping.LifecycleType(r.LifecycleType),
		CleanupDelay:      delay,
		CreationTimestamp: r.CreationTimestamp.UTC(),
		ModifiedTimestamp: r.ModifiedTimestamp.UTC(),
		CleanupTimestamp:  r.CleanupTimestamp.UTC(),
		CleanupAttempts:   r.CleanupAttempts,
		ClientID:          r.ClientID,
	}, nil
}

func entitiesFromRows(rows []metadataRow) ([]housekeeping.Entity, error) {
	out := make([]housekeeping.Entity, 0, len(rows))
	for i := range rows {
		e, err := rows[i].entity()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func historyRowFromEntry(h housekeeping.HistoryEntry) historyRow {
	return historyRow{
		EventTimestamp: h.EventTimestamp.UTC(),
		DatabaseName:   h.DatabaseName,
		TblName:        h.TableName,
		PartitionName:  h.PartitionName,
		Path:           h.Path,
		LifecycleType:  string(h.LifecycleType),
		Status:         string(h.Status),
		ClientID:       h.ClientID,
		Attempts:       h.Attempts,
	}
}

func (r *historyRow) entry() housekeeping.HistoryEntry {
	return housekeeping.HistoryEntry{
		ID:             r.ID,
		EventTimestamp: r.EventTimestamp.UTC(),
		DatabaseName:   r.DatabaseName,
		TableName:      r.TblName,
		PartitionName:  r.PartitionName,
		Path:           r.Path,
		LifecycleType:  housekeeping.LifecycleType(r.LifecycleType),
		Status:         housekeeping.Status(r.Status),
		ClientID:       r.ClientID,
		Attempts:       r.Attempts,
	}
}
