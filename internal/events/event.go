// Package events turns metastore lifecycle events read from Kafka into
// housekeeping candidates and hands them to the scheduler.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dray-io/housekeeper/internal/housekeeping"
)

// Type is the metastore operation an event reports.
type Type string

const (
	CreateTable    Type = "CREATE_TABLE"
	AlterTable     Type = "ALTER_TABLE"
	DropTable      Type = "DROP_TABLE"
	AddPartition   Type = "ADD_PARTITION"
	AlterPartition Type = "ALTER_PARTITION"
	DropPartition  Type = "DROP_PARTITION"
	InsertTable    Type = "INSERT"
)

// Table parameters that opt a table into housekeeping.
const (
	ParamRemoveExpired      = "beekeeper.remove.expired.data"
	ParamExpiredPeriod      = "beekeeper.expired.data.retention.period"
	ParamRemoveUnreferenced = "beekeeper.remove.unreferenced.data"
	ParamUnreferencedPeriod = "beekeeper.unreferenced.data.retention.period"
	DefaultClientID         = "apiary-metastore-event"
)

// ErrMalformed marks events that can never be scheduled. They are
// acknowledged and dropped rather than redelivered.
var ErrMalformed = errors.New("malformed event")

// Event is one metastore lifecycle event.
type Event struct {
	Type                 Type              `json:"eventType"`
	DatabaseName         string            `json:"dbName"`
	TableName            string            `json:"tableName"`
	TableLocation        string            `json:"tableLocation,omitempty"`
	OldTableLocation     string            `json:"oldTableLocation,omitempty"`
	PartitionName        string            `json:"partitionName,omitempty"`
	PartitionLocation    string            `json:"partitionLocation,omitempty"`
	OldPartitionLocation string            `json:"oldPartitionLocation,omitempty"`
	TableParameters      map[string]string `json:"tableParameters,omitempty"`
	ClientID             string            `json:"clientId,omitempty"`
}

// Decode parses a JSON event.
func Decode(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.Type == "" || ev.DatabaseName == "" || ev.TableName == "" {
		return nil, fmt.Errorf("%w: eventType, dbName and tableName are required", ErrMalformed)
	}
	ev.Type = Type(strings.ToUpper(string(ev.Type)))
	return &ev, nil
}

// Defaults are the cleanup delays used when a table opts in without a
// retention period parameter.
type Defaults struct {
	ExpiredDelay      housekeeping.Period
	UnreferencedDelay housekeeping.Period
}

// DefaultDelays returns 30 days for expired data and 3 days for
// unreferenced data.
func DefaultDelays() Defaults {
	return Defaults{
		ExpiredDelay:      housekeeping.Days(30),
		UnreferencedDelay: housekeeping.Days(3),
	}
}

func (ev *Event) param(key string) string {
	return strings.TrimSpace(ev.TableParameters[key])
}

func (ev *Event) enabled(key string) bool {
	return strings.EqualFold(ev.param(key), "true")
}

func (ev *Event) delay(key string, fallback housekeeping.Period) (housekeeping.Period, error) {
	v := ev.param(key)
	if v == "" {
		return fallback, nil
	}
	p, err := housekeeping.ParsePeriod(v)
	if err != nil {
		return housekeeping.Period{}, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return p, nil
}

// Entities returns the candidates the event produces. Events for tables
// that have not opted in produce none.
func (ev *Event) Entities(d Defaults) ([]housekeeping.Entity, error) {
	var out []housekeeping.Entity
	if ev.enabled(ParamRemoveExpired) {
		e, ok, err := ev.expired(d)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	if ev.enabled(ParamRemoveUnreferenced) {
		e, ok, err := ev.unreferenced(d)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (ev *Event) base(lifecycle housekeeping.LifecycleType, delay housekeeping.Period) housekeeping.Entity {
	client := ev.ClientID
	if client == "" {
		client = DefaultClientID
	}
	return housekeeping.Entity{
		DatabaseName:  ev.DatabaseName,
		TableName:     ev.TableName,
		Status:        housekeeping.StatusScheduled,
		LifecycleType: lifecycle,
		CleanupDelay:  delay,
		ClientID:      client,
	}
}

// expired schedules the current location of a created or altered table or
// partition.
func (ev *Event) expired(d Defaults) (housekeeping.Entity, bool, error) {
	delay, err := ev.delay(ParamExpiredPeriod, d.ExpiredDelay)
	if err != nil {
		return housekeeping.Entity{}, false, err
	}
	e := ev.base(housekeeping.LifecycleExpired, delay)
	switch ev.Type {
	case CreateTable, AlterTable:
		e.Path = ev.TableLocation
	case AddPartition, AlterPartition:
		if ev.PartitionName == "" {
			return e, false, fmt.Errorf("%w: %s without partitionName", ErrMalformed, ev.Type)
		}
		e.PartitionName = housekeeping.Partition(ev.PartitionName)
		e.Path = ev.PartitionLocation
	default:
		return e, false, nil
	}
	if e.Path == "" {
		return e, false, fmt.Errorf("%w: %s without location", ErrMalformed, ev.Type)
	}
	return e, true, nil
}

// unreferenced schedules a location nothing points at any more: the old
// location after a move, or the location of a dropped table or partition.
func (ev *Event) unreferenced(d Defaults) (housekeeping.Entity, bool, error) {
	delay, err := ev.delay(ParamUnreferencedPeriod, d.UnreferencedDelay)
	if err != nil {
		return housekeeping.Entity{}, false, err
	}
	e := ev.base(housekeeping.LifecycleUnreferenced, delay)
	switch ev.Type {
	case AlterTable:
		if ev.OldTableLocation == "" || ev.OldTableLocation == ev.TableLocation {
			return e, false, nil
		}
		e.Path = ev.OldTableLocation
	case DropTable:
		e.Path = ev.TableLocation
	case AlterPartition:
		if ev.OldPartitionLocation == "" || ev.OldPartitionLocation == ev.PartitionLocation {
			return e, false, nil
		}
		e.PartitionName = housekeeping.Partition(ev.PartitionName)
		e.Path = ev.OldPartitionLocation
	case DropPartition:
		e.PartitionName = housekeeping.Partition(ev.PartitionName)
		e.Path = ev.PartitionLocation
	default:
		return e, false, nil
	}
	if e.Path == "" {
		return e, false, nil
	}
	if e.PartitionName != nil && *e.PartitionName == "" {
		return e, false, fmt.Errorf("%w: %s without partitionName", ErrMalformed, ev.Type)
	}
	return e, true, nil
}
