package housekeeping

import (
	"testing"
	"time"
)

func TestCleanupTimestamp(t *testing.T) {
	creation := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	got := CleanupTimestamp(creation, Days(3))
	if want := creation.Add(72 * time.Hour); !got.Equal(want) {
		t.Errorf("CleanupTimestamp = %v, want %v", got, want)
	}
}

func TestMergeCleanupTimestamp(t *testing.T) {
	now := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	tableCandidate := Hours(3).AddTo(now)
	partitionMax := Days(30).AddTo(now)

	tests := []struct {
		name         string
		candidate    time.Time
		maxPartition time.Time
		want         time.Time
	}{
		{"partition scheduled later wins", tableCandidate, partitionMax, partitionMax},
		{"table delay wins when later", partitionMax, tableCandidate, partitionMax},
		{"no partitions", tableCandidate, time.Time{}, tableCandidate},
		{"equal", tableCandidate, tableCandidate, tableCandidate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeCleanupTimestamp(tt.candidate, tt.maxPartition)
			if !got.Equal(tt.want) {
				t.Errorf("MergeCleanupTimestamp = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntity_Due(t *testing.T) {
	now := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	base := Entity{
		Status:            StatusFailed,
		CleanupTimestamp:  now.Add(-time.Hour),
		ModifiedTimestamp: now.Add(-time.Hour),
	}

	e := base
	e.CleanupAttempts = MaxCleanupAttempts - 1
	if !e.Due(now) {
		t.Error("record with 9 attempts should be due")
	}

	e.CleanupAttempts = MaxCleanupAttempts
	if e.Due(now) {
		t.Error("record with 10 attempts must not be due")
	}

	e = base
	e.Status = StatusDeleted
	if e.Due(now) {
		t.Error("deleted record must not be due")
	}

	e = base
	e.CleanupTimestamp = now.Add(time.Second)
	if e.Due(now) {
		t.Error("record with future cleanup timestamp must not be due")
	}
}

func TestIdentity_String(t *testing.T) {
	table := Identity{DatabaseName: "db", TableName: "tbl"}
	if got := table.String(); got != "db.tbl" {
		t.Errorf("String() = %q", got)
	}
	part := Identity{DatabaseName: "db", TableName: "tbl", PartitionName: Partition("dt=2024-01-01")}
	if got := part.String(); got != "db.tbl/dt=2024-01-01" {
		t.Errorf("String() = %q", got)
	}
	if part.IsTable() || !part.Table().IsTable() {
		t.Error("Table() should drop the partition")
	}
}

func TestEntity_Key(t *testing.T) {
	e := Entity{DatabaseName: "db", TableName: "tbl", Path: "s3://b/tbl", LifecycleType: LifecycleExpired}
	if k := e.Key(); k.Path != "" || k.LifecycleType != LifecycleExpired {
		t.Errorf("expired key = %+v, path must not be part of it", k)
	}
	e.LifecycleType = LifecycleUnreferenced
	if k := e.Key(); k.Path != "s3://b/tbl" {
		t.Errorf("unreferenced key = %+v, want path", k)
	}
	if got := e.Key().String(); got != "UNREFERENCED db.tbl s3://b/tbl" {
		t.Errorf("String() = %q", got)
	}
}

func TestParseStatusAndLifecycle(t *testing.T) {
	if s, err := ParseStatus("failed"); err != nil || s != StatusFailed {
		t.Errorf("ParseStatus(failed) = %v, %v", s, err)
	}
	if _, err := ParseStatus("gone"); err == nil {
		t.Error("expected error for unknown status")
	}
	if lt, err := ParseLifecycleType("unreferenced"); err != nil || lt != LifecycleUnreferenced {
		t.Errorf("ParseLifecycleType = %v, %v", lt, err)
	}
}
