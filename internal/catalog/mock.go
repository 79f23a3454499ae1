package catalog

import (
	"context"
	"maps"
	"sync"
)

// MockTable is a table registered in a MockCatalog.
type MockTable struct {
	Location     string
	OutputFormat string
	Properties   map[string]string
	// Partitions maps partition name to location.
	Partitions map[string]string
}

// MockCatalog is an in-memory Catalog for tests and local runs.
type MockCatalog struct {
	mu     sync.RWMutex
	tables map[string]*MockTable

	// Err, when set, is returned by every operation.
	Err error
}

// NewMockCatalog creates an empty MockCatalog.
func NewMockCatalog() *MockCatalog {
	return &MockCatalog{tables: make(map[string]*MockTable)}
}

var _ Catalog = (*MockCatalog)(nil)

func mockKey(database, table string) string {
	return database + "." + table
}

// AddTable registers a table, replacing any previous definition.
func (c *MockCatalog) AddTable(database, table string, t MockTable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Partitions == nil {
		t.Partitions = make(map[string]string)
	}
	if t.Properties == nil {
		t.Properties = make(map[string]string)
	}
	c.tables[mockKey(database, table)] = &t
}

// AddPartition registers a partition on an existing table.
func (c *MockCatalog) AddPartition(database, table, partitionName, location string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tables[mockKey(database, table)]; ok {
		t.Partitions[partitionName] = location
	}
}

// HasPartition reports whether the partition is registered.
func (c *MockCatalog) HasPartition(database, table, partitionName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[mockKey(database, table)]
	if !ok {
		return false
	}
	_, ok = t.Partitions[partitionName]
	return ok
}

func (c *MockCatalog) TableExists(ctx context.Context, database, table string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Err != nil {
		return false, c.Err
	}
	_, ok := c.tables[mockKey(database, table)]
	return ok, nil
}

func (c *MockCatalog) DropTable(ctx context.Context, database, table string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return &Error{Op: "DropTable", Database: database, Table: table, Err: c.Err}
	}
	key := mockKey(database, table)
	if _, ok := c.tables[key]; !ok {
		return &Error{Op: "DropTable", Database: database, Table: table, Err: ErrNotFound}
	}
	delete(c.tables, key)
	return nil
}

func (c *MockCatalog) DropPartition(ctx context.Context, database, table, partitionName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return &Error{Op: "DropPartition", Database: database, Table: table, Partition: partitionName, Err: c.Err}
	}
	t, ok := c.tables[mockKey(database, table)]
	if !ok {
		return &Error{Op: "DropPartition", Database: database, Table: table, Partition: partitionName, Err: ErrNotFound}
	}
	if _, ok := t.Partitions[partitionName]; !ok {
		return &Error{Op: "DropPartition", Database: database, Table: table, Partition: partitionName, Err: ErrNotFound}
	}
	delete(t.Partitions, partitionName)
	return nil
}

func (c *MockCatalog) GetTablePartitionsAndPaths(ctx context.Context, database, table string) (map[string]string, error) {
	t, err := c.table("GetTablePartitionsAndPaths", database, table)
	if err != nil {
		return nil, err
	}
	return maps.Clone(t.Partitions), nil
}

func (c *MockCatalog) GetTableProperties(ctx context.Context, database, table string) (map[string]string, error) {
	t, err := c.table("GetTableProperties", database, table)
	if err != nil {
		return nil, err
	}
	return maps.Clone(t.Properties), nil
}

func (c *MockCatalog) GetOutputFormat(ctx context.Context, database, table string) (string, error) {
	t, err := c.table("GetOutputFormat", database, table)
	if err != nil {
		return "", err
	}
	return t.OutputFormat, nil
}

func (c *MockCatalog) table(op, database, table string) (*MockTable, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Err != nil {
		return nil, &Error{Op: op, Database: database, Table: table, Err: c.Err}
	}
	t, ok := c.tables[mockKey(database, table)]
	if !ok {
		return nil, &Error{Op: op, Database: database, Table: table, Err: ErrNotFound}
	}
	return t, nil
}
