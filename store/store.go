// Package store holds key-value cell stores: a plain in-memory map, a
// partitioned pebble store used by cluster nodes, and an LRU reader cache.
package store

import (
	"context"
	"fmt"

	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/oshdb_errors"
	"github.com/cespare/xxhash/v2"
)

// Reader fetches the raw blob of one cell. A nil blob with a nil error
// means the cell holds no data.
type Reader interface {
	Get(ctx context.Context, t history.EntityType, id grid.CellID) ([]byte, error)
}

type Writer interface {
	Put(ctx context.Context, t history.EntityType, id grid.CellID, data []byte) error
}

type Tables interface {
	HasTable(t history.EntityType) (bool, error)
}

// Entry is one stored cell.
type Entry struct {
	ID   grid.CellID
	Data []byte
}

// TableName is the sub-store name for entity type t.
func TableName(t history.EntityType) string {
	return "grid_" + t.String()
}

// CheckTables fails with ErrTableNotFound on the first type that has no
// sub-store.
func CheckTables(tables Tables, types []history.EntityType) error {
	for _, t := range types {
		ok, err := tables.HasTable(t)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", oshdb_errors.ErrTableNotFound, TableName(t))
		}
	}
	return nil
}

// PartitionOf maps a cell key onto one of n partitions.
func PartitionOf(id grid.CellID, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64(id.Bytes()) % uint64(n))
}
