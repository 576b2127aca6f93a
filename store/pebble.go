package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/oshdb_errors"
	"github.com/cockroachdb/pebble"
)

// Key layout:
//
//	'M' type                          table marker
//	'C' type partition(2) levelID(8)  cell blob
const (
	metaPrefix = 'M'
	cellPrefix = 'C'
	cellKeyLen = 1 + 1 + 2 + 8
)

// MaxPartitions is the most partitions a two-byte key prefix can address.
const MaxPartitions = 1<<16 - 1

type PebbleOptions struct {
	Partitions int
	Sync       bool
	Pebble     pebble.Options
}

func (o *PebbleOptions) SetDefaults() {
	if o.Partitions <= 0 {
		o.Partitions = 1024
	}
	if o.Partitions > MaxPartitions {
		o.Partitions = MaxPartitions
	}
}

// Pebble stores cells grouped by partition, so that one partition is a
// contiguous key range.
type Pebble struct {
	db     *pebble.DB
	dir    string
	opts   PebbleOptions
	wopts  *pebble.WriteOptions
	closed atomic.Bool
}

func OpenPebble(dir string, opts PebbleOptions) (*Pebble, error) {
	opts.SetDefaults()
	db, err := pebble.Open(dir, &opts.Pebble)
	if err != nil {
		return nil, err
	}
	return &Pebble{
		db:    db,
		dir:   dir,
		opts:  opts,
		wopts: &pebble.WriteOptions{Sync: opts.Sync},
	}, nil
}

func metaKey(t history.EntityType) []byte {
	return []byte{metaPrefix, byte(t)}
}

func partitionPrefix(t history.EntityType, partition int) []byte {
	key := make([]byte, 4, cellKeyLen)
	key[0] = cellPrefix
	key[1] = byte(t)
	binary.BigEndian.PutUint16(key[2:], uint16(partition))
	return key
}

func cellKey(t history.EntityType, partition int, id grid.CellID) []byte {
	return id.AppendBytes(partitionPrefix(t, partition))
}

func (p *Pebble) Partitions() int { return p.opts.Partitions }

func (p *Pebble) Dir() string { return p.dir }

func (p *Pebble) DB() *pebble.DB { return p.db }

func (p *Pebble) PartitionOf(id grid.CellID) int {
	return PartitionOf(id, p.opts.Partitions)
}

func (p *Pebble) CreateTable(t history.EntityType) error {
	if p.closed.Load() {
		return oshdb_errors.ErrClosed
	}
	return p.db.Set(metaKey(t), nil, p.wopts)
}

func (p *Pebble) HasTable(t history.EntityType) (bool, error) {
	if p.closed.Load() {
		return false, oshdb_errors.ErrClosed
	}
	_, closer, err := p.db.Get(metaKey(t))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	_ = closer.Close()
	return true, nil
}

func (p *Pebble) Put(ctx context.Context, t history.EntityType, id grid.CellID, data []byte) error {
	return p.PutBatch(ctx, t, []Entry{{ID: id, Data: data}})
}

// PutBatch writes all entries atomically; the table must exist.
func (p *Pebble) PutBatch(_ context.Context, t history.EntityType, entries []Entry) error {
	ok, err := p.HasTable(t)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", oshdb_errors.ErrTableNotFound, TableName(t))
	}
	for _, e := range entries {
		if !e.ID.Valid() {
			return fmt.Errorf("%w: %s", grid.ErrBadCellID, e.ID)
		}
	}
	batch := p.db.NewBatch()
	defer batch.Close()
	for _, e := range entries {
		if err := batch.Set(cellKey(t, p.PartitionOf(e.ID), e.ID), e.Data, nil); err != nil {
			return err
		}
	}
	return batch.Commit(p.wopts)
}

// Get is a local peek: it returns nil for an absent cell.
func (p *Pebble) Get(_ context.Context, t history.EntityType, id grid.CellID) ([]byte, error) {
	if p.closed.Load() {
		return nil, oshdb_errors.ErrClosed
	}
	val, closer, err := p.db.Get(cellKey(t, p.PartitionOf(id), id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

// Scan walks one partition of table t in key order, yielding the cells
// accepted by pred (all cells when pred is nil).
func (p *Pebble) Scan(t history.EntityType, partition int, pred func(grid.CellID) bool) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if p.closed.Load() {
			yield(Entry{}, oshdb_errors.ErrClosed)
			return
		}
		it, err := p.db.NewIter(&pebble.IterOptions{
			LowerBound: partitionPrefix(t, partition),
			UpperBound: partitionPrefix(t, partition+1),
		})
		if err != nil {
			yield(Entry{}, err)
			return
		}
		defer it.Close()

		for valid := it.First(); valid; valid = it.Next() {
			key := it.Key()
			if len(key) != cellKeyLen {
				continue
			}
			id, err := grid.CellIDFromBytes(key[4:])
			if err != nil {
				if !yield(Entry{}, err) {
					return
				}
				continue
			}
			if pred != nil && !pred(id) {
				continue
			}
			if !yield(Entry{ID: id, Data: append([]byte(nil), it.Value()...)}, nil) {
				return
			}
		}
		if err := it.Error(); err != nil {
			yield(Entry{}, err)
		}
	}
}

func (p *Pebble) Metrics() *pebble.Metrics {
	return p.db.Metrics()
}

func (p *Pebble) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.db.Close()
}
