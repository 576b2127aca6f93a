package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GIScience/oshdb-sub001/cluster"
	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/kernel"
	"github.com/GIScience/oshdb-sub001/sqlstore"
	"github.com/GIScience/oshdb-sub001/store"
	testutils "github.com/GIScience/oshdb-sub001/test_utils"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

var fixtureTypes = []history.EntityType{history.Node, history.Way}

// ten cells on zoom 10, every other one populated
var fixtureRanges = []grid.CellIDRange{{Zoom: 10, From: 100, To: 109}}

type fixture struct {
	cells    []*history.Cell
	expected int
	backends []Backend
	mem      *store.Memory
	sql      *sqlstore.Store
	cluster  *cluster.Cluster
}

func newFixture(t *testing.T) *fixture {
	ctx := context.Background()
	cells := testutils.Generate(testutils.Params{
		Zoom:     10,
		IDs:      []uint64{100, 102, 104, 106, 108},
		Types:    fixtureTypes,
		Entities: 4,
		Versions: 3,
		Seed:     7,
	})

	mem := store.NewMemory()
	for _, typ := range fixtureTypes {
		mem.CreateTable(typ)
	}
	require.NoError(t, testutils.Load(ctx, mem, cells))

	dir, err := os.MkdirTemp("", "oshdb-backend-*")
	require.NoError(t, err)
	sqls, err := sqlstore.Open("sqlite", filepath.Join(dir, "cells.db"), sqlstore.Options{})
	require.NoError(t, err)
	require.NoError(t, sqls.CreateTables(ctx, fixtureTypes...))
	require.NoError(t, testutils.Load(ctx, sqls, cells))

	c := cluster.New(cluster.Options{Partitions: 16, Backups: 1})
	for i := range 3 {
		_, err := c.Join(cluster.NodeID(fmt.Sprintf("node-%d", i)), &cluster.NodeWorkersOpt{Workers: 2})
		require.NoError(t, err)
	}
	for _, typ := range fixtureTypes {
		require.NoError(t, c.CreateCache(typ))
	}
	require.NoError(t, testutils.Load(ctx, c, cells))

	t.Cleanup(func() {
		_ = c.Close()
		_ = sqls.Close()
		_ = os.RemoveAll(dir)
	})

	return &fixture{
		cells:    cells,
		expected: testutils.Contributions(cells),
		mem:      mem,
		sql:      sqls,
		cluster:  c,
		backends: []Backend{
			&Memory{Store: mem},
			&SQLSequential{Store: sqls},
			&SQLParallel{Store: sqls, Workers: 3},
			&CellCall{Cluster: c},
			&LocalPeek{Cluster: c},
			&ScanQuery{Cluster: c},
		},
	}
}

// countJob counts the contributions of every cell.
type countJob struct {
	cells   atomic.Int64
	delay   time.Duration
	fail    error
	panics  bool
	onCell  func()
	grouped bool
}

func (j *countJob) Identity() any { return 0 }

func (j *countJob) Combine(a, b any) any { return a.(int) + b.(int) }

func (j *countJob) Cell(ctx context.Context, ref CellRef, data []byte, token *kernel.Token) (any, error) {
	j.cells.Add(1)
	if j.onCell != nil {
		j.onCell()
	}
	if j.panics {
		panic("mapper exploded")
	}
	if j.fail != nil {
		return nil, j.fail
	}
	if j.delay > 0 {
		select {
		case <-time.After(j.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	cell, err := history.Decode(data)
	if err != nil {
		return nil, err
	}
	it := history.Iterator{}
	add := func(acc, n int) int { return acc + n }
	if j.grouped {
		return kernel.FoldGroups(it.ByContribution(cell),
			func(c history.Contribution) history.EntityRef { return c.Ref },
			func(run []history.Contribution) ([]int, error) { return []int{len(run)}, nil },
			0, add, token)
	}
	return kernel.Fold(it.ByContribution(cell),
		func(history.Contribution) (int, error) { return 1, nil },
		0, add, token)
}

var errMapper = errors.New("mapper failed")
