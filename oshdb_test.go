package oshdb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/GIScience/oshdb-sub001/backend"
	"github.com/GIScience/oshdb-sub001/cluster"
	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/oshdb_errors"
	"github.com/GIScience/oshdb-sub001/store"
	testutils "github.com/GIScience/oshdb-sub001/test_utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testTypes  = []history.EntityType{history.Node, history.Way}
	testRanges = []grid.CellIDRange{{Zoom: 10, From: 100, To: 109}}
)

// 5 of 10 cells populated, 4 entities each, every third entity deleted
func testCells() []*history.Cell {
	return testutils.Generate(testutils.Params{
		Zoom:     10,
		IDs:      []uint64{100, 102, 104, 106, 108},
		Types:    testTypes,
		Entities: 4,
		Versions: 2,
		Seed:     11,
	})
}

func testBackends(t *testing.T, cells []*history.Cell) []backend.Backend {
	ctx := context.Background()
	mem := store.NewMemory()
	for _, typ := range testTypes {
		mem.CreateTable(typ)
	}
	require.NoError(t, testutils.Load(ctx, mem, cells))

	c := cluster.New(cluster.Options{Partitions: 8})
	for i := range 2 {
		_, err := c.Join(cluster.NodeID(fmt.Sprintf("n%d", i)))
		require.NoError(t, err)
	}
	for _, typ := range testTypes {
		require.NoError(t, c.CreateCache(typ))
	}
	require.NoError(t, testutils.Load(ctx, c, cells))
	t.Cleanup(func() { _ = c.Close() })

	return []backend.Backend{
		&backend.Memory{Store: mem},
		&backend.LocalPeek{Cluster: c},
		&backend.ScanQuery{Cluster: c},
	}
}

func testView(t *testing.T, b backend.Backend, opts Options) *View {
	if opts.Ranges == nil && opts.BBox == nil {
		opts.Ranges = testRanges
	}
	if opts.Types == nil {
		opts.Types = testTypes
	}
	v, err := NewView(b, opts)
	require.NoError(t, err)
	return v
}

func TestNewView(t *testing.T) {
	b := &backend.Memory{Store: store.NewMemory()}
	_, err := NewView(b, Options{})
	assert.ErrorIs(t, err, oshdb_errors.ErrBadQuery)

	_, err = NewView(b, Options{BBox: &grid.BBox{MinLon: 10, MinLat: 0, MaxLon: 5, MaxLat: 1}})
	assert.ErrorIs(t, err, oshdb_errors.ErrBadQuery)

	v, err := NewView(b, Options{BBox: &grid.BBox{MinLon: 8, MinLat: 49, MaxLon: 9, MaxLat: 50}, MaxZoom: 4})
	require.NoError(t, err)
	assert.NotEmpty(t, v.Ranges())
	assert.Equal(t, history.AllTypes, v.Options().Types)
}

func TestCount_TenCells(t *testing.T) {
	cells := testCells()
	want := int64(testutils.Contributions(cells))
	for _, b := range testBackends(t, cells) {
		n, err := Count(context.Background(), testView(t, b, Options{}), ByContribution)
		require.NoError(t, err, b.Name())
		assert.Equal(t, want, n, b.Name())
	}
}

func TestGroupReduce_OneCallPerEntity(t *testing.T) {
	cells := testCells()
	for _, b := range testBackends(t, cells) {
		v := testView(t, b, Options{})
		groups, err := GroupReduce(context.Background(), v, ByContribution,
			func(run []history.Contribution) ([]int, error) {
				for _, c := range run {
					if c.Ref != run[0].Ref {
						return nil, fmt.Errorf("mixed run %s/%s", run[0].Ref, c.Ref)
					}
				}
				return []int{1}, nil
			},
			func() int { return 0 },
			func(acc, n int) int { return acc + n },
			func(a, b int) int { return a + b },
		)
		require.NoError(t, err, b.Name())
		// 5 cells, 4 entities, 2 types
		assert.Equal(t, 40, groups, b.Name())
	}
}

func TestCountBy(t *testing.T) {
	cells := testCells()
	for _, b := range testBackends(t, cells) {
		counts, err := CountBy(context.Background(), testView(t, b, Options{}), ByContribution,
			func(c history.Contribution) string { return c.Types.String() })
		require.NoError(t, err, b.Name())
		assert.EqualValues(t, 40, counts["creation"], b.Name())
		assert.EqualValues(t, 10, counts["deletion"], b.Name())
	}
}

func TestSum_Snapshots(t *testing.T) {
	cells := testCells()
	for _, b := range testBackends(t, cells) {
		v := testView(t, b, Options{Timestamps: []int64{1 << 40}, Types: []history.EntityType{history.Way}})
		alive, err := Sum(context.Background(), v, ByTimestamp, func(history.Snapshot) float64 { return 1 })
		require.NoError(t, err, b.Name())
		assert.InDelta(t, 15.0, alive, 1e-9, b.Name())
	}
}

func TestStream(t *testing.T) {
	cells := testCells()
	want := testutils.Contributions(cells)
	for _, b := range testBackends(t, cells) {
		v := testView(t, b, Options{})
		var got []history.EntityRef
		for ref, err := range Stream(context.Background(), v, ByContribution, func(c history.Contribution) (history.EntityRef, error) {
			return c.Ref, nil
		}) {
			require.NoError(t, err, b.Name())
			got = append(got, ref)
		}
		assert.Len(t, got, want, b.Name())

		n := 0
		for range Stream(context.Background(), v, ByContribution, func(c history.Contribution) (int64, error) {
			return c.Timestamp, nil
		}) {
			n++
			if n == 3 {
				break
			}
		}
		assert.Equal(t, 3, n, b.Name())
	}
}

func TestGroupStream(t *testing.T) {
	cells := testCells()
	want := testutils.Contributions(cells)
	for _, b := range testBackends(t, cells) {
		total, runs := 0, 0
		for size, err := range GroupStream(context.Background(), testView(t, b, Options{}), ByContribution,
			func(run []history.Contribution) ([]int, error) { return []int{len(run)}, nil }) {
			require.NoError(t, err, b.Name())
			total += size
			runs++
		}
		assert.Equal(t, want, total, b.Name())
		assert.Equal(t, 40, runs, b.Name())
	}
}

func TestStream_Error(t *testing.T) {
	b := &backend.Memory{Store: store.NewMemory()}
	var errs []error
	for _, err := range Stream(context.Background(), testView(t, b, Options{}), ByContribution,
		func(c history.Contribution) (int, error) { return 1, nil }) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], oshdb_errors.ErrTableNotFound)
}

func TestMapReduce_Timeout(t *testing.T) {
	cells := testCells()
	b := testBackends(t, cells)[1]
	v := testView(t, b, Options{Timeout: 20 * time.Millisecond})
	start := time.Now()
	_, err := MapReduce(context.Background(), v, ByContribution,
		func(c history.Contribution) (int, error) {
			time.Sleep(10 * time.Millisecond)
			return 1, nil
		},
		func() int { return 0 },
		func(acc, n int) int { return acc + n },
		func(a, b int) int { return a + b },
	)
	assert.ErrorIs(t, err, oshdb_errors.ErrTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	for _, c := range Collectors() {
		require.NoError(t, reg.Register(c))
	}
}
