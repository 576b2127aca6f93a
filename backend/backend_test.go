package backend

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/GIScience/oshdb-sub001/cluster"
	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/kernel"
	"github.com/GIScience/oshdb-sub001/oshdb_errors"
	testutils "github.com/GIScience/oshdb-sub001/test_utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackends_SameResult(t *testing.T) {
	f := newFixture(t)
	require.Greater(t, f.expected, 0)
	for _, b := range f.backends {
		for _, grouped := range []bool{false, true} {
			job := &countJob{grouped: grouped}
			res, err := Run(context.Background(), b, &Query{Ranges: fixtureRanges, Types: fixtureTypes}, job)
			require.NoError(t, err, b.Name())
			assert.Equal(t, f.expected, res, b.Name())
			// five populated cells per type
			assert.EqualValues(t, 10, job.cells.Load(), b.Name())
		}
	}
}

func TestBackends_MissingCellsAreNeutral(t *testing.T) {
	f := newFixture(t)
	wide := []grid.CellIDRange{
		{Zoom: 10, From: 90, To: 130},
		{Zoom: 11, From: 0, To: 20},
		{Zoom: 10, From: 300, To: 200},
	}
	for _, b := range f.backends {
		res, err := Run(context.Background(), b, &Query{Ranges: wide, Types: fixtureTypes}, &countJob{})
		require.NoError(t, err, b.Name())
		assert.Equal(t, f.expected, res, b.Name())

		res, err = Run(context.Background(), b, &Query{Ranges: []grid.CellIDRange{{Zoom: 10, From: 101, To: 101}}, Types: fixtureTypes}, &countJob{})
		require.NoError(t, err, b.Name())
		assert.Equal(t, 0, res, b.Name())
	}
}

func TestBackends_SingleType(t *testing.T) {
	f := newFixture(t)
	var nodes []*history.Cell
	for _, c := range f.cells {
		if c.Type == history.Node {
			nodes = append(nodes, c)
		}
	}
	want := 0
	it := history.Iterator{}
	for _, c := range nodes {
		for range it.ByContribution(c) {
			want++
		}
	}
	for _, b := range f.backends {
		res, err := Run(context.Background(), b, &Query{Ranges: fixtureRanges, Types: []history.EntityType{history.Node}}, &countJob{})
		require.NoError(t, err, b.Name())
		assert.Equal(t, want, res, b.Name())
	}
}

func TestBackends_TableNotFound(t *testing.T) {
	f := newFixture(t)
	for _, b := range f.backends {
		job := &countJob{}
		_, err := Run(context.Background(), b, &Query{
			Ranges: fixtureRanges,
			Types:  []history.EntityType{history.Node, history.Relation},
		}, job)
		assert.ErrorIs(t, err, oshdb_errors.ErrTableNotFound, b.Name())
		assert.Zero(t, job.cells.Load(), b.Name())
	}
}

func TestBackends_MapperError(t *testing.T) {
	f := newFixture(t)
	for _, b := range f.backends {
		_, err := Run(context.Background(), b, &Query{Ranges: fixtureRanges, Types: fixtureTypes}, &countJob{fail: errMapper})
		assert.ErrorIs(t, err, errMapper, b.Name())
	}
}

func TestBackends_MapperPanic(t *testing.T) {
	f := newFixture(t)
	for _, b := range f.backends {
		_, err := Run(context.Background(), b, &Query{Ranges: fixtureRanges, Types: fixtureTypes}, &countJob{panics: true})
		assert.ErrorIs(t, err, oshdb_errors.ErrJobPanic, b.Name())
	}
}

func TestBackends_CorruptCell(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := grid.CellID{Zoom: 10, ID: 105}
	garbage := []byte("garbage")
	require.NoError(t, f.mem.Put(ctx, history.Way, id, garbage))
	require.NoError(t, f.sql.Put(ctx, history.Way, id, garbage))
	require.NoError(t, f.cluster.Put(ctx, history.Way, id, garbage))
	for _, b := range f.backends {
		_, err := Run(ctx, b, &Query{Ranges: fixtureRanges, Types: fixtureTypes}, &countJob{})
		assert.ErrorIs(t, err, oshdb_errors.ErrCellDecode, b.Name())
	}
}

func TestBackends_ClampedPartitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := cluster.New(cluster.Options{Partitions: 100000})
	t.Cleanup(func() { _ = c.Close() })
	for i := range 2 {
		_, err := c.Join(cluster.NodeID(fmt.Sprintf("node-%d", i)))
		require.NoError(t, err)
	}
	for _, typ := range fixtureTypes {
		require.NoError(t, c.CreateCache(typ))
	}
	require.NoError(t, testutils.Load(ctx, c, f.cells))

	for _, b := range []Backend{&CellCall{Cluster: c}, &LocalPeek{Cluster: c}, &ScanQuery{Cluster: c}} {
		res, err := Run(ctx, b, &Query{Ranges: fixtureRanges, Types: fixtureTypes}, &countJob{})
		require.NoError(t, err, b.Name())
		assert.Equal(t, f.expected, res, b.Name())
	}
}

func backendNamed(f *fixture, name string) Backend {
	for _, b := range f.backends {
		if b.Name() == name {
			return b
		}
	}
	return nil
}

func TestBackends_Timeout(t *testing.T) {
	f := newFixture(t)
	for _, b := range f.backends {
		start := time.Now()
		_, err := Run(context.Background(), b, &Query{
			Ranges:  fixtureRanges,
			Types:   fixtureTypes,
			Timeout: 30 * time.Millisecond,
		}, &countJob{delay: 400 * time.Millisecond})
		assert.ErrorIs(t, err, oshdb_errors.ErrTimeout, b.Name())
		assert.Less(t, time.Since(start), 350*time.Millisecond, b.Name())
	}
}

func TestBackends_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"sql-parallel", "cluster-localpeek", "cluster-scanquery"} {
		token := kernel.NewToken()
		token.Cancel()
		job := &countJob{}
		res, err := Run(context.Background(), backendNamed(f, name), &Query{
			Ranges: fixtureRanges,
			Types:  fixtureTypes,
			Token:  token,
		}, job)
		require.NoError(t, err, name)
		assert.Equal(t, 0, res, name)
		assert.Zero(t, job.cells.Load(), name)
	}
}

func TestBackends_CancelMidway(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"sql-parallel", "cluster-localpeek", "cluster-scanquery"} {
		token := kernel.NewToken()
		job := &countJob{onCell: token.Cancel}
		res, err := Run(context.Background(), backendNamed(f, name), &Query{
			Ranges: fixtureRanges,
			Types:  fixtureTypes,
			Token:  token,
		}, job)
		require.NoError(t, err, name)
		assert.LessOrEqual(t, res.(int), f.expected, name)
		// sql ranges already running finish their rows
		if name != "sql-parallel" {
			assert.Less(t, job.cells.Load(), int64(10), name)
		}
	}
}

func TestRun_BadQuery(t *testing.T) {
	f := newFixture(t)
	_, err := Run(context.Background(), f.backends[0], &Query{Ranges: fixtureRanges}, &countJob{})
	assert.ErrorIs(t, err, oshdb_errors.ErrBadQuery)
	_, err = Run(context.Background(), f.backends[0], &Query{Types: []history.EntityType{'x'}}, &countJob{})
	assert.ErrorIs(t, err, oshdb_errors.ErrBadQuery)

	// ids past MaxID would spill into the zoom byte
	for _, r := range []grid.CellIDRange{
		{Zoom: 10, From: 0, To: grid.MaxID + 1},
		{Zoom: 10, From: math.MaxUint64, To: math.MaxUint64},
		{Zoom: grid.MaxZoom + 1, From: 1, To: 2},
	} {
		job := &countJob{}
		_, err = Run(context.Background(), f.backends[0], &Query{Ranges: []grid.CellIDRange{r}, Types: fixtureTypes}, job)
		assert.ErrorIs(t, err, oshdb_errors.ErrBadQuery, r.String())
		assert.Zero(t, job.cells.Load())
	}
}

func TestRun_NoNodes(t *testing.T) {
	c := cluster.New(cluster.Options{Partitions: 4})
	defer c.Close()
	_, err := Run(context.Background(), &ScanQuery{Cluster: c}, &Query{Types: fixtureTypes}, &countJob{})
	assert.ErrorIs(t, err, oshdb_errors.ErrNoNodes)
}

func TestSupervise(t *testing.T) {
	ctx := context.Background()
	token := kernel.NewToken()
	val, err := Supervise(ctx, 0, token, func(context.Context) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.True(t, token.Active())

	start := time.Now()
	_, err = Supervise(ctx, 10*time.Millisecond, token, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, oshdb_errors.ErrTimeout)
	assert.False(t, token.Active())
	assert.Less(t, time.Since(start), time.Second)

	cctx, cancel := context.WithCancel(ctx)
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = Supervise(cctx, time.Minute, kernel.NewToken(), func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = Supervise(ctx, 0, nil, func(context.Context) (any, error) {
		panic("oops")
	})
	assert.ErrorIs(t, err, oshdb_errors.ErrJobPanic)
}
