package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/GIScience/oshdb-sub001/oshdb_errors"
	"github.com/GIScience/oshdb-sub001/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestREPL(t *testing.T) (*REPL, *bytes.Buffer) {
	e, err := NewEngine(Config{Cluster: ClusterConfig{Nodes: 2, Partitions: 8, Workers: 2}}, utils.NewDiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	var out bytes.Buffer
	repl, err := NewREPL(e, &out)
	require.NoError(t, err)
	return repl, &out
}

func TestREPL_CompareBackends(t *testing.T) {
	ctx := context.Background()
	repl, out := newTestREPL(t)

	require.NoError(t, repl.Execute(ctx, "load 8 20 29 3 2 5"))
	assert.Contains(t, out.String(), "30 cells")
	require.NoError(t, repl.Execute(ctx, "range 8 0 40"))
	out.Reset()

	require.NoError(t, repl.Execute(ctx, "compare"))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)
	first := strings.Fields(lines[0])[0]
	for _, l := range lines {
		assert.Equal(t, first, strings.Fields(l)[0], l)
	}
	assert.Equal(t, "cluster-localpeek", repl.backend.Name())
}

func TestREPL_Setup(t *testing.T) {
	ctx := context.Background()
	repl, out := newTestREPL(t)

	assert.ErrorIs(t, repl.Execute(ctx, "backend nope"), oshdb_errors.ErrUnknownStore)
	require.NoError(t, repl.Execute(ctx, "backend memory"))
	require.NoError(t, repl.Execute(ctx, "backend"))
	assert.Contains(t, out.String(), "* memory")

	assert.Equal(t, HelpRange, repl.Execute(ctx, "range 8 1"))
	assert.Equal(t, HelpLoad, repl.Execute(ctx, "load 8 9 1"))
	assert.Error(t, repl.Execute(ctx, "types area"))
	require.NoError(t, repl.Execute(ctx, "types way,w,node"))
	assert.Len(t, repl.opts.Types, 2)

	require.NoError(t, repl.Execute(ctx, "bbox 8 49 9 50 3"))
	assert.NotNil(t, repl.opts.BBox)
	assert.Error(t, repl.Execute(ctx, "bbox 9 49 8 50"))
	require.NoError(t, repl.Execute(ctx, "timeout 250ms"))
	assert.Equal(t, "250ms", repl.opts.Timeout.String())

	// no ranges, no bbox
	require.NoError(t, repl.Execute(ctx, "bbox clear"))
	assert.ErrorIs(t, repl.Execute(ctx, "count"), oshdb_errors.ErrBadQuery)
}

func TestREPL_Queries(t *testing.T) {
	ctx := context.Background()
	repl, out := newTestREPL(t)
	require.NoError(t, repl.Execute(ctx, "load 6 0 3 4 2"))
	require.NoError(t, repl.Execute(ctx, "range 6 0 3"))

	out.Reset()
	require.NoError(t, repl.Execute(ctx, "kinds"))
	assert.Contains(t, out.String(), "creation\t48")

	assert.Equal(t, HelpAt, repl.Execute(ctx, "snapshots"))
	require.NoError(t, repl.Execute(ctx, "at 1,9999999999"))
	out.Reset()
	require.NoError(t, repl.Execute(ctx, "snapshots"))
	assert.Contains(t, out.String(), "1\t0")
	assert.Contains(t, out.String(), "9999999999\t36")

	out.Reset()
	require.NoError(t, repl.Execute(ctx, "stats"))
	assert.Contains(t, out.String(), "node-0")
	out.Reset()
	require.NoError(t, repl.Execute(ctx, "metrics"))
	assert.Contains(t, out.String(), "oshdb_cluster_jobs")
}

func TestREPL_CellAndPurge(t *testing.T) {
	ctx := context.Background()
	repl, out := newTestREPL(t)
	require.NoError(t, repl.Execute(ctx, "load 8 20 29 3 2 5"))

	out.Reset()
	require.NoError(t, repl.Execute(ctx, "cell 8:21 way"))
	assert.Contains(t, out.String(), "8:21\tway\tprimary=")
	assert.Contains(t, out.String(), "entities=3")

	out.Reset()
	require.NoError(t, repl.Execute(ctx, "cell 8:999"))
	assert.Equal(t, 3, strings.Count(out.String(), "absent"))

	assert.Equal(t, HelpCell, repl.Execute(ctx, "cell 8-21"))
	assert.Equal(t, HelpCell, repl.Execute(ctx, "cell 8:21 area"))
	assert.Equal(t, HelpCell, repl.Execute(ctx, "cell 99:1"))

	out.Reset()
	require.NoError(t, repl.Execute(ctx, "stats"))
	assert.Contains(t, out.String(), "cached=1")

	require.NoError(t, repl.Execute(ctx, "purge"))
	out.Reset()
	require.NoError(t, repl.Execute(ctx, "stats"))
	assert.Equal(t, 2, strings.Count(out.String(), "cached=0"))
}
