package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "cluster-localpeek", cfg.Backend)
	assert.Equal(t, 3, cfg.Cluster.Nodes)
	assert.Nil(t, cfg.Dataset)

	dir := t.TempDir()
	path := filepath.Join(dir, "oshdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: sql-parallel
timeout: 1500ms
cluster:
  nodes: 2
  partitions: 16
  backups: 1
dataset:
  zoom: 9
  from: 10
  to: 14
  entities: 2
`), 0o644))
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sql-parallel", cfg.Backend)
	assert.Equal(t, 1500*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 2, cfg.Cluster.Nodes)
	assert.Equal(t, 16, cfg.Cluster.Partitions)
	require.NotNil(t, cfg.Dataset)

	p := datasetParams(cfg.Dataset)
	assert.Equal(t, []uint64{10, 11, 12, 13, 14}, p.IDs)
	assert.Equal(t, uint8(9), p.Zoom)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
