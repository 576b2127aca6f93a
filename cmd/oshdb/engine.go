package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	oshdb "github.com/GIScience/oshdb-sub001"
	"github.com/GIScience/oshdb-sub001/backend"
	"github.com/GIScience/oshdb-sub001/cluster"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/oshdb_errors"
	"github.com/GIScience/oshdb-sub001/sqlstore"
	"github.com/GIScience/oshdb-sub001/store"
	testutils "github.com/GIScience/oshdb-sub001/test_utils"
	"github.com/GIScience/oshdb-sub001/utils"
	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"
)

// Engine holds one copy of the data in every kind of store, so the same
// query can run on every backend.
type Engine struct {
	cfg     Config
	log     utils.Logger
	dir     string
	tempDir bool

	mem       *store.Memory
	sql       *sqlstore.Store
	cluster   *cluster.Cluster
	collector *store.Collector
	registry  *prometheus.Registry
	backends  map[string]backend.Backend
}

func NewEngine(cfg Config, log utils.Logger) (e *Engine, err error) {
	cfg.SetDefaults()
	e = &Engine{cfg: cfg, log: log, dir: cfg.Dir}
	if e.dir == "" {
		if e.dir, err = os.MkdirTemp("", "oshdb-*"); err != nil {
			return nil, err
		}
		e.tempDir = true
	} else if err = os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	e.mem = store.NewMemory()
	if e.sql, err = sqlstore.Open("sqlite", filepath.Join(e.dir, "cells.db"), sqlstore.Options{}); err != nil {
		return nil, err
	}

	e.collector = store.NewCollector()
	e.cluster = cluster.New(cluster.Options{
		Partitions: cfg.Cluster.Partitions,
		Backups:    cfg.Cluster.Backups,
		CacheSize:  cfg.Cluster.CacheSize,
		Dir:        filepath.Join(e.dir, "nodes"),
		Collector:  e.collector,
		Log:        log,
	})
	for i := range cfg.Cluster.Nodes {
		var opts []cluster.NodeOpt
		if cfg.Cluster.Workers > 0 {
			opts = append(opts, &cluster.NodeWorkersOpt{Workers: cfg.Cluster.Workers})
		}
		if _, err = e.cluster.Join(cluster.NodeID(fmt.Sprintf("node-%d", i)), opts...); err != nil {
			return nil, err
		}
	}

	for _, t := range history.AllTypes {
		e.mem.CreateTable(t)
		if err = e.cluster.CreateCache(t); err != nil {
			return nil, err
		}
	}
	if err = e.sql.CreateTables(context.Background(), history.AllTypes...); err != nil {
		return nil, err
	}

	e.registry = prometheus.NewRegistry()
	for _, c := range append(oshdb.Collectors(), e.collector) {
		if err = e.registry.Register(c); err != nil {
			return nil, err
		}
	}

	e.backends = make(map[string]backend.Backend)
	for _, b := range []backend.Backend{
		&backend.Memory{Store: e.mem},
		&backend.SQLSequential{Store: e.sql},
		&backend.SQLParallel{Store: e.sql, Workers: cfg.SQLWorkers},
		&backend.CellCall{Cluster: e.cluster},
		&backend.LocalPeek{Cluster: e.cluster},
		&backend.ScanQuery{Cluster: e.cluster},
	} {
		e.backends[b.Name()] = b
	}
	return e, nil
}

func (e *Engine) Backend(name string) (backend.Backend, error) {
	b, ok := e.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", oshdb_errors.ErrUnknownStore, name)
	}
	return b, nil
}

func (e *Engine) BackendNames() []string {
	names := make([]string, 0, len(e.backends))
	for name := range e.backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (e *Engine) Cluster() *cluster.Cluster { return e.cluster }

func (e *Engine) Registry() *prometheus.Registry { return e.registry }

// Load generates synthetic cells and stores them everywhere. It returns
// the number of contributions loaded.
func (e *Engine) Load(ctx context.Context, p testutils.Params) (int, error) {
	cells := testutils.Generate(p)
	byType := make(map[history.EntityType][]store.Entry)
	for _, c := range cells {
		byType[c.Type] = append(byType[c.Type], store.Entry{ID: c.ID, Data: history.Encode(c)})
	}
	if err := testutils.Load(ctx, e.mem, cells); err != nil {
		return 0, err
	}
	if err := testutils.Load(ctx, e.cluster, cells); err != nil {
		return 0, err
	}
	for t, entries := range byType {
		if err := e.sql.PutBatch(ctx, t, entries); err != nil {
			return 0, err
		}
	}
	e.log.InfoCtx(ctx, "dataset loaded", "cells", len(cells))
	return testutils.Contributions(cells), nil
}

func (e *Engine) Close() error {
	var err error
	if e.cluster != nil {
		err = e.cluster.Close()
	}
	if e.sql != nil {
		if cerr := e.sql.Close(); err == nil {
			err = cerr
		}
	}
	if e.tempDir {
		_ = os.RemoveAll(e.dir)
	}
	return err
}
