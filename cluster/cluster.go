// Package cluster runs an in-process compute cluster. Every node owns a
// set of partitions of the cell key space, keeps them in its own store and
// runs jobs submitted to it. Jobs are closures; the cluster moves them
// between goroutines, not across processes.
package cluster

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/oshdb_errors"
	"github.com/GIScience/oshdb-sub001/store"
	"github.com/GIScience/oshdb-sub001/utils"
	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/GIScience/oshdb-sub001/cluster")

type Options struct {
	// Partitions of the cell key space, at most store.MaxPartitions; fixed
	// for the cluster lifetime.
	Partitions int
	// Backups is the number of extra owners per partition.
	Backups int
	// CacheSize is the default per-node cell cache capacity.
	CacheSize int
	// Dir, when set, holds node stores in Dir/<node id>.
	Dir string
	// Collector, when set, exports the pebble metrics of every node.
	Collector *store.Collector
	Log       utils.Logger
}

func (o *Options) SetDefaults() {
	if o.Partitions <= 0 {
		o.Partitions = 1024
	}
	// node stores clamp the same way, affinity and stores must agree
	if o.Partitions > store.MaxPartitions {
		o.Partitions = store.MaxPartitions
	}
	if o.Backups < 0 {
		o.Backups = 0
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 4096
	}
	if o.Log == nil {
		o.Log = utils.NewDiscardLogger()
	}
}

type Cluster struct {
	opts Options
	log  utils.Logger
	wg   sync.WaitGroup
	// held for reading while a job is registered with wg
	jobs sync.RWMutex

	lock     sync.Mutex // serializes topology changes
	nodes    *xsync.MapOf[NodeID, *Node]
	affinity atomic.Pointer[Affinity]
	caches   *xsync.MapOf[history.EntityType, struct{}]
	loaded   atomic.Bool
	closed   atomic.Bool
}

func New(opts Options) *Cluster {
	opts.SetDefaults()
	c := &Cluster{
		opts:   opts,
		log:    opts.Log,
		nodes:  xsync.NewMapOf[NodeID, *Node](),
		caches: xsync.NewMapOf[history.EntityType, struct{}](),
	}
	c.affinity.Store(NewAffinity(nil, opts.Partitions, opts.Backups))
	return c
}

func (c *Cluster) Partitions() int { return c.opts.Partitions }

// Affinity is the current partition to node mapping.
func (c *Cluster) Affinity() *Affinity {
	return c.affinity.Load()
}

func (c *Cluster) rebalance() {
	var ids []NodeID
	c.nodes.Range(func(id NodeID, _ *Node) bool {
		ids = append(ids, id)
		return true
	})
	c.affinity.Store(NewAffinity(ids, c.opts.Partitions, c.opts.Backups))
}

// Join adds a node. Nodes can only join before any cell is stored, data
// is not migrated between nodes.
func (c *Cluster) Join(id NodeID, opts ...NodeOpt) (*Node, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed.Load() {
		return nil, oshdb_errors.ErrClosed
	}
	if c.loaded.Load() {
		return nil, oshdb_errors.ErrTopology
	}
	if _, ok := c.nodes.Load(id); ok {
		return nil, fmt.Errorf("%w: %s", oshdb_errors.ErrNodeExists, id)
	}
	n, err := openNode(c, id, opts...)
	if err != nil {
		return nil, err
	}
	var cerr error
	c.caches.Range(func(t history.EntityType, _ struct{}) bool {
		cerr = n.store.CreateTable(t)
		return cerr == nil
	})
	if cerr != nil {
		_ = n.close()
		return nil, cerr
	}
	c.nodes.Store(id, n)
	c.rebalance()
	if c.opts.Collector != nil {
		c.opts.Collector.Add(string(id), n.store)
	}
	c.log.Info("node joined", "node", id, "dir", n.dir, "nodes", c.nodes.Size())
	return n, nil
}

func (c *Cluster) Leave(id NodeID) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.loaded.Load() {
		return oshdb_errors.ErrTopology
	}
	n, ok := c.nodes.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("%w: %s", oshdb_errors.ErrNodeUnknown, id)
	}
	c.rebalance()
	if c.opts.Collector != nil {
		c.opts.Collector.Remove(string(id))
	}
	c.log.Info("node left", "node", id)
	return n.close()
}

func (c *Cluster) Node(id NodeID) (*Node, error) {
	n, ok := c.nodes.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", oshdb_errors.ErrNodeUnknown, id)
	}
	return n, nil
}

func (c *Cluster) Nodes() []NodeID {
	return c.Affinity().Nodes()
}

// CreateCache creates the cell cache of entity type t on every node,
// including nodes joining later.
func (c *Cluster) CreateCache(t history.EntityType) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	var err error
	c.nodes.Range(func(_ NodeID, n *Node) bool {
		err = n.store.CreateTable(t)
		return err == nil
	})
	if err != nil {
		return err
	}
	c.caches.Store(t, struct{}{})
	return nil
}

// PurgeCaches empties the cell cache of every node. Stored cells are kept.
func (c *Cluster) PurgeCaches() {
	c.nodes.Range(func(_ NodeID, n *Node) bool {
		n.PurgeCache()
		return true
	})
}

func (c *Cluster) HasCache(t history.EntityType) bool {
	_, ok := c.caches.Load(t)
	return ok
}

func (c *Cluster) HasTable(t history.EntityType) (bool, error) {
	return c.HasCache(t), nil
}

// Put stores a cell on the primary and the backup owners of its partition.
func (c *Cluster) Put(ctx context.Context, t history.EntityType, id grid.CellID, data []byte) error {
	if !id.Valid() {
		return fmt.Errorf("%w: %s", grid.ErrBadCellID, id)
	}
	if !c.HasCache(t) {
		return fmt.Errorf("%w: %s", oshdb_errors.ErrTableNotFound, store.TableName(t))
	}
	aff := c.Affinity()
	owners := aff.Owners(aff.Partition(id))
	if len(owners) == 0 {
		return oshdb_errors.ErrNoNodes
	}
	c.loaded.Store(true)
	for _, owner := range owners {
		n, err := c.Node(owner)
		if err != nil {
			return err
		}
		if err := n.put(ctx, t, id, data); err != nil {
			return err
		}
	}
	return nil
}

// Get fetches a cell from its primary node by running a job there.
func (c *Cluster) Get(ctx context.Context, t history.EntityType, id grid.CellID) ([]byte, error) {
	primary := c.Affinity().PrimaryFor(id)
	if primary == "" {
		return nil, oshdb_errors.ErrNoNodes
	}
	val, err := c.Submit(ctx, primary, func(ctx context.Context, n *Node) (any, error) {
		return n.Peek(ctx, t, id)
	}).Wait(ctx)
	if err != nil {
		return nil, err
	}
	data, _ := val.([]byte)
	return data, nil
}

// Submit runs task on node id in its own goroutine. A panic in the task
// completes the future with ErrJobPanic.
func (c *Cluster) Submit(ctx context.Context, id NodeID, task Task) *Future {
	c.jobs.RLock()
	if c.closed.Load() {
		c.jobs.RUnlock()
		return failedFuture(id, oshdb_errors.ErrClosed)
	}
	n, err := c.Node(id)
	if err != nil {
		c.jobs.RUnlock()
		return failedFuture(id, err)
	}
	f := newFuture(id)
	c.wg.Add(1)
	n.running.Inc()
	c.jobs.RUnlock()
	go func() {
		defer c.wg.Done()
		defer n.running.Dec()
		ctx, span := tracer.Start(ctx, "cluster.job", trace.WithAttributes(
			attribute.String("node", string(id)),
			attribute.String("job", f.id.String()),
		))

		start := time.Now()
		val, err := runTask(ctx, n, task)
		n.record(time.Since(start), err)
		if err != nil && !errors.Is(err, context.Canceled) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.log.WarnCtx(ctx, "job failed", "node", id, "job", f.id, "err", err)
		}
		span.End()
		f.complete(val, err)
	}()
	return f
}

func runTask(ctx context.Context, n *Node, task Task) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			val, err = nil, fmt.Errorf("%w: %v", oshdb_errors.ErrJobPanic, r)
		}
	}()
	return task(ctx, n)
}

func (c *Cluster) Stats() map[NodeID]NodeStats {
	stats := make(map[NodeID]NodeStats)
	c.nodes.Range(func(id NodeID, n *Node) bool {
		stats[id] = n.Stats()
		return true
	})
	return stats
}

// Close waits for running jobs and closes every node.
func (c *Cluster) Close() error {
	c.jobs.Lock()
	if !c.closed.CompareAndSwap(false, true) {
		c.jobs.Unlock()
		return nil
	}
	c.jobs.Unlock()
	c.wg.Wait()
	c.lock.Lock()
	defer c.lock.Unlock()
	var errs []error
	c.nodes.Range(func(id NodeID, n *Node) bool {
		if c.opts.Collector != nil {
			c.opts.Collector.Remove(string(id))
		}
		errs = append(errs, n.close())
		return true
	})
	c.nodes.Clear()
	c.rebalance()
	return errors.Join(errs...)
}

// SortedNodes returns the nodes ordered by id.
func (c *Cluster) SortedNodes() []*Node {
	var out []*Node
	c.nodes.Range(func(_ NodeID, n *Node) bool {
		out = append(out, n)
		return true
	})
	slices.SortFunc(out, func(a, b *Node) int {
		return cmp.Compare(a.id, b.id)
	})
	return out
}
