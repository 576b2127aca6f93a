package cluster

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/store"
	"github.com/GIScience/oshdb-sub001/utils"
	"github.com/puzpuzpuz/xsync/v3"
)

type NodeID string

// Node is one member of the cluster: a local partitioned store, a read
// cache in front of it and a job runner.
type Node struct {
	id      NodeID
	cluster *Cluster
	dir     string
	tempDir bool
	log     utils.Logger

	store *store.Pebble
	cache *store.Cached

	cacheSize int
	workers   int

	jobs    *xsync.Counter
	failed  *xsync.Counter
	running *xsync.Counter
	jobTime *utils.AvgVal
}

type NodeOpt interface {
	Apply(*Node)
}

// NodeDirOpt places the node store in Dir instead of a temporary directory.
type NodeDirOpt struct {
	Dir string
}

func (opt *NodeDirOpt) Apply(n *Node) {
	n.dir = opt.Dir
}

type NodeCacheOpt struct {
	Size int
}

func (opt *NodeCacheOpt) Apply(n *Node) {
	n.cacheSize = opt.Size
}

// NodeWorkersOpt bounds how many partitions a node works on at once.
type NodeWorkersOpt struct {
	Workers int
}

func (opt *NodeWorkersOpt) Apply(n *Node) {
	n.workers = opt.Workers
}

func openNode(c *Cluster, id NodeID, opts ...NodeOpt) (*Node, error) {
	n := &Node{
		id:        id,
		cluster:   c,
		log:       c.log,
		cacheSize: c.opts.CacheSize,
		workers:   runtime.GOMAXPROCS(0),
		jobs:      xsync.NewCounter(),
		failed:    xsync.NewCounter(),
		running:   xsync.NewCounter(),
		jobTime:   &utils.AvgVal{},
	}
	if c.opts.Dir != "" {
		n.dir = filepath.Join(c.opts.Dir, string(id))
	}
	for _, o := range opts {
		o.Apply(n)
	}
	if n.dir == "" {
		dir, err := os.MkdirTemp("", "oshdb-node-*")
		if err != nil {
			return nil, err
		}
		n.dir, n.tempDir = dir, true
	}
	if n.workers < 1 {
		n.workers = 1
	}

	var err error
	n.store, err = store.OpenPebble(n.dir, store.PebbleOptions{Partitions: c.opts.Partitions})
	if err != nil {
		n.removeDir()
		return nil, err
	}
	n.cache, err = store.NewCached(n.store, max(n.cacheSize, 1), string(id))
	if err != nil {
		_ = n.store.Close()
		n.removeDir()
		return nil, err
	}
	return n, nil
}

func (n *Node) removeDir() {
	if n.tempDir {
		_ = os.RemoveAll(n.dir)
	}
}

func (n *Node) ID() NodeID { return n.id }

func (n *Node) Workers() int { return n.workers }

func (n *Node) Store() *store.Pebble { return n.store }

// Peek reads a cell held by this node through the node cache. It never
// asks other nodes; a cell the node does not hold reads as nil.
func (n *Node) Peek(ctx context.Context, t history.EntityType, id grid.CellID) ([]byte, error) {
	return n.cache.Get(ctx, t, id)
}

// PrimaryPartitions lists the partitions this node is primary for under
// the current affinity.
func (n *Node) PrimaryPartitions() []int {
	return n.cluster.Affinity().PrimaryPartitions(n.id)
}

func (n *Node) IsPrimary(id grid.CellID) bool {
	return n.cluster.Affinity().PrimaryFor(id) == n.id
}

// Scan walks one local partition.
func (n *Node) Scan(t history.EntityType, partition int, pred func(grid.CellID) bool) iter.Seq2[store.Entry, error] {
	return n.store.Scan(t, partition, pred)
}

func (n *Node) put(ctx context.Context, t history.EntityType, id grid.CellID, data []byte) error {
	if err := n.store.Put(ctx, t, id, data); err != nil {
		return err
	}
	n.cache.Invalidate(t, id)
	return nil
}

func (n *Node) record(took time.Duration, err error) {
	n.jobs.Inc()
	n.jobTime.Add(float64(took) / float64(time.Millisecond))
	status := "ok"
	if err != nil {
		n.failed.Inc()
		status = "error"
	}
	NodeJobs.WithLabelValues(string(n.id), status).Inc()
	NodeJobDuration.WithLabelValues(string(n.id)).Observe(took.Seconds())
}

type NodeStats struct {
	Jobs      int64
	Failed    int64
	Running   int64
	AvgJobMs  float64
	CacheSize int
}

func (n *Node) Stats() NodeStats {
	return NodeStats{
		Jobs:      n.jobs.Value(),
		Failed:    n.failed.Value(),
		Running:   n.running.Value(),
		AvgJobMs:  n.jobTime.Val(),
		CacheSize: n.cache.Len(),
	}
}

// PurgeCache drops every cell held by the node cache.
func (n *Node) PurgeCache() {
	n.cache.Purge()
}

func (n *Node) close() error {
	err := n.store.Close()
	n.removeDir()
	return err
}
