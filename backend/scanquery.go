package backend

import (
	"context"

	"github.com/GIScience/oshdb-sub001/cluster"
	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/kernel"
	"golang.org/x/sync/errgroup"
)

// ScanQuery resolves the partition owners once and sends every node a job
// with only the partitions it is primary for. The node scans each of them
// with a predicate keeping the requested cells and streams per-partition
// results back as they complete.
type ScanQuery struct {
	Cluster *cluster.Cluster
}

func (s *ScanQuery) Name() string { return "cluster-scanquery" }

func (s *ScanQuery) Check(_ context.Context, types []history.EntityType) error {
	return checkCluster(s.Cluster, types)
}

func (s *ScanQuery) Execute(ctx context.Context, q *Query, job Job, token *kernel.Token) (any, error) {
	cells := newCellRunner(s.Name(), job)
	aff := s.Cluster.Affinity()
	owned := make(map[cluster.NodeID][]int, len(aff.Nodes()))
	for _, node := range aff.Nodes() {
		owned[node] = aff.PrimaryPartitions(node)
	}
	ranges := grid.Ranges(q.Ranges)

	var futures []*cluster.Future
	for node, partitions := range owned {
		if len(partitions) == 0 {
			continue
		}
		futures = append(futures, s.Cluster.Submit(ctx, node, func(ctx context.Context, n *cluster.Node) (any, error) {
			return scanLocal(ctx, n, partitions, q.Types, ranges.Contains, cells, token)
		}))
	}
	return gatherArrivals(ctx, job, futures)
}

func scanLocal(
	ctx context.Context,
	n *cluster.Node,
	partitions []int,
	types []history.EntityType,
	pred func(grid.CellID) bool,
	cells cellRunner,
	token *kernel.Token,
) (any, error) {
	results := make(chan any)
	failed := make(chan error, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.Workers())

	go func() {
		for _, p := range partitions {
			if !token.Active() || gctx.Err() != nil {
				break
			}
			g.Go(guard(func() error {
				acc := cells.job.Identity()
			types:
				for _, t := range types {
					for e, err := range n.Scan(t, p, pred) {
						if err != nil {
							return err
						}
						if !token.Active() {
							break types
						}
						res, err := cells.reduce(gctx, CellRef{t, e.ID}, e.Data, token)
						if err != nil {
							return err
						}
						acc = cells.job.Combine(acc, res)
					}
				}
				select {
				case results <- acc:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			}))
		}
		failed <- g.Wait()
		close(results)
	}()

	acc := cells.job.Identity()
	for res := range results {
		acc = cells.job.Combine(acc, res)
	}
	if err := <-failed; err != nil {
		return nil, err
	}
	return acc, nil
}
