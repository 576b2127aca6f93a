package backend

import (
	"context"
	"math/rand/v2"

	"github.com/GIScience/oshdb-sub001/cluster"
	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/kernel"
	"golang.org/x/sync/errgroup"
)

// LocalPeek sends one job per node together with the whole shuffled key
// list. A node keeps the keys of the partitions it is primary for, works
// on those partitions in parallel and reads cells from its own store only.
// The token is checked before every cell.
type LocalPeek struct {
	Cluster *cluster.Cluster
	Rand    *rand.Rand
}

func (l *LocalPeek) Name() string { return "cluster-localpeek" }

func (l *LocalPeek) Check(_ context.Context, types []history.EntityType) error {
	return checkCluster(l.Cluster, types)
}

func (l *LocalPeek) Execute(ctx context.Context, q *Query, job Job, token *kernel.Token) (any, error) {
	cells := newCellRunner(l.Name(), job)
	aff := l.Cluster.Affinity()
	keys := grid.EnumerateShuffled(q.Ranges, l.Rand)

	var futures []*cluster.Future
	for _, node := range aff.Nodes() {
		futures = append(futures, l.Cluster.Submit(ctx, node, func(ctx context.Context, n *cluster.Node) (any, error) {
			return peekLocal(ctx, n, aff, keys, q.Types, cells, token)
		}))
	}
	return gatherArrivals(ctx, job, futures)
}

func peekLocal(
	ctx context.Context,
	n *cluster.Node,
	aff *cluster.Affinity,
	keys []grid.CellID,
	types []history.EntityType,
	cells cellRunner,
	token *kernel.Token,
) (any, error) {
	byPartition := make(map[int][]grid.CellID)
	var order []int
	for _, id := range keys {
		p := aff.Partition(id)
		if aff.Primary(p) != n.ID() {
			continue
		}
		if _, ok := byPartition[p]; !ok {
			order = append(order, p)
		}
		byPartition[p] = append(byPartition[p], id)
	}

	parts := newPartials(len(order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.Workers())
	for i, p := range order {
		if !token.Active() {
			break
		}
		g.Go(guard(func() error {
			acc := cells.job.Identity()
		types:
			for _, t := range types {
				for _, id := range byPartition[p] {
					if !token.Active() {
						break types
					}
					data, err := n.Peek(gctx, t, id)
					if err != nil {
						return err
					}
					res, err := cells.reduce(gctx, CellRef{t, id}, data, token)
					if err != nil {
						return err
					}
					acc = cells.job.Combine(acc, res)
				}
			}
			parts.set(i, acc)
			return nil
		}))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts.combine(cells.job), nil
}
