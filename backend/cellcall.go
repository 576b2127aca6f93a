package backend

import (
	"context"
	"math/rand/v2"

	"github.com/GIScience/oshdb-sub001/cluster"
	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/kernel"
)

// CellCall sends one job per cell key to the primary node of the key's
// partition. All calls are dispatched up front and are not withdrawn on
// cancellation.
type CellCall struct {
	Cluster *cluster.Cluster
	// Rand shuffles the keys; nil uses the global source.
	Rand *rand.Rand
}

func (c *CellCall) Name() string { return "cluster-cellcall" }

func (c *CellCall) Check(_ context.Context, types []history.EntityType) error {
	return checkCluster(c.Cluster, types)
}

func (c *CellCall) Execute(ctx context.Context, q *Query, job Job, token *kernel.Token) (any, error) {
	cells := newCellRunner(c.Name(), job)
	aff := c.Cluster.Affinity()
	keys := grid.EnumerateShuffled(q.Ranges, c.Rand)

	futures := make([]*cluster.Future, 0, len(keys)*len(q.Types))
	for _, t := range q.Types {
		for _, id := range keys {
			ref := CellRef{t, id}
			futures = append(futures, c.Cluster.Submit(ctx, aff.PrimaryFor(id), func(ctx context.Context, n *cluster.Node) (any, error) {
				data, err := n.Peek(ctx, ref.Type, ref.ID)
				if err != nil {
					return nil, err
				}
				return cells.reduce(ctx, ref, data, token)
			}))
		}
	}
	return waitAll(ctx, job, futures)
}
