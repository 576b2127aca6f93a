package backend

import (
	"context"
	"fmt"

	"github.com/GIScience/oshdb-sub001/cluster"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/oshdb_errors"
	"github.com/GIScience/oshdb-sub001/store"
)

func checkCluster(c *cluster.Cluster, types []history.EntityType) error {
	if len(c.Nodes()) == 0 {
		return oshdb_errors.ErrNoNodes
	}
	for _, t := range types {
		if !c.HasCache(t) {
			return fmt.Errorf("%w: %s", oshdb_errors.ErrTableNotFound, store.TableName(t))
		}
	}
	return nil
}

// waitAll combines the futures in submission order.
func waitAll(ctx context.Context, job Job, futures []*cluster.Future) (any, error) {
	acc := job.Identity()
	for _, f := range futures {
		val, err := f.Wait(ctx)
		if err != nil {
			return nil, err
		}
		acc = job.Combine(acc, val)
	}
	return acc, nil
}

// gatherArrivals combines the futures in the order they complete and
// returns on the first error.
func gatherArrivals(ctx context.Context, job Job, futures []*cluster.Future) (any, error) {
	arrivals := make(chan outcome, len(futures))
	for _, f := range futures {
		go func() {
			val, err := f.Wait(ctx)
			arrivals <- outcome{val, err}
		}()
	}
	acc := job.Identity()
	for range futures {
		out := <-arrivals
		if out.err != nil {
			return nil, out.err
		}
		acc = job.Combine(acc, out.val)
	}
	return acc, nil
}
