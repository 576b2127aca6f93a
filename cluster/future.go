package cluster

import (
	"context"

	"github.com/google/uuid"
)

// Task is the unit of remote work; it runs on one node.
type Task func(ctx context.Context, n *Node) (any, error)

// Future is the pending result of a submitted Task.
type Future struct {
	id   uuid.UUID
	node NodeID
	done chan struct{}
	val  any
	err  error
}

func newFuture(node NodeID) *Future {
	return &Future{id: uuid.New(), node: node, done: make(chan struct{})}
}

func failedFuture(node NodeID, err error) *Future {
	f := newFuture(node)
	f.complete(nil, err)
	return f
}

func (f *Future) complete(val any, err error) {
	f.val, f.err = val, err
	close(f.done)
}

func (f *Future) ID() uuid.UUID { return f.id }

func (f *Future) Node() NodeID { return f.node }

func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finished or ctx is done. Giving up on the
// wait does not stop the task.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
