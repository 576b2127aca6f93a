package backend

import (
	"context"

	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/kernel"
	"github.com/GIScience/oshdb-sub001/store"
)

// Memory looks every cell key up in a store.Memory, one after the other.
// It runs to completion once started.
type Memory struct {
	Store *store.Memory
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Check(_ context.Context, types []history.EntityType) error {
	return store.CheckTables(m.Store, types)
}

func (m *Memory) Execute(ctx context.Context, q *Query, job Job, token *kernel.Token) (any, error) {
	cells := newCellRunner(m.Name(), job)
	keys := grid.Enumerate(q.Ranges)
	acc := job.Identity()
	for _, t := range q.Types {
		for _, id := range keys {
			data, err := m.Store.Get(ctx, t, id)
			if err != nil {
				return nil, err
			}
			res, err := cells.reduce(ctx, CellRef{t, id}, data, token)
			if err != nil {
				return nil, err
			}
			acc = job.Combine(acc, res)
		}
	}
	return acc, nil
}
