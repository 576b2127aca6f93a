package backend

import (
	"context"
	"runtime"

	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/kernel"
	"github.com/GIScience/oshdb-sub001/sqlstore"
	"golang.org/x/sync/errgroup"
)

// reduceRange folds every stored cell of one range. Cells without a row
// contribute nothing, which equals combining the identity.
func reduceRange(ctx context.Context, s *sqlstore.Store, cells cellRunner, t history.EntityType, r grid.CellIDRange, token *kernel.Token) (any, error) {
	acc := cells.job.Identity()
	for e, err := range s.ScanRange(ctx, t, r) {
		if err != nil {
			return nil, err
		}
		res, err := cells.reduce(ctx, CellRef{t, e.ID}, e.Data, token)
		if err != nil {
			return nil, err
		}
		acc = cells.job.Combine(acc, res)
	}
	return acc, nil
}

// SQLSequential issues one range query per range and type and reads the
// rows on the calling goroutine.
type SQLSequential struct {
	Store *sqlstore.Store
}

func (s *SQLSequential) Name() string { return "sql" }

func (s *SQLSequential) Check(ctx context.Context, types []history.EntityType) error {
	return s.Store.CheckTables(ctx, types)
}

func (s *SQLSequential) Execute(ctx context.Context, q *Query, job Job, token *kernel.Token) (any, error) {
	cells := newCellRunner(s.Name(), job)
	acc := job.Identity()
	for _, t := range q.Types {
		for _, r := range q.Ranges {
			res, err := reduceRange(ctx, s.Store, cells, t, r, token)
			if err != nil {
				return nil, err
			}
			acc = job.Combine(acc, res)
		}
	}
	return acc, nil
}

// SQLParallel runs the range queries on a bounded worker pool. The token
// is checked between ranges only; a range query already running is not
// interrupted.
type SQLParallel struct {
	Store   *sqlstore.Store
	Workers int
}

func (s *SQLParallel) Name() string { return "sql-parallel" }

func (s *SQLParallel) Check(ctx context.Context, types []history.EntityType) error {
	return s.Store.CheckTables(ctx, types)
}

func (s *SQLParallel) Execute(ctx context.Context, q *Query, job Job, token *kernel.Token) (any, error) {
	workers := s.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	cells := newCellRunner(s.Name(), job)

	type task struct {
		t history.EntityType
		r grid.CellIDRange
	}
	var tasks []task
	for _, t := range q.Types {
		for _, r := range q.Ranges {
			tasks = append(tasks, task{t, r})
		}
	}

	parts := newPartials(len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, tk := range tasks {
		if !token.Active() {
			break
		}
		g.Go(guard(func() error {
			if !token.Active() {
				return nil
			}
			res, err := reduceRange(gctx, s.Store, cells, tk.t, tk.r, token)
			if err != nil {
				return err
			}
			parts.set(i, res)
			return nil
		}))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts.combine(job), nil
}
