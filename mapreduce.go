package oshdb

import (
	"context"
	"iter"

	"github.com/GIScience/oshdb-sub001/backend"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/kernel"
	"golang.org/x/exp/constraints"
)

// Source turns a decoded cell into the records a query maps over.
type Source[X history.Record] func(it *history.Iterator, cell *history.Cell) iter.Seq[X]

var (
	ByContribution Source[history.Contribution] = (*history.Iterator).ByContribution
	ByTimestamp    Source[history.Snapshot]     = (*history.Iterator).ByTimestamp
)

func entityOf[X history.Record](x X) history.EntityRef {
	return x.Entity()
}

type reduceJob[X history.Record, R, S any] struct {
	view       *View
	source     Source[X]
	mapper     func(X) (R, error)
	group      func([]X) ([]R, error)
	identity   func() S
	accumulate func(S, R) S
	combine    func(S, S) S
}

func (j *reduceJob[X, R, S]) Identity() any { return j.identity() }

func (j *reduceJob[X, R, S]) Combine(a, b any) any { return j.combine(a.(S), b.(S)) }

func (j *reduceJob[X, R, S]) Cell(_ context.Context, _ backend.CellRef, data []byte, token *kernel.Token) (any, error) {
	cell, err := history.Decode(data)
	if err != nil {
		return nil, err
	}
	recs := j.source(j.view.iterator(), cell)
	if j.group != nil {
		return kernel.FoldGroups(recs, entityOf[X], j.group, j.identity(), j.accumulate, token)
	}
	return kernel.Fold(recs, j.mapper, j.identity(), j.accumulate, token)
}

func runReduce[X history.Record, R, S any](ctx context.Context, v *View, job *reduceJob[X, R, S]) (S, error) {
	res, err := backend.Run(ctx, v.backend, v.query(nil), job)
	if err != nil {
		var zero S
		return zero, err
	}
	return res.(S), nil
}

// MapReduce maps every record of the view and folds the results. identity
// must return a fresh zero value on every call; combine must be
// associative.
func MapReduce[X history.Record, R, S any](
	ctx context.Context,
	v *View,
	source Source[X],
	mapper func(X) (R, error),
	identity func() S,
	accumulate func(S, R) S,
	combine func(S, S) S,
) (S, error) {
	return runReduce(ctx, v, &reduceJob[X, R, S]{
		view:       v,
		source:     source,
		mapper:     mapper,
		identity:   identity,
		accumulate: accumulate,
		combine:    combine,
	})
}

// GroupReduce is MapReduce with the mapper receiving all records of one
// entity within a cell at once.
func GroupReduce[X history.Record, R, S any](
	ctx context.Context,
	v *View,
	source Source[X],
	mapper func([]X) ([]R, error),
	identity func() S,
	accumulate func(S, R) S,
	combine func(S, S) S,
) (S, error) {
	return runReduce(ctx, v, &reduceJob[X, R, S]{
		view:       v,
		source:     source,
		group:      mapper,
		identity:   identity,
		accumulate: accumulate,
		combine:    combine,
	})
}

type streamJob[X history.Record, R any] struct {
	view   *View
	source Source[X]
	mapper func(X) (R, error)
	group  func([]X) ([]R, error)
	out    chan<- []R
}

func (j *streamJob[X, R]) Identity() any { return nil }

func (j *streamJob[X, R]) Combine(a, b any) any { return nil }

func (j *streamJob[X, R]) Cell(ctx context.Context, _ backend.CellRef, data []byte, token *kernel.Token) (any, error) {
	cell, err := history.Decode(data)
	if err != nil {
		return nil, err
	}
	recs := j.source(j.view.iterator(), cell)
	var buf []R
	if j.group != nil {
		buf, err = kernel.CollectGroups(recs, entityOf[X], j.group, token)
	} else {
		buf, err = kernel.Collect(recs, j.mapper, token)
	}
	if err != nil || len(buf) == 0 {
		return nil, err
	}
	select {
	case j.out <- buf:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func runStream[X history.Record, R any](ctx context.Context, v *View, job *streamJob[X, R]) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		token := kernel.NewToken()
		out := make(chan []R)
		done := make(chan error, 1)
		job.out = out
		go func() {
			_, err := backend.Run(ctx, v.backend, v.query(token), job)
			done <- err
		}()

		for {
			select {
			case batch := <-out:
				for _, r := range batch {
					if !yield(r, nil) {
						token.Cancel()
						return
					}
				}
			case err := <-done:
				if err != nil {
					var zero R
					yield(zero, err)
				}
				return
			}
		}
	}
}

// Stream yields the mapped records lazily, cell by cell, in no particular
// cell order. Breaking out of the loop cancels the query.
func Stream[X history.Record, R any](ctx context.Context, v *View, source Source[X], mapper func(X) (R, error)) iter.Seq2[R, error] {
	return runStream(ctx, v, &streamJob[X, R]{view: v, source: source, mapper: mapper})
}

func GroupStream[X history.Record, R any](ctx context.Context, v *View, source Source[X], mapper func([]X) ([]R, error)) iter.Seq2[R, error] {
	return runStream(ctx, v, &streamJob[X, R]{view: v, source: source, group: mapper})
}

// Count counts the records of the view.
func Count[X history.Record](ctx context.Context, v *View, source Source[X]) (int64, error) {
	return MapReduce(ctx, v, source,
		func(X) (int64, error) { return 1, nil },
		func() int64 { return 0 },
		func(acc, n int64) int64 { return acc + n },
		func(a, b int64) int64 { return a + b },
	)
}

func Sum[X history.Record, N constraints.Integer | constraints.Float](ctx context.Context, v *View, source Source[X], value func(X) N) (N, error) {
	return MapReduce(ctx, v, source,
		func(x X) (N, error) { return value(x), nil },
		func() N { return 0 },
		func(acc, n N) N { return acc + n },
		func(a, b N) N { return a + b },
	)
}

// CountBy counts the records per key.
func CountBy[X history.Record, K comparable](ctx context.Context, v *View, source Source[X], key func(X) K) (map[K]int64, error) {
	return MapReduce(ctx, v, source,
		func(x X) (K, error) { return key(x), nil },
		func() map[K]int64 { return make(map[K]int64) },
		func(acc map[K]int64, k K) map[K]int64 {
			acc[k]++
			return acc
		},
		func(a, b map[K]int64) map[K]int64 {
			for k, n := range b {
				a[k] += n
			}
			return a
		},
	)
}
