// Package backend moves cell data from storage to the fold kernel and
// combines the per-cell results. Each Backend is one execution strategy;
// all of them produce the same result for the same query and differ only
// in parallelism and cancellability.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/kernel"
	"github.com/GIScience/oshdb-sub001/oshdb_errors"
	"github.com/GIScience/oshdb-sub001/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/GIScience/oshdb-sub001/backend")

// CellRef names one cell of one sub-store.
type CellRef struct {
	Type history.EntityType
	ID   grid.CellID
}

func (r CellRef) String() string {
	return fmt.Sprintf("%c/%s", r.Type, r.ID)
}

// Job is the reduction a backend runs. Identity and Combine must form a
// monoid; backends combine partial results in arbitrary order and
// grouping.
type Job interface {
	Identity() any
	// Cell reduces the blob of one present cell.
	Cell(ctx context.Context, ref CellRef, data []byte, token *kernel.Token) (any, error)
	Combine(a, b any) any
}

type Query struct {
	Ranges []grid.CellIDRange
	Types  []history.EntityType
	// Timeout of zero waits for the result unconditionally.
	Timeout time.Duration
	// Token, when set, lets the caller stop the query early and receive
	// the result of the work done so far.
	Token *kernel.Token
	Log   utils.Logger
}

func (q *Query) validate() error {
	if len(q.Types) == 0 {
		return fmt.Errorf("%w: no entity types", oshdb_errors.ErrBadQuery)
	}
	for _, t := range q.Types {
		if !t.Valid() {
			return fmt.Errorf("%w: entity type %s", oshdb_errors.ErrBadQuery, t)
		}
	}
	for _, r := range q.Ranges {
		if !r.Valid() {
			return fmt.Errorf("%w: range %s", oshdb_errors.ErrBadQuery, r)
		}
	}
	return nil
}

type Backend interface {
	Name() string
	// Check fails with ErrTableNotFound when a sub-store is missing.
	Check(ctx context.Context, types []history.EntityType) error
	Execute(ctx context.Context, q *Query, job Job, token *kernel.Token) (any, error)
}

// Run checks the sub-stores, executes job under the query timeout and
// records metrics. A failed run cancels the token so that work still in
// flight stops early.
func Run(ctx context.Context, b Backend, q *Query, job Job) (res any, err error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	log := q.Log
	if log == nil {
		log = utils.NewDiscardLogger()
	}
	ctx = log.WithDefaultArgs(ctx, "backend", b.Name())
	ctx, span := tracer.Start(ctx, "backend.run")
	span.SetAttributes(
		attribute.String("backend", b.Name()),
		attribute.Int("ranges", len(q.Ranges)),
		attribute.Int("types", len(q.Types)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		QueryDuration.WithLabelValues(b.Name(), status).Observe(time.Since(start).Seconds())
	}()

	if err := b.Check(ctx, q.Types); err != nil {
		log.WarnCtx(ctx, "query rejected", "err", err)
		return nil, err
	}

	token := q.Token
	if token == nil {
		token = kernel.NewToken()
	}
	log.DebugCtx(ctx, "query started", "ranges", len(q.Ranges), "cells", grid.Ranges(q.Ranges).Len())
	res, err = Supervise(ctx, q.Timeout, token, func(ctx context.Context) (any, error) {
		return b.Execute(ctx, q, job, token)
	})
	switch {
	case err != nil:
		token.Cancel()
		if errors.Is(err, oshdb_errors.ErrTimeout) {
			QueryTimeouts.WithLabelValues(b.Name()).Inc()
			log.WarnCtx(ctx, "query timed out", "timeout", q.Timeout)
		} else {
			log.ErrorCtx(ctx, "query failed", "err", err)
		}
		return nil, err
	case !token.Active():
		log.DebugCtx(ctx, "query cancelled", "took", time.Since(start))
	default:
		log.DebugCtx(ctx, "query done", "took", time.Since(start))
	}
	return res, nil
}

// cellRunner counts cells and hands present ones to the job.
type cellRunner struct {
	job     Job
	backend string
}

func newCellRunner(backend string, job Job) cellRunner {
	return cellRunner{job: job, backend: backend}
}

// reduce returns the job identity for an absent cell.
func (c cellRunner) reduce(ctx context.Context, ref CellRef, data []byte, token *kernel.Token) (any, error) {
	if data == nil {
		CellsMissing.WithLabelValues(c.backend).Inc()
		return c.job.Identity(), nil
	}
	CellsProcessed.WithLabelValues(c.backend).Inc()
	res, err := c.job.Cell(ctx, ref, data, token)
	if err != nil {
		return nil, fmt.Errorf("cell %s: %w", ref, err)
	}
	return res, nil
}

// guard turns a panic of fn into an ErrJobPanic error.
func guard(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", oshdb_errors.ErrJobPanic, r)
			}
		}()
		return fn()
	}
}

// partials holds the results of parallel branches by index. Branches
// skipped after cancellation are left out of the combination.
type partials struct {
	vals []any
	ran  []bool
}

func newPartials(n int) *partials {
	return &partials{vals: make([]any, n), ran: make([]bool, n)}
}

func (p *partials) set(i int, v any) {
	p.vals[i], p.ran[i] = v, true
}

func (p *partials) combine(job Job) any {
	acc := job.Identity()
	for i, v := range p.vals {
		if p.ran[i] {
			acc = job.Combine(acc, v)
		}
	}
	return acc
}
