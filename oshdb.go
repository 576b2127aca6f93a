// Package oshdb runs map/reduce queries over the version history stored in
// grid cells. A View binds a query (entity types, cell ranges or a
// bounding box, time filters) to one execution backend; the generic
// functions in this package run a mapper over every history record of the
// view and reduce or stream the results.
package oshdb

import (
	"fmt"
	"slices"
	"time"

	"github.com/GIScience/oshdb-sub001/backend"
	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/kernel"
	"github.com/GIScience/oshdb-sub001/oshdb_errors"
	"github.com/GIScience/oshdb-sub001/utils"
)

type Options struct {
	// Types selects the sub-stores to query, all of them by default.
	Types []history.EntityType
	// Ranges and BBox select the cells; a bbox adds the ranges of every
	// zoom level up to MaxZoom.
	Ranges  []grid.CellIDRange
	BBox    *grid.BBox
	MaxZoom uint8
	Timeout time.Duration

	// From and To bound contributions; Timestamps are the snapshot times.
	From, To   int64
	Timestamps []int64
	Filter     func(history.EntityRef, *history.Version) bool

	Log utils.Logger
}

func (o *Options) SetDefaults() {
	if len(o.Types) == 0 {
		o.Types = slices.Clone(history.AllTypes)
	}
	if o.MaxZoom == 0 {
		o.MaxZoom = 12
	}
	if o.Log == nil {
		o.Log = utils.NewDiscardLogger()
	}
}

type View struct {
	backend backend.Backend
	opts    Options
	ranges  []grid.CellIDRange
}

func NewView(b backend.Backend, opts Options) (*View, error) {
	opts.SetDefaults()
	ranges := slices.Clone(opts.Ranges)
	if opts.BBox != nil {
		bboxRanges, err := grid.BBoxRanges(*opts.BBox, opts.MaxZoom)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", oshdb_errors.ErrBadQuery, err)
		}
		ranges = append(ranges, bboxRanges...)
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("%w: neither cell ranges nor bbox given", oshdb_errors.ErrBadQuery)
	}
	return &View{backend: b, opts: opts, ranges: ranges}, nil
}

func (v *View) Backend() backend.Backend { return v.backend }

func (v *View) Options() Options { return v.opts }

func (v *View) Ranges() []grid.CellIDRange { return v.ranges }

func (v *View) query(token *kernel.Token) *backend.Query {
	return &backend.Query{
		Ranges:  v.ranges,
		Types:   v.opts.Types,
		Timeout: v.opts.Timeout,
		Token:   token,
		Log:     v.opts.Log,
	}
}

func (v *View) iterator() *history.Iterator {
	return &history.Iterator{
		From:       v.opts.From,
		To:         v.opts.To,
		Timestamps: v.opts.Timestamps,
		Filter:     v.opts.Filter,
	}
}
