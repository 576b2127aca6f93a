package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	oshdb "github.com/GIScience/oshdb-sub001"
	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/history"
	testutils "github.com/GIScience/oshdb-sub001/test_utils"
)

var (
	HelpLoad     = errors.New("load <zoom> <from> <to> [entities] [versions] [seed]")
	HelpBackend  = errors.New("backend [name]")
	HelpRange    = errors.New("range <zoom> <from> <to> | range clear")
	HelpBBox     = errors.New("bbox <minlon> <minlat> <maxlon> <maxlat> [maxzoom] | bbox clear")
	HelpTypes    = errors.New("types node,way,relation")
	HelpTimeout  = errors.New("timeout <duration>, 0 waits forever")
	HelpInterval = errors.New("interval <from> <to>, unix seconds, 0 0 clears")
	HelpAt       = errors.New("at <ts>[,<ts>...]")
	HelpCell     = errors.New("cell <zoom:id> [node|way|relation]")
)

func (repl *REPL) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(repl.out, format, a...)
}

func (repl *REPL) CommandHelp(args []string) error {
	for _, h := range []error{HelpLoad, HelpBackend, HelpRange, HelpBBox, HelpTypes, HelpTimeout, HelpInterval, HelpAt, HelpCell} {
		repl.printf("  %s\n", h)
	}
	repl.printf("  count | snapshots | kinds | compare | stats | purge | metrics | exit\n")
	return nil
}

func parseUints(args []string) ([]uint64, error) {
	out := make([]uint64, len(args))
	for i, a := range args {
		v, err := strconv.ParseUint(a, 10, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (repl *REPL) CommandLoad(ctx context.Context, args []string) error {
	if len(args) < 3 || len(args) > 6 {
		return HelpLoad
	}
	nums, err := parseUints(args)
	if err != nil || nums[0] > grid.MaxZoom || nums[1] > nums[2] {
		return HelpLoad
	}
	p := testutils.Params{Zoom: uint8(nums[0]), Types: history.AllTypes}
	for id := nums[1]; id <= nums[2]; id++ {
		p.IDs = append(p.IDs, id)
	}
	if len(nums) > 3 {
		p.Entities = int(nums[3])
	}
	if len(nums) > 4 {
		p.Versions = int(nums[4])
	}
	if len(nums) > 5 {
		p.Seed = nums[5]
	}
	n, err := repl.Engine.Load(ctx, p)
	if err != nil {
		return err
	}
	repl.printf("%d cells, %d contributions loaded\n", len(p.IDs)*len(p.Types), n)
	return nil
}

func (repl *REPL) CommandBackend(args []string) error {
	switch len(args) {
	case 0:
		for _, name := range repl.Engine.BackendNames() {
			mark := " "
			if name == repl.backend.Name() {
				mark = "*"
			}
			repl.printf("%s %s\n", mark, name)
		}
		return nil
	case 1:
		b, err := repl.Engine.Backend(args[0])
		if err != nil {
			return err
		}
		repl.backend = b
		return nil
	}
	return HelpBackend
}

func (repl *REPL) CommandRange(args []string) error {
	if len(args) == 1 && args[0] == "clear" {
		repl.opts.Ranges = nil
		return nil
	}
	if len(args) == 0 {
		for _, r := range repl.opts.Ranges {
			repl.printf("%s\n", r)
		}
		return nil
	}
	if len(args) != 3 {
		return HelpRange
	}
	nums, err := parseUints(args)
	if err != nil || nums[0] > grid.MaxZoom {
		return HelpRange
	}
	repl.opts.Ranges = append(repl.opts.Ranges, grid.CellIDRange{Zoom: uint8(nums[0]), From: nums[1], To: nums[2]})
	return nil
}

func (repl *REPL) CommandBBox(args []string) error {
	if len(args) == 1 && args[0] == "clear" {
		repl.opts.BBox = nil
		return nil
	}
	if len(args) != 4 && len(args) != 5 {
		return HelpBBox
	}
	var f [4]float64
	for i := range f {
		v, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return HelpBBox
		}
		f[i] = v
	}
	bbox := grid.BBox{MinLon: f[0], MinLat: f[1], MaxLon: f[2], MaxLat: f[3]}
	if err := bbox.Validate(); err != nil {
		return err
	}
	if len(args) == 5 {
		z, err := strconv.ParseUint(args[4], 10, 8)
		if err != nil {
			return HelpBBox
		}
		repl.opts.MaxZoom = uint8(z)
	}
	repl.opts.BBox = &bbox
	return nil
}

func (repl *REPL) CommandTypes(args []string) error {
	if len(args) != 1 {
		return HelpTypes
	}
	var types []history.EntityType
	for _, s := range strings.Split(args[0], ",") {
		t, err := history.ParseEntityType(s)
		if err != nil {
			return err
		}
		if !slices.Contains(types, t) {
			types = append(types, t)
		}
	}
	repl.opts.Types = types
	return nil
}

func (repl *REPL) CommandTimeout(args []string) error {
	if len(args) != 1 {
		return HelpTimeout
	}
	if args[0] == "0" {
		repl.opts.Timeout = 0
		return nil
	}
	d, err := time.ParseDuration(args[0])
	if err != nil {
		return HelpTimeout
	}
	repl.opts.Timeout = d
	return nil
}

func (repl *REPL) CommandInterval(args []string) error {
	if len(args) != 2 {
		return HelpInterval
	}
	from, err1 := strconv.ParseInt(args[0], 10, 64)
	to, err2 := strconv.ParseInt(args[1], 10, 64)
	if err1 != nil || err2 != nil {
		return HelpInterval
	}
	repl.opts.From, repl.opts.To = from, to
	return nil
}

func (repl *REPL) CommandAt(args []string) error {
	if len(args) != 1 {
		return HelpAt
	}
	var stamps []int64
	for _, s := range strings.Split(args[0], ",") {
		ts, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return HelpAt
		}
		stamps = append(stamps, ts)
	}
	repl.opts.Timestamps = stamps
	return nil
}

func (repl *REPL) view() (*oshdb.View, error) {
	return oshdb.NewView(repl.backend, repl.opts)
}

func (repl *REPL) CommandCount(ctx context.Context, args []string) error {
	v, err := repl.view()
	if err != nil {
		return err
	}
	start := time.Now()
	n, err := oshdb.Count(ctx, v, oshdb.ByContribution)
	if err != nil {
		return err
	}
	repl.printf("%d contributions (%s, %s)\n", n, repl.backend.Name(), time.Since(start).Round(time.Microsecond))
	return nil
}

func (repl *REPL) CommandSnapshots(ctx context.Context, args []string) error {
	if len(repl.opts.Timestamps) == 0 {
		return HelpAt
	}
	v, err := repl.view()
	if err != nil {
		return err
	}
	counts, err := oshdb.CountBy(ctx, v, oshdb.ByTimestamp, func(s history.Snapshot) int64 { return s.Timestamp })
	if err != nil {
		return err
	}
	for _, ts := range repl.opts.Timestamps {
		repl.printf("%d\t%d\n", ts, counts[ts])
	}
	return nil
}

func (repl *REPL) CommandKinds(ctx context.Context, args []string) error {
	v, err := repl.view()
	if err != nil {
		return err
	}
	counts, err := oshdb.CountBy(ctx, v, oshdb.ByContribution, func(c history.Contribution) string {
		return c.Types.String()
	})
	if err != nil {
		return err
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	for _, k := range kinds {
		repl.printf("%s\t%d\n", k, counts[k])
	}
	return nil
}

// CommandCompare runs the contribution count on every backend.
func (repl *REPL) CommandCompare(ctx context.Context, args []string) error {
	current := repl.backend
	defer func() { repl.backend = current }()
	for _, name := range repl.Engine.BackendNames() {
		repl.backend, _ = repl.Engine.Backend(name)
		if err := repl.CommandCount(ctx, nil); err != nil {
			repl.printf("%s: %s\n", name, err)
		}
	}
	return nil
}

func (repl *REPL) CommandStats(args []string) error {
	stats := repl.Engine.Cluster().Stats()
	for _, n := range repl.Engine.Cluster().Nodes() {
		s := stats[n]
		repl.printf("%s\tjobs=%d failed=%d running=%d avg=%.3fms cached=%d partitions=%d\n",
			n, s.Jobs, s.Failed, s.Running, s.AvgJobMs, s.CacheSize,
			len(repl.Engine.Cluster().Affinity().PrimaryPartitions(n)))
	}
	return nil
}

// CommandCell peeks a single stored cell through its primary node.
func (repl *REPL) CommandCell(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return HelpCell
	}
	id, err := grid.ParseCellID(args[0])
	if err != nil || !id.Valid() {
		return HelpCell
	}
	types := history.AllTypes
	if len(args) == 2 {
		t, err := history.ParseEntityType(args[1])
		if err != nil {
			return HelpCell
		}
		types = []history.EntityType{t}
	}
	c := repl.Engine.Cluster()
	for _, t := range types {
		if !c.HasCache(t) {
			repl.printf("%s\t%s\tno cache\n", id, t)
			continue
		}
		data, err := c.Get(ctx, t, id)
		if err != nil {
			return err
		}
		if data == nil {
			repl.printf("%s\t%s\tabsent\n", id, t)
			continue
		}
		cell, err := history.Decode(data)
		if err != nil {
			repl.printf("%s\t%s\t%s\n", id, t, err)
			continue
		}
		versions := 0
		for _, e := range cell.Entities {
			versions += len(e.Versions)
		}
		repl.printf("%s\t%s\tprimary=%s entities=%d versions=%d bytes=%d\n",
			id, t, c.Affinity().PrimaryFor(id), len(cell.Entities), versions, len(data))
	}
	return nil
}

func (repl *REPL) CommandPurge(args []string) error {
	repl.Engine.Cluster().PurgeCaches()
	repl.printf("caches purged\n")
	return nil
}

func (repl *REPL) CommandMetrics(args []string) error {
	families, err := repl.Engine.Registry().Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			var val float64
			switch {
			case m.GetCounter() != nil:
				val = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				val = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				val = float64(m.GetHistogram().GetSampleCount())
			}
			repl.printf("%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), val)
		}
	}
	return nil
}
