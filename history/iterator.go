package history

import (
	"iter"
	"slices"

	"github.com/GIScience/oshdb-sub001/grid"
)

// Record is what the cell iterator produces. Records of one cell arrive
// ordered by entity, then by time.
type Record interface {
	Entity() EntityRef
	Time() int64
}

// ContributionType is a bit set describing what a contribution changed.
type ContributionType uint8

const (
	Creation ContributionType = 1 << iota
	Deletion
	TagChange
	OtherChange
)

func (t ContributionType) Has(o ContributionType) bool {
	return t&o != 0
}

func (t ContributionType) String() string {
	s := ""
	for _, n := range []struct {
		t    ContributionType
		name string
	}{{Creation, "creation"}, {Deletion, "deletion"}, {TagChange, "tags"}, {OtherChange, "other"}} {
		if t.Has(n.t) {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	return s
}

// Contribution is one change of one entity. Before is nil when the entity
// did not exist before.
type Contribution struct {
	Ref       EntityRef
	Cell      grid.CellID
	Timestamp int64
	Before    *Version
	After     *Version
	Types     ContributionType
}

func (c Contribution) Entity() EntityRef { return c.Ref }
func (c Contribution) Time() int64       { return c.Timestamp }

// Snapshot is the state of one entity at one queried timestamp.
type Snapshot struct {
	Ref       EntityRef
	Cell      grid.CellID
	Timestamp int64
	Version   *Version
}

func (s Snapshot) Entity() EntityRef { return s.Ref }
func (s Snapshot) Time() int64       { return s.Timestamp }

// Iterator turns decoded cells into records.
type Iterator struct {
	// From and To bound contributions, inclusive; zero To means no upper bound.
	From, To int64
	// Timestamps to take snapshots at.
	Timestamps []int64
	// Filter, when set, keeps only records whose resulting (or, for
	// deletions, previous) version passes.
	Filter func(ref EntityRef, v *Version) bool
}

func (it *Iterator) inInterval(ts int64) bool {
	return ts >= it.From && (it.To == 0 || ts <= it.To)
}

func (it *Iterator) keep(ref EntityRef, v *Version) bool {
	return it.Filter == nil || it.Filter(ref, v)
}

func classify(before, after *Version) (t ContributionType) {
	wasVisible := before != nil && before.Visible
	switch {
	case !wasVisible && after.Visible:
		t = Creation
	case wasVisible && !after.Visible:
		t = Deletion
	case wasVisible && after.Visible:
		if !before.TagsEqual(after) {
			t = TagChange
		} else {
			t = OtherChange
		}
	}
	return
}

// ByContribution yields every change inside [From, To].
func (it *Iterator) ByContribution(cell *Cell) iter.Seq[Contribution] {
	return func(yield func(Contribution) bool) {
		for _, ent := range cell.Sorted() {
			ref := EntityRef{Type: cell.Type, ID: ent.ID}
			var before *Version
			for i := range ent.Versions {
				after := &ent.Versions[i]
				if it.inInterval(after.Timestamp) {
					subject := after
					if !after.Visible && before != nil {
						subject = before
					}
					types := classify(before, after)
					if types != 0 && it.keep(ref, subject) {
						c := Contribution{
							Ref:       ref,
							Cell:      cell.ID,
							Timestamp: after.Timestamp,
							Before:    before,
							After:     after,
							Types:     types,
						}
						if !yield(c) {
							return
						}
					}
				}
				before = after
			}
		}
	}
}

// ByTimestamp yields the visible state of every entity at each timestamp.
func (it *Iterator) ByTimestamp(cell *Cell) iter.Seq[Snapshot] {
	stamps := slices.Clone(it.Timestamps)
	slices.Sort(stamps)
	return func(yield func(Snapshot) bool) {
		for _, ent := range cell.Sorted() {
			ref := EntityRef{Type: cell.Type, ID: ent.ID}
			for _, ts := range stamps {
				v := latest(ent.Versions, ts)
				if v == nil || !v.Visible || !it.keep(ref, v) {
					continue
				}
				if !yield(Snapshot{Ref: ref, Cell: cell.ID, Timestamp: ts, Version: v}) {
					return
				}
			}
		}
	}
}

// latest returns the newest version not younger than ts; versions are
// sorted by time.
func latest(versions []Version, ts int64) *Version {
	i, _ := slices.BinarySearchFunc(versions, ts+1, func(v Version, t int64) int {
		switch {
		case v.Timestamp < t:
			return -1
		case v.Timestamp > t:
			return 1
		}
		return 0
	})
	if i == 0 {
		return nil
	}
	return &versions[i-1]
}
