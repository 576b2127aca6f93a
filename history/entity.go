// Package history holds the version history stored in a grid cell and the
// iterator turning it into contribution and snapshot records.
package history

import (
	"fmt"
	"slices"

	"github.com/GIScience/oshdb-sub001/grid"
)

// EntityType selects the sub-store (one per entity kind).
type EntityType byte

const (
	Node     EntityType = 'n'
	Way      EntityType = 'w'
	Relation EntityType = 'r'
)

var AllTypes = []EntityType{Node, Way, Relation}

func (t EntityType) Valid() bool {
	return t == Node || t == Way || t == Relation
}

func (t EntityType) String() string {
	switch t {
	case Node:
		return "node"
	case Way:
		return "way"
	case Relation:
		return "relation"
	default:
		return fmt.Sprintf("type(%d)", byte(t))
	}
}

func ParseEntityType(s string) (EntityType, error) {
	for _, t := range AllTypes {
		if s == t.String() || (len(s) == 1 && s[0] == byte(t)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown entity type %q", s)
}

// EntityRef identifies an entity across cells.
type EntityRef struct {
	Type EntityType
	ID   int64
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%c%d", r.Type, r.ID)
}

type Tag struct {
	Key   uint32
	Value uint32
}

// Version is one state of an entity.
type Version struct {
	Version   int32
	Timestamp int64 // unix seconds
	Changeset int64
	Visible   bool
	Tags      []Tag
}

func (v *Version) HasTag(key uint32) bool {
	for _, t := range v.Tags {
		if t.Key == key {
			return true
		}
	}
	return false
}

func (v *Version) TagsEqual(o *Version) bool {
	return slices.Equal(v.Tags, o.Tags)
}

// Entity carries all versions of one entity, oldest first.
type Entity struct {
	ID       int64
	Versions []Version
}

// Cell is the decoded content of one grid cell of one sub-store.
type Cell struct {
	ID       grid.CellID
	Type     EntityType
	Entities []Entity
}

// Sorted returns the entities ordered by id with versions ordered by time.
// The cell itself is left untouched.
func (c *Cell) Sorted() []Entity {
	ents := slices.Clone(c.Entities)
	slices.SortStableFunc(ents, func(a, b Entity) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	for i := range ents {
		vs := ents[i].Versions
		if !slices.IsSortedFunc(vs, byTime) {
			vs = slices.Clone(vs)
			slices.SortStableFunc(vs, byTime)
			ents[i].Versions = vs
		}
	}
	return ents
}

func byTime(a, b Version) int {
	switch {
	case a.Timestamp < b.Timestamp:
		return -1
	case a.Timestamp > b.Timestamp:
		return 1
	}
	return int(a.Version - b.Version)
}
