// Package grid addresses the cells of the spatial grid.
//
// A cell is identified by its zoom level and a positional id on that level.
// Ids of one level are totally ordered; the set of cells a query visits is
// described by inclusive [From, To] id ranges per zoom level.
package grid

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// MaxZoom is the deepest zoom level a CellID can carry.
const MaxZoom = 31

const levelShift = 56

// MaxID is the largest id that fits below the zoom byte of a level id.
const MaxID = 1<<levelShift - 1

var ErrBadCellID = errors.New("grid: bad cell id")

type CellID struct {
	Zoom uint8
	ID   uint64
}

// LevelID packs zoom and id into one integer, zoom in the high byte.
func (c CellID) LevelID() uint64 {
	return uint64(c.Zoom)<<levelShift | c.ID
}

// Valid reports whether c survives LevelID without aliasing another level.
func (c CellID) Valid() bool {
	return c.Zoom <= MaxZoom && c.ID <= MaxID
}

func FromLevelID(lid uint64) CellID {
	return CellID{Zoom: uint8(lid >> levelShift), ID: lid & (1<<levelShift - 1)}
}

// Bytes is the big-endian level id, so byte order equals key order.
func (c CellID) Bytes() []byte {
	return binary.BigEndian.AppendUint64(nil, c.LevelID())
}

func (c CellID) AppendBytes(into []byte) []byte {
	return binary.BigEndian.AppendUint64(into, c.LevelID())
}

func CellIDFromBytes(b []byte) (CellID, error) {
	if len(b) != 8 {
		return CellID{}, ErrBadCellID
	}
	return FromLevelID(binary.BigEndian.Uint64(b)), nil
}

func (c CellID) Less(o CellID) bool {
	if c.Zoom != o.Zoom {
		return c.Zoom < o.Zoom
	}
	return c.ID < o.ID
}

// String renders "zoom:id".
func (c CellID) String() string {
	return fmt.Sprintf("%d:%d", c.Zoom, c.ID)
}

func ParseCellID(s string) (CellID, error) {
	z, id, ok := strings.Cut(s, ":")
	if !ok {
		return CellID{}, fmt.Errorf("%w: %q", ErrBadCellID, s)
	}
	zoom, err := strconv.ParseUint(z, 10, 8)
	if err != nil || zoom > MaxZoom {
		return CellID{}, fmt.Errorf("%w: %q", ErrBadCellID, s)
	}
	n, err := strconv.ParseUint(id, 10, levelShift)
	if err != nil {
		return CellID{}, fmt.Errorf("%w: %q", ErrBadCellID, s)
	}
	return CellID{Zoom: uint8(zoom), ID: n}, nil
}

// CellIDRange is an inclusive id range on one zoom level.
type CellIDRange struct {
	Zoom uint8
	From uint64
	To   uint64
}

func (r CellIDRange) Valid() bool {
	return r.Zoom <= MaxZoom && r.From <= MaxID && r.To <= MaxID
}

func (r CellIDRange) Empty() bool {
	return r.To < r.From
}

// Len is the number of cells in the range.
func (r CellIDRange) Len() uint64 {
	if r.Empty() {
		return 0
	}
	return r.To - r.From + 1
}

func (r CellIDRange) Contains(c CellID) bool {
	return c.Zoom == r.Zoom && c.ID >= r.From && c.ID <= r.To
}

func (r CellIDRange) First() CellID {
	return CellID{Zoom: r.Zoom, ID: r.From}
}

func (r CellIDRange) Last() CellID {
	return CellID{Zoom: r.Zoom, ID: r.To}
}

func (r CellIDRange) String() string {
	return fmt.Sprintf("%d:[%d,%d]", r.Zoom, r.From, r.To)
}

// Ranges is a set of cell id ranges, possibly on several zoom levels.
type Ranges []CellIDRange

// Contains reports whether any range holds the cell.
func (rs Ranges) Contains(c CellID) bool {
	for _, r := range rs {
		if r.Contains(c) {
			return true
		}
	}
	return false
}

// Len counts cells across all ranges; overlapping ranges count twice.
func (rs Ranges) Len() (n uint64) {
	for _, r := range rs {
		n += r.Len()
	}
	return
}

// Enumerate expands the ranges into concrete cell ids, range by range,
// ascending within each range.
func Enumerate(ranges []CellIDRange) []CellID {
	keys := make([]CellID, 0, Ranges(ranges).Len())
	for _, r := range ranges {
		if r.Empty() {
			continue
		}
		for id := r.From; ; id++ {
			keys = append(keys, CellID{Zoom: r.Zoom, ID: id})
			if id == r.To {
				break
			}
		}
	}
	return keys
}

// Shuffle permutes keys in place. Consecutive ids are spatial neighbours and
// tend to share nodes and partitions, a random order spreads the load.
func Shuffle(keys []CellID, rnd *rand.Rand) {
	if rnd == nil {
		rand.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
		return
	}
	rnd.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
}

// EnumerateShuffled is Enumerate followed by Shuffle.
func EnumerateShuffled(ranges []CellIDRange, rnd *rand.Rand) []CellID {
	keys := Enumerate(ranges)
	Shuffle(keys, rnd)
	return keys
}
