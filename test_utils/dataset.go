// Package testutils builds synthetic cell histories for tests and the CLI.
package testutils

import (
	"context"
	"math/rand/v2"

	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/store"
)

type Params struct {
	Zoom  uint8
	IDs   []uint64
	Types []history.EntityType
	// Entities per cell and versions per entity.
	Entities int
	Versions int
	Seed     uint64
}

func (p *Params) SetDefaults() {
	if len(p.Types) == 0 {
		p.Types = []history.EntityType{history.Node}
	}
	if p.Entities <= 0 {
		p.Entities = 3
	}
	if p.Versions <= 0 {
		p.Versions = 2
	}
}

// Generate returns one cell per (type, id). Entity ids are unique per type.
// Each entity is created, edited Versions-1 times, and every third entity
// is deleted at the end.
func Generate(p Params) []*history.Cell {
	p.SetDefaults()
	rnd := rand.New(rand.NewPCG(p.Seed, uint64(p.Zoom)))
	var cells []*history.Cell
	for _, t := range p.Types {
		for _, id := range p.IDs {
			cell := &history.Cell{ID: grid.CellID{Zoom: p.Zoom, ID: id}, Type: t}
			for e := range p.Entities {
				ent := history.Entity{ID: int64(id)*1000 + int64(e)}
				ts := int64(1_000_000 + rnd.IntN(1000))
				tagVal := uint32(rnd.IntN(4))
				for v := range p.Versions {
					ts += int64(1 + rnd.IntN(10_000))
					if rnd.IntN(2) == 0 {
						tagVal++
					}
					ent.Versions = append(ent.Versions, history.Version{
						Version:   int32(v + 1),
						Timestamp: ts,
						Changeset: int64(rnd.IntN(1 << 20)),
						Visible:   true,
						Tags:      []history.Tag{{Key: 1, Value: tagVal}},
					})
				}
				if e%3 == 2 {
					ent.Versions = append(ent.Versions, history.Version{
						Version:   int32(p.Versions + 1),
						Timestamp: ts + 1,
						Visible:   false,
					})
				}
				cell.Entities = append(cell.Entities, ent)
			}
			cells = append(cells, cell)
		}
	}
	return cells
}

// Contributions counts the records a full contribution iteration yields.
func Contributions(cells []*history.Cell) int {
	it := history.Iterator{}
	n := 0
	for _, c := range cells {
		for range it.ByContribution(c) {
			n++
		}
	}
	return n
}

// Load writes the encoded cells.
func Load(ctx context.Context, w store.Writer, cells []*history.Cell) error {
	for _, c := range cells {
		if err := w.Put(ctx, c.Type, c.ID, history.Encode(c)); err != nil {
			return err
		}
	}
	return nil
}
