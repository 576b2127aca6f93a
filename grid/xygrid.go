package grid

import (
	"errors"
	"fmt"
	"math"
)

var ErrBadBBox = errors.New("grid: bad bounding box")

// BBox is a WGS84 bounding box in degrees.
type BBox struct {
	MinLon, MinLat float64
	MaxLon, MaxLat float64
}

func (b BBox) Validate() error {
	if b.MinLon > b.MaxLon || b.MinLat > b.MaxLat ||
		b.MinLon < -180 || b.MaxLon > 180 || b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("%w: %v", ErrBadBBox, b)
	}
	return nil
}

// World covers every cell.
var World = BBox{MinLon: -180, MinLat: -90, MaxLon: 180, MaxLat: 90}

// XYGrid is the regular lon/lat grid of one zoom level: 2^zoom columns of
// 360/2^zoom degrees, half as many rows. Cell id = row*columns + column.
type XYGrid struct {
	Zoom uint8
}

func (g XYGrid) Columns() uint64 {
	return 1 << g.Zoom
}

func (g XYGrid) Rows() uint64 {
	if g.Zoom == 0 {
		return 1
	}
	return 1 << (g.Zoom - 1)
}

func (g XYGrid) CellWidth() float64 {
	return 360 / float64(g.Columns())
}

func (g XYGrid) column(lon float64) uint64 {
	c := uint64(math.Floor((lon + 180) / g.CellWidth()))
	return min(c, g.Columns()-1)
}

func (g XYGrid) row(lat float64) uint64 {
	r := uint64(math.Floor((lat + 90) / g.CellWidth()))
	return min(r, g.Rows()-1)
}

// Cell returns the cell holding the point.
func (g XYGrid) Cell(lon, lat float64) CellID {
	return CellID{Zoom: g.Zoom, ID: g.row(lat)*g.Columns() + g.column(lon)}
}

// Bounds returns the extent of a cell of this level.
func (g XYGrid) Bounds(id uint64) BBox {
	w := g.CellWidth()
	col := id % g.Columns()
	row := id / g.Columns()
	b := BBox{
		MinLon: -180 + float64(col)*w,
		MinLat: -90 + float64(row)*w,
	}
	b.MaxLon = b.MinLon + w
	b.MaxLat = math.Min(b.MinLat+w, 90)
	return b
}

// Ranges lists the row-wise id ranges intersecting the bbox. Full-width
// rows are merged into a single range.
func (g XYGrid) Ranges(b BBox) []CellIDRange {
	c0, c1 := g.column(b.MinLon), g.column(b.MaxLon)
	r0, r1 := g.row(b.MinLat), g.row(b.MaxLat)
	n := g.Columns()
	if c0 == 0 && c1 == n-1 {
		return []CellIDRange{{Zoom: g.Zoom, From: r0 * n, To: r1*n + n - 1}}
	}
	ranges := make([]CellIDRange, 0, r1-r0+1)
	for r := r0; r <= r1; r++ {
		ranges = append(ranges, CellIDRange{Zoom: g.Zoom, From: r*n + c0, To: r*n + c1})
	}
	return ranges
}

// BBoxRanges covers the bbox on every level 0..maxZoom. Entities are stored
// on the deepest level fully containing them, so a query must visit all
// levels.
func BBoxRanges(b BBox, maxZoom uint8) ([]CellIDRange, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if maxZoom > MaxZoom/2 {
		return nil, fmt.Errorf("%w: zoom %d", ErrBadCellID, maxZoom)
	}
	var ranges []CellIDRange
	for z := uint8(0); z <= maxZoom; z++ {
		ranges = append(ranges, XYGrid{Zoom: z}.Ranges(b)...)
	}
	return ranges, nil
}
