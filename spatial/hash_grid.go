package spatial

import (
	"math"
	"sort"

	"github.com/aukilabs/kenaz/geometry"
)

// Spatial Hash Grid
//
// An unbounded, uniformly sub-divided grid implementing the SpatialPartition
// interface. The particularities are:
//   - cells are keyed by integer coordinates and only exist while occupied.
//   - a coordinate maps to round(v / cellSize), so cell 0 is centered on the
//     origin and objects straddling it bucket symmetrically.
//   - every entry remembers the cells it occupies, removal only visits those.
//   - entries larger than the configured maximum size skip the cells and live
//     in an oversized list that every query scans.

// MaxCellsPerEntry bounds the number of cells one entry may occupy. Larger
// entries are treated as oversized.
const MaxCellsPerEntry = 4096

// MaxRaySteps bounds the number of cells a ray query walks.
const MaxRaySteps = 1 << 16

type CellKey struct {
	X int32
	Y int32
	Z int32
}

type gridEntry struct {
	bounds    geometry.Bounds
	cells     []CellKey
	oversized bool
}

type HashGrid struct {
	cellSize      float32
	maxEntitySize float32

	cells     map[CellKey][]uint32
	entries   map[uint32]*gridEntry
	oversized map[uint32]struct{}

	maxBounds      geometry.Bounds
	maxBoundsDirty bool
}

// NewHashGrid creates a grid with the given cell size. Entries whose largest
// side exceeds maxEntitySize are not bucketed; 0 disables the limit.
func NewHashGrid(cellSize float32, maxEntitySize float32) *HashGrid {
	if maxEntitySize < 0 {
		maxEntitySize = 0
	}

	grid := &HashGrid{
		maxEntitySize: maxEntitySize,
	}
	grid.Reset(cellSize)
	return grid
}

func (grid *HashGrid) Reset(cellSize float32) {
	if cellSize <= 0 || math.IsNaN(float64(cellSize)) || math.IsInf(float64(cellSize), 0) {
		cellSize = 1
	}

	grid.cellSize = cellSize
	grid.cells = make(map[CellKey][]uint32)
	grid.entries = make(map[uint32]*gridEntry)
	grid.oversized = make(map[uint32]struct{})
	grid.maxBounds = geometry.Bounds{}
	grid.maxBoundsDirty = false
}

func (grid *HashGrid) CellSize() float32 {
	return grid.cellSize
}

func (grid *HashGrid) Insert(id uint32, b geometry.Bounds) bool {
	if !b.Valid() {
		return false
	}

	if _, ok := grid.entries[id]; ok {
		grid.Remove(id)
	}

	entry := &gridEntry{bounds: b}
	minCell, maxCell := grid.cellRange(b)

	if grid.isOversized(b) || cellCount(minCell, maxCell) > MaxCellsPerEntry {
		entry.oversized = true
		grid.oversized[id] = struct{}{}
	} else {
		entry.cells = make([]CellKey, 0, cellCount(minCell, maxCell))
		for x := minCell.X; x <= maxCell.X; x++ {
			for y := minCell.Y; y <= maxCell.Y; y++ {
				for z := minCell.Z; z <= maxCell.Z; z++ {
					key := CellKey{x, y, z}
					grid.cells[key] = append(grid.cells[key], id)
					entry.cells = append(entry.cells, key)
				}
			}
		}
	}

	grid.entries[id] = entry
	if len(grid.entries) == 1 {
		grid.maxBounds = b
		grid.maxBoundsDirty = false
	} else if !grid.maxBoundsDirty {
		grid.maxBounds = grid.maxBounds.Encapsulate(b)
	}
	return true
}

func (grid *HashGrid) Remove(id uint32) bool {
	entry, ok := grid.entries[id]
	if !ok {
		return false
	}

	for _, key := range entry.cells {
		grid.removeFromCell(id, key)
	}
	entry.cells = nil

	delete(grid.oversized, id)
	delete(grid.entries, id)
	grid.maxBoundsDirty = true
	return true
}

func (grid *HashGrid) Query(b geometry.Bounds) []uint32 {
	if !b.Valid() || len(grid.entries) == 0 {
		return nil
	}

	minCell, maxCell := grid.cellRange(b)
	seen := make(map[uint32]struct{})
	var result []uint32

	collect := func(ids []uint32) {
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				result = append(result, id)
			}
		}
	}

	// Large queries walk the occupied cells instead of the covered range.
	if cellCount(minCell, maxCell) > len(grid.cells) {
		for key, ids := range grid.cells {
			if inRange(key, minCell, maxCell) {
				collect(ids)
			}
		}
	} else {
		for x := minCell.X; x <= maxCell.X; x++ {
			for y := minCell.Y; y <= maxCell.Y; y++ {
				for z := minCell.Z; z <= maxCell.Z; z++ {
					collect(grid.cells[CellKey{x, y, z}])
				}
			}
		}
	}

	for id := range grid.oversized {
		collect([]uint32{id})
	}
	return result
}

// QueryRay walks the cells crossed by the ray (Amanatides & Woo) and returns
// their ids in walking order, oversized ids last.
func (grid *HashGrid) QueryRay(r geometry.Ray) []uint32 {
	if len(grid.entries) == 0 {
		return nil
	}

	seen := make(map[uint32]struct{})
	var result []uint32
	visit := func(key CellKey) {
		for _, id := range grid.cells[key] {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				result = append(result, id)
			}
		}
	}

	size := float64(grid.cellSize)
	dir := r.Direction()

	var (
		cell   [3]int64
		step   [3]int64
		tMax   [3]float64
		tDelta [3]float64
		steps  int64
	)

	for i := 0; i < 3; i++ {
		u := float64(r.From[i])/size + 0.5
		end := int64(math.Floor(float64(r.To[i])/size + 0.5))
		cell[i] = int64(math.Floor(u))
		d := float64(dir[i]) / size

		switch {
		case d > 0:
			step[i] = 1
			tMax[i] = (float64(cell[i]) + 1 - u) / d
			tDelta[i] = 1 / d
		case d < 0:
			step[i] = -1
			tMax[i] = (u - float64(cell[i])) / -d
			tDelta[i] = 1 / -d
		default:
			tMax[i] = math.Inf(1)
			tDelta[i] = math.Inf(1)
		}

		n := end - cell[i]
		if n < 0 {
			n = -n
		}
		steps += n
	}

	if steps > MaxRaySteps {
		steps = MaxRaySteps
	}

	visit(CellKey{int32(cell[0]), int32(cell[1]), int32(cell[2])})
	for n := int64(0); n < steps; n++ {
		axis := 0
		if tMax[1] < tMax[axis] {
			axis = 1
		}
		if tMax[2] < tMax[axis] {
			axis = 2
		}
		if tMax[axis] > 1 {
			break
		}

		cell[axis] += step[axis]
		tMax[axis] += tDelta[axis]
		visit(CellKey{int32(cell[0]), int32(cell[1]), int32(cell[2])})
	}

	for id := range grid.oversized {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			result = append(result, id)
		}
	}
	return result
}

func (grid *HashGrid) MaxBounds() (geometry.Bounds, bool) {
	if len(grid.entries) == 0 {
		return geometry.Bounds{}, false
	}

	if grid.maxBoundsDirty {
		first := true
		for _, entry := range grid.entries {
			if first {
				grid.maxBounds = entry.bounds
				first = false
				continue
			}
			grid.maxBounds = grid.maxBounds.Encapsulate(entry.bounds)
		}
		grid.maxBoundsDirty = false
	}
	return grid.maxBounds, true
}

func (grid *HashGrid) Bounds(id uint32) (geometry.Bounds, bool) {
	entry, ok := grid.entries[id]
	if !ok {
		return geometry.Bounds{}, false
	}
	return entry.bounds, true
}

func (grid *HashGrid) Contains(id uint32) bool {
	_, ok := grid.entries[id]
	return ok
}

// Cells returns a copy of the cells occupied by id. Oversized and unknown ids
// occupy no cell.
func (grid *HashGrid) Cells(id uint32) []CellKey {
	entry, ok := grid.entries[id]
	if !ok || len(entry.cells) == 0 {
		return nil
	}

	cells := make([]CellKey, len(entry.cells))
	copy(cells, entry.cells)
	return cells
}

// IDs returns every indexed id in ascending order.
func (grid *HashGrid) IDs() []uint32 {
	ids := make([]uint32, 0, len(grid.entries))
	for id := range grid.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})
	return ids
}

func (grid *HashGrid) Len() int {
	return len(grid.entries)
}

func (grid *HashGrid) GetDebugInfo() SpatialDebugInfo {
	result := SpatialDebugInfo{
		CellSize:       grid.cellSize,
		CellCount:      uint32(len(grid.cells)),
		EntityCount:    uint32(len(grid.entries)),
		OversizedCount: uint32(len(grid.oversized)),
	}

	for _, ids := range grid.cells {
		if n := uint32(len(ids)); n > result.MaxOccupancy {
			result.MaxOccupancy = n
		}
	}

	result.MaxBounds, _ = grid.MaxBounds()
	return result
}

func (grid *HashGrid) isOversized(b geometry.Bounds) bool {
	return grid.maxEntitySize > 0 && b.LargestSide() > grid.maxEntitySize
}

func (grid *HashGrid) cellCoord(v float32) int32 {
	c := math.Floor(float64(v)/float64(grid.cellSize) + 0.5)
	return int32(math.Max(math.MinInt32, math.Min(math.MaxInt32, c)))
}

func (grid *HashGrid) cellRange(b geometry.Bounds) (CellKey, CellKey) {
	minCell := CellKey{
		X: grid.cellCoord(b.Min.X()),
		Y: grid.cellCoord(b.Min.Y()),
		Z: grid.cellCoord(b.Min.Z()),
	}
	maxCell := CellKey{
		X: grid.cellCoord(b.Max.X()),
		Y: grid.cellCoord(b.Max.Y()),
		Z: grid.cellCoord(b.Max.Z()),
	}
	return minCell, maxCell
}

func (grid *HashGrid) removeFromCell(id uint32, key CellKey) {
	ids := grid.cells[key]
	for i := range ids {
		if ids[i] != id {
			continue
		}
		ids[i] = ids[len(ids)-1]
		ids = ids[:len(ids)-1]
		break
	}

	if len(ids) == 0 {
		delete(grid.cells, key)
		return
	}
	grid.cells[key] = ids
}

func cellCount(minCell CellKey, maxCell CellKey) int {
	x := int64(maxCell.X) - int64(minCell.X) + 1
	y := int64(maxCell.Y) - int64(minCell.Y) + 1
	z := int64(maxCell.Z) - int64(minCell.Z) + 1

	n := x * y
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	n *= z
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}

func inRange(key CellKey, minCell CellKey, maxCell CellKey) bool {
	return key.X >= minCell.X && key.X <= maxCell.X &&
		key.Y >= minCell.Y && key.Y <= maxCell.Y &&
		key.Z >= minCell.Z && key.Z <= maxCell.Z
}
