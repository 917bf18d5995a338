package spatial

import "github.com/aukilabs/kenaz/geometry"

type SpatialDebugInfo struct {
	CellSize       float32         `json:"cell_size"`
	CellCount      uint32          `json:"cell_count"`
	EntityCount    uint32          `json:"entity_count"`
	OversizedCount uint32          `json:"oversized_count"`
	MaxOccupancy   uint32          `json:"max_occupancy"`
	MaxBounds      geometry.Bounds `json:"max_bounds"`
}

// SpatialPartition indexes entity ids by their world bounds. Queries return
// loose candidates: every id whose bounds may overlap the query, callers run
// the precise test.
type SpatialPartition interface {
	// Inserts or re-inserts an id. Returns false for invalid bounds.
	Insert(id uint32, b geometry.Bounds) bool

	// Removes an id from every cell it occupies. Removing an unknown id is a
	// no-op that returns false.
	Remove(id uint32) bool

	Query(b geometry.Bounds) []uint32

	// Returns the candidates along the ray, closest cells first.
	QueryRay(r geometry.Ray) []uint32

	// Returns the union of all indexed bounds, false when empty.
	MaxBounds() (geometry.Bounds, bool)

	Bounds(id uint32) (geometry.Bounds, bool)
	Contains(id uint32) bool
	Cells(id uint32) []CellKey
	IDs() []uint32
	Len() int

	CellSize() float32

	// Drops every entry and switches to the given cell size.
	Reset(cellSize float32)

	// debug stuff:
	GetDebugInfo() SpatialDebugInfo
}
