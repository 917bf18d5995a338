package engine

import (
	"sort"

	"github.com/aukilabs/kenaz/geometry"
	"github.com/aukilabs/kenaz/models"
	"github.com/aukilabs/kenaz/spatial"
)

// Index maps a spatial partition of entity ids back to entities. Destroyed
// entities met by a query are dropped on the spot.
//
// Tracked entities whose bounds can't be indexed anymore are parked: they
// are out of the partition but are inserted again once their bounds change.
type Index struct {
	partition spatial.SpatialPartition
	entities  map[uint32]*models.Entity
	parked    map[uint32]*models.Entity
}

func NewIndex(partition spatial.SpatialPartition) *Index {
	return &Index{
		partition: partition,
		entities:  make(map[uint32]*models.Entity),
		parked:    make(map[uint32]*models.Entity),
	}
}

// Insert indexes the entity with its latest bounds and clears its changed
// flag. An indexed or parked entity that can't be indexed is parked unless
// it is destroyed. Other entities that can't be indexed are ignored.
func (idx *Index) Insert(e *models.Entity) bool {
	tracked := idx.Contains(e) || idx.Parked(e)

	b, ok := e.Sync()
	if !ok || !idx.partition.Insert(e.ID, b) {
		idx.Remove(e)
		if tracked && !e.Destroyed() {
			idx.parked[e.ID] = e
		}
		return false
	}

	delete(idx.parked, e.ID)
	idx.entities[e.ID] = e
	return true
}

// Remove takes the entity out of the index, parked or not.
func (idx *Index) Remove(e *models.Entity) bool {
	if idx.Parked(e) {
		delete(idx.parked, e.ID)
		return true
	}

	if idx.entities[e.ID] != e {
		return false
	}

	idx.partition.Remove(e.ID)
	delete(idx.entities, e.ID)
	return true
}

// Parked reports whether the entity waits for valid bounds to be indexed
// again.
func (idx *Index) Parked(e *models.Entity) bool {
	return e != nil && idx.parked[e.ID] == e
}

func (idx *Index) park(e *models.Entity) {
	idx.parked[e.ID] = e
}

// ParkedEntities returns a snapshot of the parked entities, ordered by id.
func (idx *Index) ParkedEntities() []*models.Entity {
	return sortedEntities(idx.parked)
}

func (idx *Index) ParkedLen() int {
	return len(idx.parked)
}

func (idx *Index) Contains(e *models.Entity) bool {
	return e != nil && idx.entities[e.ID] == e
}

// Query returns the indexed entities whose cells overlap b.
func (idx *Index) Query(b geometry.Bounds) []*models.Entity {
	return idx.resolve(idx.partition.Query(b))
}

// QueryRay returns the indexed entities along the ray, closest cells first.
func (idx *Index) QueryRay(r geometry.Ray) []*models.Entity {
	return idx.resolve(idx.partition.QueryRay(r))
}

func (idx *Index) resolve(ids []uint32) []*models.Entity {
	if len(ids) == 0 {
		return nil
	}

	entities := make([]*models.Entity, 0, len(ids))
	for _, id := range ids {
		e, ok := idx.entities[id]
		if !ok {
			continue
		}

		if e.Destroyed() {
			idx.Remove(e)
			continue
		}
		entities = append(entities, e)
	}
	return entities
}

// Entities returns a snapshot of the indexed entities, ordered by id.
func (idx *Index) Entities() []*models.Entity {
	return sortedEntities(idx.entities)
}

func sortedEntities(m map[uint32]*models.Entity) []*models.Entity {
	entities := make([]*models.Entity, 0, len(m))
	for _, e := range m {
		entities = append(entities, e)
	}

	sort.Slice(entities, func(i, j int) bool {
		return entities[i].ID < entities[j].ID
	})
	return entities
}

func (idx *Index) Len() int {
	return len(idx.entities)
}

func (idx *Index) MaxBounds() (geometry.Bounds, bool) {
	return idx.partition.MaxBounds()
}

func (idx *Index) CellSize() float32 {
	return idx.partition.CellSize()
}

func (idx *Index) DebugInfo() spatial.SpatialDebugInfo {
	return idx.partition.GetDebugInfo()
}

// Rebuild switches the partition to a new cell size and indexes every
// previously indexed entity again. It returns the number of entities
// indexed.
func (idx *Index) Rebuild(cellSize float32) int {
	entities := idx.Entities()

	idx.partition.Reset(cellSize)
	idx.entities = make(map[uint32]*models.Entity, len(entities))

	for _, e := range entities {
		idx.park(e)
		idx.Insert(e)
	}
	return len(idx.entities)
}
