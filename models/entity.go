package models

import (
	"sync"

	"github.com/aukilabs/kenaz/geometry"
)

// Entity is a scene object with a world space bounding box.
type Entity struct {
	ID   uint32
	Name string

	// An optional refinement of the bounds used by ray tests.
	Shape geometry.Raycaster

	mutex     sync.RWMutex
	bounds    geometry.Bounds
	changed   bool
	destroyed bool
}

func NewEntity(id uint32, name string, b geometry.Bounds) *Entity {
	return &Entity{
		ID:     id,
		Name:   name,
		bounds: b,
	}
}

// SetBounds updates the entity bounds and flags it as changed.
func (e *Entity) SetBounds(b geometry.Bounds) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.bounds = b
	e.changed = true
}

func (e *Entity) Bounds() geometry.Bounds {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return e.bounds
}

// Changed reports whether the bounds changed since the last Sync.
func (e *Entity) Changed() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return e.changed
}

// Sync returns the current bounds and clears the changed flag. The returned
// bool is false when the entity can't be indexed.
func (e *Entity) Sync() (geometry.Bounds, bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.changed = false
	return e.bounds, !e.destroyed && e.bounds.Valid()
}

func (e *Entity) Destroy() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.destroyed = true
}

func (e *Entity) Destroyed() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return e.destroyed
}

// Valid reports whether the entity is alive and has usable bounds.
func (e *Entity) Valid() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return !e.destroyed && e.bounds.Valid()
}

// IntersectRay tests the ray against the entity shape, or its bounds when
// the entity has no shape.
func (e *Entity) IntersectRay(r geometry.Ray) (bool, float32) {
	if e.Shape != nil {
		return e.Shape.IntersectRay(r)
	}
	return geometry.IntersectBounds(r, e.Bounds())
}

// EntityIDs returns the ids of the given entities.
func EntityIDs(entities []*Entity) []uint32 {
	ids := make([]uint32, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	return ids
}
