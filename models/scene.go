package models

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Scene holds the entities and the pointer devices of an editing session.
type Scene struct {
	ID   string
	Name string

	entityIDs   SequentialIDGenerator
	entityMutex sync.RWMutex
	entities    map[uint32]*Entity

	pointerIDs   SequentialIDGenerator
	pointerMutex sync.RWMutex
	pointers     map[uint32]*Pointer
}

func NewScene(name string) *Scene {
	return &Scene{
		ID:       uuid.NewString(),
		Name:     name,
		entities: make(map[uint32]*Entity),
		pointers: make(map[uint32]*Pointer),
	}
}

// NewEntityID returns a new entity id. Entity ids are never reused since
// indexes may still reference removed entities until their next sync.
func (s *Scene) NewEntityID() uint32 {
	return s.entityIDs.New()
}

func (s *Scene) AddEntity(e *Entity) {
	s.entityMutex.Lock()
	defer s.entityMutex.Unlock()

	if _, ok := s.entities[e.ID]; !ok {
		instrumentEntityGauge(s.Name, 1)
	}
	s.entities[e.ID] = e
}

func (s *Scene) RemoveEntity(e *Entity) {
	s.entityMutex.Lock()
	defer s.entityMutex.Unlock()

	if _, ok := s.entities[e.ID]; ok {
		instrumentEntityGauge(s.Name, -1)
	}
	delete(s.entities, e.ID)
}

func (s *Scene) EntityByID(id uint32) (*Entity, bool) {
	s.entityMutex.RLock()
	defer s.entityMutex.RUnlock()

	e, ok := s.entities[id]
	return e, ok
}

// Entities returns a snapshot of the scene entities, ordered by id.
func (s *Scene) Entities() []*Entity {
	s.entityMutex.RLock()
	defer s.entityMutex.RUnlock()

	entities := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		entities = append(entities, e)
	}

	sort.Slice(entities, func(i, j int) bool {
		return entities[i].ID < entities[j].ID
	})
	return entities
}

func (s *Scene) EntityCount() int {
	s.entityMutex.RLock()
	defer s.entityMutex.RUnlock()

	return len(s.entities)
}

func (s *Scene) NewPointerID() uint32 {
	return s.pointerIDs.New()
}

func (s *Scene) AddPointer(p *Pointer) {
	s.pointerMutex.Lock()
	defer s.pointerMutex.Unlock()

	if _, ok := s.pointers[p.ID]; !ok {
		instrumentPointerGauge(s.Name, 1)
	}
	s.pointers[p.ID] = p
}

func (s *Scene) RemovePointer(p *Pointer) {
	s.pointerMutex.Lock()
	defer s.pointerMutex.Unlock()

	if _, ok := s.pointers[p.ID]; !ok {
		return
	}

	delete(s.pointers, p.ID)
	s.pointerIDs.Reuse(p.ID)
	instrumentPointerGauge(s.Name, -1)
}

func (s *Scene) PointerByID(id uint32) (*Pointer, bool) {
	s.pointerMutex.RLock()
	defer s.pointerMutex.RUnlock()

	p, ok := s.pointers[id]
	return p, ok
}

func (s *Scene) PointerCount() int {
	s.pointerMutex.RLock()
	defer s.pointerMutex.RUnlock()

	return len(s.pointers)
}
