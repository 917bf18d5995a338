package models

import "sync"

// A sequential id generator.
type SequentialIDGenerator struct {
	mutex       sync.Mutex
	currentID   uint32
	reusableIDs map[uint32]struct{}
}

// New returns a sequential id. Reusable ids are handed out first, smallest
// first.
func (g *SequentialIDGenerator) New() uint32 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if len(g.reusableIDs) != 0 {
		var smallest uint32
		first := true
		for id := range g.reusableIDs {
			if first || id < smallest {
				smallest = id
				first = false
			}
		}

		delete(g.reusableIDs, smallest)
		return smallest
	}

	g.currentID++
	return g.currentID
}

// Reuse marks the given id as reusable. Ids that were never generated are
// ignored.
func (g *SequentialIDGenerator) Reuse(id uint32) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if id == 0 || id > g.currentID {
		return
	}

	if g.reusableIDs == nil {
		g.reusableIDs = make(map[uint32]struct{})
	}

	g.reusableIDs[id] = struct{}{}
}
