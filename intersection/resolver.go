package intersection

import (
	"sort"
	"time"

	"github.com/aukilabs/kenaz/geometry"
	"github.com/aukilabs/kenaz/models"
)

const DefaultRayCount = 8

// EntityIndex is the spatial index a resolver queries.
type EntityIndex interface {
	// Returns the entities whose bounds may overlap b.
	Query(b geometry.Bounds) []*models.Entity

	// Indexes the entity with its latest bounds.
	Insert(e *models.Entity) bool

	Remove(e *models.Entity) bool
	Contains(e *models.Entity) bool
}

// TestPolicy selects the precise test run against candidates.
type TestPolicy int

const (
	// Tests the probe cone against the candidate bounds.
	TestBounds TestPolicy = iota

	// Casts a fan of rays from the probe against the candidate shape.
	TestRays
)

func (p TestPolicy) String() string {
	if p == TestRays {
		return "rays"
	}
	return "bounds"
}

// Resolver finds the entity each probe points at and emits enter, stay and
// exit transitions.
type Resolver struct {
	Index    EntityIndex
	Listener Listener

	Policy TestPolicy

	// The number of rim rays used by the TestRays policy.
	RayCount int

	// Deactivates probes while they grab an entity.
	DeactivateOnGrab bool

	// Resolves probes whose transform did not change.
	ResolveStatic bool
}

func (r *Resolver) listener() Listener {
	if r.Listener == nil {
		return nopListener{}
	}
	return r.Listener
}

// Resolve updates the probe intersection for the current frame and returns
// the intersected entity.
func (r *Resolver) Resolve(p *Probe) *models.Entity {
	if !p.active || p.transformer == nil {
		r.transition(p, nil)
		return nil
	}

	m, ok := p.transformer.Transform()
	if !ok {
		r.transition(p, nil)
		return nil
	}

	if p.previous != nil && (!p.previous.Valid() || !r.Index.Contains(p.previous)) {
		r.transition(p, nil)
	}

	if !p.forceResolve && !r.ResolveStatic && !p.transformer.TransformChanged() {
		return p.previous
	}

	start := time.Now()
	cone := ConeFromTransform(m, p.Length, p.Radius)
	matched, candidates := r.match(cone)

	p.transformer.ClearTransformChanged()
	p.forceResolve = false
	r.transition(p, matched)

	instrumentResolve(r.Policy, candidates, time.Since(start))
	return matched
}

func (r *Resolver) match(cone geometry.Cone) (*models.Entity, int) {
	bounds := cone.Bounds()
	candidates := r.Index.Query(bounds)
	if len(candidates) == 0 {
		return nil, 0
	}

	distances := make(map[uint32]float32, len(candidates))
	for _, c := range candidates {
		distances[c.ID] = c.Bounds().Center().Sub(cone.Origin).LenSqr()
	}

	sort.Slice(candidates, func(i, j int) bool {
		di := distances[candidates[i].ID]
		dj := distances[candidates[j].ID]
		if di != dj {
			return di < dj
		}
		return candidates[i].ID < candidates[j].ID
	})

	var rays []geometry.Ray
	if r.Policy == TestRays {
		n := r.RayCount
		if n <= 0 {
			n = DefaultRayCount
		}
		rays = cone.Rays(n)
	}

	for _, c := range candidates {
		// Not reindexed yet.
		if c.Changed() || !c.Valid() {
			continue
		}

		b := c.Bounds()
		if !b.Intersects(bounds) {
			continue
		}

		if r.test(cone, rays, c, b) {
			return c, len(candidates)
		}
	}
	return nil, len(candidates)
}

func (r *Resolver) test(cone geometry.Cone, rays []geometry.Ray, e *models.Entity, b geometry.Bounds) bool {
	if r.Policy != TestRays {
		return cone.IntersectsBounds(b)
	}

	for _, ray := range rays {
		if hit, _ := e.IntersectRay(ray); hit {
			return true
		}
	}
	return false
}

func (r *Resolver) transition(p *Probe, matched *models.Entity) {
	previous := p.previous
	p.previous = matched

	if matched != nil && matched == previous {
		r.listener().OnStay(p, matched)
		return
	}

	if previous != nil {
		r.listener().OnExit(p, previous)
	}
	if matched != nil {
		r.listener().OnEnter(p, matched)
	}
}

// Exit clears the probe intersection, emitting an exit when the probe
// intersected an entity.
func (r *Resolver) Exit(p *Probe) {
	r.transition(p, nil)
}

// GrabAndRemove makes the probe hold its intersected entity and removes the
// entity from the index. The intersection is cleared without an exit. It
// returns nil when the probe intersects nothing or already holds an entity.
func (r *Resolver) GrabAndRemove(p *Probe) *models.Entity {
	e := p.previous
	if e == nil || p.grabbed != nil {
		return nil
	}

	r.Index.Remove(e)
	p.grabbed = e
	p.previous = nil

	if r.DeactivateOnGrab && p.active {
		p.active = false
		p.deactivatedByGrab = true
	}
	return e
}

// Release puts the entity held by the probe back in the index with its
// latest bounds. Destroyed entities are dropped.
func (r *Resolver) Release(p *Probe) *models.Entity {
	e := p.grabbed
	if e == nil {
		return nil
	}

	p.grabbed = nil
	if e.Valid() {
		r.Index.Insert(e)
	}

	if p.deactivatedByGrab {
		p.active = true
		p.deactivatedByGrab = false
	}
	p.forceResolve = true
	return e
}
