package intersection

import (
	"github.com/aukilabs/kenaz/geometry"
	"github.com/aukilabs/kenaz/models"
	"github.com/go-gl/mathgl/mgl32"
)

// Transformer is the source of a probe pose. models.Pointer implements it.
type Transformer interface {
	Transform() (mgl32.Mat4, bool)
	TransformChanged() bool
	ClearTransformChanged()
}

// Probe is a cone attached to a transform, testing which entity it points at.
// A probe is owned by the goroutine running the resolver.
type Probe struct {
	ID     uint32
	Length float32
	Radius float32

	transformer       Transformer
	active            bool
	deactivatedByGrab bool
	forceResolve      bool

	previous *models.Entity
	grabbed  *models.Entity
}

func NewProbe(id uint32, t Transformer, length, radius float32) *Probe {
	return &Probe{
		ID:           id,
		Length:       length,
		Radius:       radius,
		transformer:  t,
		active:       true,
		forceResolve: true,
	}
}

func (p *Probe) Transformer() Transformer {
	return p.transformer
}

func (p *Probe) Active() bool {
	return p.active
}

// SetActive activates or deactivates the probe. A deactivated probe exits
// its current entity on the next resolve.
func (p *Probe) SetActive(v bool) {
	if v && !p.active {
		p.forceResolve = true
	}
	p.active = v
	p.deactivatedByGrab = false
}

// Intersected returns the entity the probe intersected on the last resolve.
func (p *Probe) Intersected() *models.Entity {
	return p.previous
}

// Grabbed returns the entity held by the probe.
func (p *Probe) Grabbed() *models.Entity {
	return p.grabbed
}

// Cone returns the probe cone in world space. It returns false when the
// probe has no transform.
func (p *Probe) Cone() (geometry.Cone, bool) {
	if p.transformer == nil {
		return geometry.Cone{}, false
	}

	m, ok := p.transformer.Transform()
	if !ok {
		return geometry.Cone{}, false
	}
	return ConeFromTransform(m, p.Length, p.Radius), true
}

// ConeFromTransform builds a cone at the transform translation, pointing
// along the transform forward (+Z) axis.
func ConeFromTransform(m mgl32.Mat4, length, radius float32) geometry.Cone {
	origin := m.Col(3).Vec3()
	dir := m.Mul4x1(mgl32.Vec4{0, 0, 1, 0}).Vec3()
	return geometry.NewCone(origin, dir, length, radius)
}
