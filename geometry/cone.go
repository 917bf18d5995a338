package geometry

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const coneSearchIterations = 32

// Cone is a directional test volume. Its tip sits at Origin and it widens
// along Direction up to Radius at Length.
type Cone struct {
	Origin    mgl32.Vec3
	Direction mgl32.Vec3 // Unit length.
	Length    float32
	Radius    float32
}

func NewCone(origin mgl32.Vec3, direction mgl32.Vec3, length float32, radius float32) Cone {
	dir := direction
	if dir.Len() == 0 {
		dir = mgl32.Vec3{0, 0, 1}
	}
	return Cone{
		Origin:    origin,
		Direction: dir.Normalize(),
		Length:    float32(math.Abs(float64(length))),
		Radius:    float32(math.Abs(float64(radius))),
	}
}

// End returns the center of the cone's base.
func (c Cone) End() mgl32.Vec3 {
	return c.Origin.Add(c.Direction.Mul(c.Length))
}

// Bounds returns the tight box around the tip and the base disc.
func (c Cone) Bounds() Bounds {
	end := c.End()

	var extents mgl32.Vec3
	for i := 0; i < 3; i++ {
		d := float64(c.Direction[i])
		extents[i] = c.Radius * float32(math.Sqrt(math.Max(0, 1-d*d)))
	}

	tip := Bounds{Min: c.Origin, Max: c.Origin}
	return tip.Encapsulate(NewBoundsFromCenter(end, extents))
}

func (c Cone) ContainsPoint(p mgl32.Vec3) bool {
	v := p.Sub(c.Origin)
	h := v.Dot(c.Direction)
	if h < 0 || h > c.Length {
		return false
	}
	if c.Length == 0 {
		return v.Len() == 0
	}

	radial := v.Sub(c.Direction.Mul(h)).Len()
	return radial <= c.Radius*h/c.Length
}

// IntersectsBounds tests the cone against a box. The cone is approximated by
// the spheres swept along its axis, each with the cone's radius at that
// depth, clipped to the cone's own bounds. The distance from the box to the
// swept sphere surface is convex in the axis parameter, so a ternary search
// finds its minimum.
func (c Cone) IntersectsBounds(b Bounds) bool {
	if !c.Bounds().Intersects(b) {
		return false
	}

	gap := func(t float32) float64 {
		p := c.Origin.Add(c.Direction.Mul(c.Length * t))
		return math.Sqrt(float64(b.SqrDistance(p))) - float64(c.Radius*t)
	}

	if gap(0) <= 0 || gap(1) <= 0 {
		return true
	}

	lo, hi := float32(0), float32(1)
	for i := 0; i < coneSearchIterations; i++ {
		m1 := lo + (hi-lo)/3
		m2 := hi - (hi-lo)/3
		if gap(m1) < gap(m2) {
			hi = m2
		} else {
			lo = m1
		}
	}

	return gap((lo+hi)/2) <= 1e-6
}

// Rays returns the axis ray followed by n rays from the tip to evenly spaced
// points of the base rim.
func (c Cone) Rays(n int) []Ray {
	end := c.End()
	rays := make([]Ray, 0, n+1)
	rays = append(rays, Ray{From: c.Origin, To: end})

	if n <= 0 || c.Radius == 0 {
		return rays
	}

	u := Perpendicular(c.Direction)
	w := c.Direction.Cross(u).Normalize()
	for i := 0; i < n; i++ {
		angle := 2 * math.Pi * float64(i) / float64(n)
		offset := u.Mul(float32(math.Cos(angle))).Add(w.Mul(float32(math.Sin(angle))))
		rays = append(rays, Ray{From: c.Origin, To: end.Add(offset.Mul(c.Radius))})
	}
	return rays
}
