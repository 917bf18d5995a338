package geometry

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Bounds is an axis-aligned bounding box in world space.
type Bounds struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// NewBounds returns the box spanning the two given corners, in any order.
func NewBounds(a mgl32.Vec3, b mgl32.Vec3) Bounds {
	return Bounds{
		Min: minVec(a, b),
		Max: maxVec(a, b),
	}
}

// NewBoundsFromCenter returns a box from its center and half-extents.
func NewBoundsFromCenter(center mgl32.Vec3, extents mgl32.Vec3) Bounds {
	return NewBounds(center.Sub(extents), center.Add(extents))
}

// NewBoundsFromSphere returns the box enclosing the given sphere.
func NewBoundsFromSphere(center mgl32.Vec3, radius float32) Bounds {
	r := float32(math.Abs(float64(radius)))
	return Bounds{
		Min: center.Sub(mgl32.Vec3{r, r, r}),
		Max: center.Add(mgl32.Vec3{r, r, r}),
	}
}

func (b Bounds) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Half-extents.
func (b Bounds) Extents() mgl32.Vec3 {
	return b.Max.Sub(b.Min).Mul(0.5)
}

func (b Bounds) Size() mgl32.Vec3 {
	return b.Max.Sub(b.Min)
}

func (b Bounds) LargestSide() float32 {
	s := b.Size()
	return float32(math.Max(float64(s[0]), math.Max(float64(s[1]), float64(s[2]))))
}

// Valid reports whether the box has finite corners and min <= max on every
// axis. Zero-sized boxes are valid.
func (b Bounds) Valid() bool {
	if !isFinite(b.Min) || !isFinite(b.Max) {
		return false
	}
	return b.Min[0] <= b.Max[0] && b.Min[1] <= b.Max[1] && b.Min[2] <= b.Max[2]
}

// Intersects reports whether the two boxes overlap. Touching faces count as
// an overlap.
func (b Bounds) Intersects(o Bounds) bool {
	for i := 0; i < 3; i++ {
		if b.Min[i] > o.Max[i] || b.Max[i] < o.Min[i] {
			return false
		}
	}
	return true
}

func (b Bounds) Contains(p mgl32.Vec3) bool {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] || p[i] > b.Max[i] {
			return false
		}
	}
	return true
}

// Encapsulate returns the union of both boxes.
func (b Bounds) Encapsulate(o Bounds) Bounds {
	return Bounds{
		Min: minVec(b.Min, o.Min),
		Max: maxVec(b.Max, o.Max),
	}
}

// ClosestPoint returns the point of the box closest to p. Points inside the
// box are returned unchanged.
func (b Bounds) ClosestPoint(p mgl32.Vec3) mgl32.Vec3 {
	return maxVec(b.Min, minVec(p, b.Max))
}

// SqrDistance returns the squared distance between p and the box, 0 when p is
// inside.
func (b Bounds) SqrDistance(p mgl32.Vec3) float32 {
	d := b.ClosestPoint(p).Sub(p)
	return d.Dot(d)
}

func (b Bounds) IntersectsSphere(center mgl32.Vec3, radius float32) bool {
	return b.SqrDistance(center) <= radius*radius
}
