package geometry

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Ray is a segment from From to To. Hit distances are expressed as t in
// [0, 1] along the segment.
type Ray struct {
	From mgl32.Vec3
	To   mgl32.Vec3
}

// NewRay returns a ray starting at origin, going length units along dir.
func NewRay(origin mgl32.Vec3, dir mgl32.Vec3, length float32) Ray {
	return Ray{
		From: origin,
		To:   origin.Add(dir.Normalize().Mul(length)),
	}
}

func (r Ray) Direction() mgl32.Vec3 {
	return r.To.Sub(r.From)
}

func (r Ray) Length() float32 {
	return r.Direction().Len()
}

func (r Ray) At(t float32) mgl32.Vec3 {
	return r.From.Add(r.Direction().Mul(t))
}

// Raycaster is implemented by shapes that can refine a ray test past their
// bounding box.
type Raycaster interface {
	IntersectRay(r Ray) (bool, float32)
}

// IntersectBounds runs a slab test of the ray against the box. It returns the
// entry t, 0 when the ray starts inside the box, or -1 on a miss.
func IntersectBounds(r Ray, b Bounds) (bool, float32) {
	dir := r.Direction()

	tMin := float32(0)
	tMax := float32(1)

	for i := 0; i < 3; i++ {
		if math.Abs(float64(dir[i])) < 1e-12 {
			if r.From[i] < b.Min[i] || r.From[i] > b.Max[i] {
				return false, -1
			}
			continue
		}

		inv := 1 / dir[i]
		t0 := (b.Min[i] - r.From[i]) * inv
		t1 := (b.Max[i] - r.From[i]) * inv
		if t0 > t1 {
			Swap(&t0, &t1)
		}

		if t0 > tMin {
			tMin = t0
		}
		if t1 < tMax {
			tMax = t1
		}
		if tMin > tMax {
			return false, -1
		}
	}

	return true, tMin
}

func Swap(a *float32, b *float32) {
	*a, *b = *b, *a
}
