package geometry

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

func EqualWithEpsilon(a float32, b float32, epsilon float64) bool {
	return math.Abs((float64)(a-b)) <= epsilon
}

func InRangeWithEpsilon(value float32, min float32, max float32, epsilon float32) bool {
	return value+epsilon >= min && value-epsilon <= max
}

func VecEqualWithEpsilon(a mgl32.Vec3, b mgl32.Vec3, epsilon float64) bool {
	return EqualWithEpsilon(a.X(), b.X(), epsilon) &&
		EqualWithEpsilon(a.Y(), b.Y(), epsilon) &&
		EqualWithEpsilon(a.Z(), b.Z(), epsilon)
}

func isFinite(v mgl32.Vec3) bool {
	for i := 0; i < 3; i++ {
		f := (float64)(v[i])
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func minVec(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		float32(math.Min(float64(a[0]), float64(b[0]))),
		float32(math.Min(float64(a[1]), float64(b[1]))),
		float32(math.Min(float64(a[2]), float64(b[2]))),
	}
}

func maxVec(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		float32(math.Max(float64(a[0]), float64(b[0]))),
		float32(math.Max(float64(a[1]), float64(b[1]))),
		float32(math.Max(float64(a[2]), float64(b[2]))),
	}
}

// Perpendicular returns a unit vector orthogonal to v. v must not be zero.
func Perpendicular(v mgl32.Vec3) mgl32.Vec3 {
	axis := mgl32.Vec3{0, 1, 0}
	if math.Abs(float64(v.Normalize().Dot(axis))) > 0.9 {
		axis = mgl32.Vec3{1, 0, 0}
	}
	return v.Cross(axis).Normalize()
}
