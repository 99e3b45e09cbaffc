package crowd

import "math"

// Vec3 is a world position in meters. Y is up; ground movement happens in the
// XZ plane.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

func (v Vec3) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

func (v Vec3) DistanceTo(o Vec3) float64 {
	return o.Sub(v).Length()
}

// Yaw returns the facing angle in radians for a direction vector, measured in
// the XZ plane. A zero-length direction yields 0.
func (v Vec3) Yaw() float64 {
	if v.X == 0 && v.Z == 0 {
		return 0
	}
	return math.Atan2(v.X, v.Z)
}
