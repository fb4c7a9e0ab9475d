// Package geometry provides the 3D vector primitives the solver and
// tracking layers build on. It is the Go stand-in for the external
// vector-math collaborator the design calls out: a right-handed,
// z-up Cartesian/polar convention, used consistently by the station
// poses and the triangulation rays derived from them.
package geometry

import "math"

// Vec3 is an immutable Cartesian 3-vector.
type Vec3 struct {
	x, y, z float64
}

// FromCartesian builds a vector directly from its components.
func FromCartesian(x, y, z float64) Vec3 {
	return Vec3{x: x, y: y, z: z}
}

// FromPolar builds a vector of the given radius from an azimuth (angle in
// the xy-plane, measured from the x-axis) and an elevation (angle tilting
// out of the xy-plane toward +z). This is the inverse of AngleXY/AngleXZ.
func FromPolar(azimuth, elevation, radius float64) Vec3 {
	ce := math.Cos(elevation)
	return Vec3{
		x: radius * ce * math.Cos(azimuth),
		y: radius * ce * math.Sin(azimuth),
		z: radius * math.Sin(elevation),
	}
}

// XYZ returns the read-only Cartesian components.
func (v Vec3) XYZ() (x, y, z float64) { return v.x, v.y, v.z }

func (v Vec3) Add(o Vec3) Vec3      { return Vec3{v.x + o.x, v.y + o.y, v.z + o.z} }
func (v Vec3) Sub(o Vec3) Vec3      { return Vec3{v.x - o.x, v.y - o.y, v.z - o.z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.x * s, v.y * s, v.z * s} }
func (v Vec3) Negate() Vec3         { return Vec3{-v.x, -v.y, -v.z} }

func (v Vec3) Dot(o Vec3) float64 { return v.x*o.x + v.y*o.y + v.z*o.z }

func (v Vec3) LengthSquared() float64 { return v.Dot(v) }

func (v Vec3) Length() float64 { return math.Sqrt(v.LengthSquared()) }

// Normalize returns a unit vector in the same direction. The zero vector
// normalizes to itself rather than producing NaN.
func (v Vec3) Normalize() Vec3 {
	l := v.Length()
	if l == 0 {
		return v
	}
	return v.Scale(1 / l)
}

// AngleXY is the azimuth: the angle of the xy-projection from the x-axis.
func (v Vec3) AngleXY() float64 { return math.Atan2(v.y, v.x) }

// AngleXZ is the elevation: the angle the vector makes above the xy-plane.
func (v Vec3) AngleXZ() float64 { return math.Atan2(v.z, math.Hypot(v.x, v.y)) }
