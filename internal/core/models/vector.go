package models

import "math"

// Vector is a world-space position or direction. The replication grid works on
// the X/Y ground plane; Z only matters for distance checks.
type Vector struct {
	X, Y, Z float64
}

func (v Vector) Add(o Vector) Vector {
	return Vector{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vector) Sub(o Vector) Vector {
	return Vector{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v Vector) Scale(s float64) Vector {
	return Vector{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

func (v Vector) Dot(o Vector) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vector) SizeSquared() float64 {
	return v.Dot(v)
}

func (v Vector) Size() float64 {
	return math.Sqrt(v.SizeSquared())
}

// DistSquared is the squared distance between two points.
func (v Vector) DistSquared(o Vector) float64 {
	return v.Sub(o).SizeSquared()
}

// Normal returns the unit vector in the direction of v, or the zero vector
// when v is (nearly) zero.
func (v Vector) Normal() Vector {
	size := v.Size()
	if size < 1e-8 {
		return Vector{}
	}
	return v.Scale(1 / size)
}

func (v Vector) IsZero() bool {
	return v.X == 0 && v.Y == 0 && v.Z == 0
}
