// Package geometry holds the pure math used to calibrate and track the rig:
// plane and circle fitting over scattered 3D tracker positions and rotation
// matrix conversions for tracker poses.
package geometry

import (
	"errors"

	"gonum.org/v1/gonum/spatial/r3"
)

// Point3D is a position in tracking space (metres for SteamVR, arbitrary
// units for simulated and encoder sources).
type Point3D = r3.Vec

var (
	// ErrDegenerateInput is returned when a point set cannot define a plane
	// or circle: too few points, coincident points, collinear points or an
	// isotropic cloud with no preferred plane.
	ErrDegenerateInput = errors.New("degenerate input")

	// ErrCollinearPoints is returned by ThreePointCircle when the three
	// points lie on a line.
	ErrCollinearPoints = errors.New("collinear points")
)

// NewPoint builds a Point3D from its coordinates.
func NewPoint(x, y, z float64) Point3D {
	return Point3D{X: x, Y: y, Z: z}
}

// PointFromSlice converts a [x, y, z] slice. It returns false when the slice
// has fewer than three elements.
func PointFromSlice(v []float64) (Point3D, bool) {
	if len(v) < 3 {
		return Point3D{}, false
	}
	return Point3D{X: v[0], Y: v[1], Z: v[2]}, true
}

// Array returns the point as a [x, y, z] array, the wire representation.
func Array(p Point3D) [3]float64 {
	return [3]float64{p.X, p.Y, p.Z}
}

// Centroid returns the arithmetic mean of points. It returns the zero point
// for an empty slice.
func Centroid(points []Point3D) Point3D {
	if len(points) == 0 {
		return Point3D{}
	}
	var sum Point3D
	for _, p := range points {
		sum = r3.Add(sum, p)
	}
	return r3.Scale(1/float64(len(points)), sum)
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Point3D) float64 {
	return r3.Norm(r3.Sub(a, b))
}

// ProjectOntoPlane removes the component of v along the unit normal n.
func ProjectOntoPlane(v, n Point3D) Point3D {
	return r3.Sub(v, r3.Scale(r3.Dot(v, n), n))
}
