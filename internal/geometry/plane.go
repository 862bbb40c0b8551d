package geometry

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// eigenEpsilon is the absolute floor below which the largest scatter
	// eigenvalue means every point sits on the centroid.
	eigenEpsilon = 1e-12

	// eigenRelTolerance is the relative tolerance used to decide that two
	// eigenvalues of the scatter matrix coincide.
	eigenRelTolerance = 1e-9
)

// FitPlaneNormal returns the unit normal of the least-squares plane through
// points. It builds the 3x3 scatter matrix of the centred points and takes
// the eigenvector of the smallest eigenvalue.
//
// The sign of the returned normal is whatever the eigensolver produces; use
// OrientNormal to make it follow the direction of travel.
func FitPlaneNormal(points []Point3D) (Point3D, error) {
	if len(points) < 3 {
		return Point3D{}, fmt.Errorf("%w: plane fit needs at least 3 points, got %d", ErrDegenerateInput, len(points))
	}

	c := Centroid(points)
	var sxx, sxy, sxz, syy, syz, szz float64
	for _, p := range points {
		d := r3.Sub(p, c)
		sxx += d.X * d.X
		sxy += d.X * d.Y
		sxz += d.X * d.Z
		syy += d.Y * d.Y
		syz += d.Y * d.Z
		szz += d.Z * d.Z
	}
	n := float64(len(points))
	scatter := mat.NewSymDense(3, []float64{
		sxx / n, sxy / n, sxz / n,
		sxy / n, syy / n, syz / n,
		sxz / n, syz / n, szz / n,
	})

	var eig mat.EigenSym
	if ok := eig.Factorize(scatter, true); !ok {
		return Point3D{}, fmt.Errorf("%w: scatter eigendecomposition failed", ErrDegenerateInput)
	}

	// Values are returned in ascending order.
	vals := eig.Values(nil)
	smallest, middle, largest := vals[0], vals[1], vals[2]

	switch {
	case largest <= eigenEpsilon:
		return Point3D{}, fmt.Errorf("%w: all points coincide", ErrDegenerateInput)
	case middle <= eigenRelTolerance*largest:
		return Point3D{}, fmt.Errorf("%w: points are collinear (scatter rank < 2)", ErrDegenerateInput)
	case largest-smallest <= eigenRelTolerance*largest:
		return Point3D{}, fmt.Errorf("%w: isotropic point cloud has no preferred plane", ErrDegenerateInput)
	}

	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	normal := Point3D{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}
	length := r3.Norm(normal)
	if length < eigenEpsilon {
		return Point3D{}, fmt.Errorf("%w: zero-length plane normal", ErrDegenerateInput)
	}
	return r3.Scale(1/length, normal), nil
}

// PlaneResiduals returns the signed distance of every point from the plane
// of c.
func PlaneResiduals(c Circle, points []Point3D) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = r3.Dot(r3.Sub(p, c.Center), c.Normal)
	}
	return out
}
