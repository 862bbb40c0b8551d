package geometry

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// collinearTolerance is the smallest |ab x ac| accepted by ThreePointCircle.
const collinearTolerance = 1e-10

// Circle is a fitted circle in 3D space. Normal has unit length and Radius
// is never negative.
type Circle struct {
	Center Point3D
	Normal Point3D
	Radius float64
}

// FitCircle fits a circle to points: the centroid is taken as the center,
// the normal comes from FitPlaneNormal and the radius is the mean distance
// from the center to every point.
//
// The result depends only on the input points, so repeated fits of the same
// batch return identical circles.
func FitCircle(points []Point3D) (Circle, error) {
	normal, err := FitPlaneNormal(points)
	if err != nil {
		return Circle{}, err
	}
	center := Centroid(points)

	var sum float64
	for _, p := range points {
		sum += Distance(center, p)
	}
	return Circle{
		Center: center,
		Normal: normal,
		Radius: sum / float64(len(points)),
	}, nil
}

// ThreePointCircle returns the unique circle through a, b and c, solved in
// closed form from the perpendicular bisectors in the plane of the three
// points.
func ThreePointCircle(a, b, c Point3D) (Circle, error) {
	ab := r3.Sub(b, a)
	ac := r3.Sub(c, a)
	n := r3.Cross(ab, ac)
	n2 := r3.Dot(n, n)
	if r3.Norm(n) < collinearTolerance {
		return Circle{}, fmt.Errorf("%w: |ab x ac| below %g", ErrCollinearPoints, collinearTolerance)
	}

	// c = a + (|ac|^2 (n x ab) + |ab|^2 (ac x n)) / (2|n|^2)
	t1 := r3.Scale(r3.Dot(ac, ac), r3.Cross(n, ab))
	t2 := r3.Scale(r3.Dot(ab, ab), r3.Cross(ac, n))
	center := r3.Add(a, r3.Scale(1/(2*n2), r3.Add(t1, t2)))

	return Circle{
		Center: center,
		Normal: r3.Unit(n),
		Radius: Distance(center, a),
	}, nil
}

// RadialResiduals returns, for every point, the distance of its in-plane
// projection from the circle center minus the circle radius.
func RadialResiduals(c Circle, points []Point3D) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		inPlane := ProjectOntoPlane(r3.Sub(p, c.Center), c.Normal)
		out[i] = r3.Norm(inPlane) - c.Radius
	}
	return out
}

// OrientNormal flips the normal of c, if needed, so that the ordered points
// travel counter-clockwise about it. Positive angles then follow the
// direction the points moved in. A batch with no net rotation leaves c as
// it is.
func OrientNormal(c Circle, points []Point3D) Circle {
	var winding float64
	for i := 1; i < len(points); i++ {
		prev := r3.Sub(points[i-1], c.Center)
		cur := r3.Sub(points[i], c.Center)
		winding += r3.Dot(r3.Cross(prev, cur), c.Normal)
	}
	if winding < 0 {
		c.Normal = r3.Scale(-1, c.Normal)
	}
	return c
}
