// Package solver triangulates a 3D position from a set of camera bearing
// rays, minimizing the sum of squared perpendicular distances from the
// candidate point to each ray's line. It is a direct Go rendering
// of the original's scipy.optimize.minimize(method="BFGS") call onto
// gonum.org/v1/gonum/optimize, which exposes the same quasi-Newton family.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/nilusink/trackfusion/internal/geometry"
	"github.com/nilusink/trackfusion/internal/telemetry"
)

// ErrNotConverged is returned when the optimizer fails to reach a
// stationary point, the Go analogue of the original's
// "ValueError: Optimization failed: ...".
var ErrNotConverged = errors.New("solver: optimization did not converge")

// CameraResult is a world-space ray contributed by one camera: a point of
// origin and a (not necessarily unit-length) direction.
type CameraResult struct {
	Origin    geometry.Vec3
	Direction geometry.Vec3
}

// Result is a solved 3D fix: the triangulated point and its accuracy, the
// mean perpendicular distance (in meters) from the point to the
// contributing rays.
type Result struct {
	Position geometry.Vec3
	Accuracy float64
}

// zeroDirEpsilon bounds how close to zero a direction's squared length
// must be before it is treated as degenerate and skipped, so a zero-length
// direction never turns the projection into NaN.
const zeroDirEpsilon = 1e-12

// Solve triangulates the closest point to every given ray, minimizing
// f(p) = Σ dist²(p, rays[i]) via BFGS starting from the origin. Rays with
// a near-zero direction are skipped as invalid inputs rather than
// poisoning the objective with a NaN projection.
func Solve(rays ...CameraResult) (Result, error) {
	_, span := telemetry.StartSpan(context.Background(), "solver.solve")
	defer span.End()

	usable := make([]CameraResult, 0, len(rays))
	for _, r := range rays {
		if r.Direction.LengthSquared() > zeroDirEpsilon {
			usable = append(usable, r)
		}
	}
	if len(usable) == 0 {
		return Result{}, fmt.Errorf("solver: no usable rays")
	}

	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			return objective(p, usable)
		},
		Grad: func(grad, p []float64) {
			numericalGradient(grad, p, usable)
		},
	}

	// The driver stops as soon as a location's gradient is negligible,
	// the starting point included: when the origin already minimizes f,
	// a BFGS line search from it has no descent to find and fails.
	settings := &optimize.Settings{GradientThreshold: 1e-9}
	res, err := optimize.Minimize(problem, []float64{0, 0, 0}, settings, &optimize.BFGS{})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrNotConverged, err)
	}
	if res.Status != optimize.Success && res.Status != optimize.FunctionConvergence &&
		res.Status != optimize.GradientThreshold {
		return Result{}, fmt.Errorf("%w: status %s", ErrNotConverged, res.Status)
	}

	point := geometry.FromCartesian(res.X[0], res.X[1], res.X[2])
	return Result{Position: point, Accuracy: meanDistance(point, usable)}, nil
}

// objective is Σᵢ dist²(p, rays[i]).
func objective(p []float64, rays []CameraResult) float64 {
	point := geometry.FromCartesian(p[0], p[1], p[2])
	var sum float64
	for _, r := range rays {
		sum += squaredDistance(point, r)
	}
	return sum
}

// squaredDistance computes the squared perpendicular distance from point
// to the line (origin, direction):
//
//	v    = point - origin
//	proj = ((v·d) / (d·d)) * d
//	dist² = (v - proj)·(v - proj)
func squaredDistance(point geometry.Vec3, r CameraResult) float64 {
	v := point.Sub(r.Origin)
	dd := r.Direction.Dot(r.Direction)
	projLen := v.Dot(r.Direction) / dd
	proj := r.Direction.Scale(projLen)
	diff := v.Sub(proj)
	return diff.LengthSquared()
}

// numericalGradient central-differences the objective; gonum's BFGS
// accepts an analytic-free Grad just as readily as a closed form, and a
// central difference avoids hand-deriving the projection's Jacobian. Its
// rounding noise stays far below the gradient threshold Solve stops at.
func numericalGradient(grad, p []float64, rays []CameraResult) {
	const h = 1e-6
	base := make([]float64, len(p))
	copy(base, p)
	for i := range p {
		base[i] = p[i] + h
		fPlus := objective(base, rays)
		base[i] = p[i] - h
		fMinus := objective(base, rays)
		base[i] = p[i]
		grad[i] = (fPlus - fMinus) / (2 * h)
	}
}

// meanDistance returns accuracy = mean over rays of sqrt(dist²).
func meanDistance(point geometry.Vec3, rays []CameraResult) float64 {
	var sum float64
	for _, r := range rays {
		sum += math.Sqrt(squaredDistance(point, r))
	}
	return sum / float64(len(rays))
}
