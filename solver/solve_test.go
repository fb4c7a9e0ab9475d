package solver

import (
	"math"
	"testing"

	"github.com/nilusink/trackfusion/internal/geometry"
)

func aimAt(origin, target geometry.Vec3) CameraResult {
	dir := target.Sub(origin)
	return CameraResult{Origin: origin, Direction: dir}
}

func TestSolveThreeCameraTriangle(t *testing.T) {
	origin := geometry.FromCartesian(0, 0, 0)
	angles := []float64{0, 2 * math.Pi / 3, 4 * math.Pi / 3}

	rays := make([]CameraResult, 0, 3)
	for _, a := range angles {
		pos := geometry.FromPolar(a, 0, 10)
		rays = append(rays, aimAt(pos, origin))
	}

	res, err := Solve(rays...)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.Position.Length() > 5 {
		t.Fatalf("expected point near origin, got %+v", res.Position)
	}
	if res.Accuracy >= 5 {
		t.Fatalf("expected accuracy < 5, got %f", res.Accuracy)
	}
}

func TestSolveTwoParallelBores(t *testing.T) {
	// two parallel bores 1m apart: every point on the mid-line is a
	// minimizer, 0.5m from each line.
	r1 := CameraResult{Origin: geometry.FromCartesian(0, 0, 0), Direction: geometry.FromCartesian(1, 0, 0)}
	r2 := CameraResult{Origin: geometry.FromCartesian(0, 1, 0), Direction: geometry.FromCartesian(1, 0, 0)}

	res, err := Solve(r1, r2)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if math.Abs(res.Accuracy-0.5) > 1e-3 {
		t.Fatalf("expected accuracy ~0.5, got %f", res.Accuracy)
	}
}

func TestSolveSkipsZeroDirectionRays(t *testing.T) {
	good1 := aimAt(geometry.FromPolar(0, 0, 10), geometry.FromCartesian(0, 0, 0))
	good2 := aimAt(geometry.FromPolar(math.Pi/2, 0, 10), geometry.FromCartesian(0, 0, 0))
	degenerate := CameraResult{Origin: geometry.FromCartesian(5, 5, 5), Direction: geometry.FromCartesian(0, 0, 0)}

	res, err := Solve(good1, good2, degenerate)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.Position.Length() > 5 {
		t.Fatalf("expected point near origin despite degenerate ray, got %+v", res.Position)
	}
}

func TestSolveIsPermutationInvariant(t *testing.T) {
	origin := geometry.FromCartesian(0, 0, 0)
	a := aimAt(geometry.FromPolar(0, 0, 10), origin)
	b := aimAt(geometry.FromPolar(math.Pi/2, 0, 10), origin)
	c := aimAt(geometry.FromPolar(math.Pi, 0.2, 10), origin)

	r1, err := Solve(a, b, c)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	r2, err := Solve(c, a, b)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}

	x1, y1, z1 := r1.Position.XYZ()
	x2, y2, z2 := r2.Position.XYZ()
	if math.Abs(x1-x2) > 1e-3 || math.Abs(y1-y2) > 1e-3 || math.Abs(z1-z2) > 1e-3 {
		t.Fatalf("expected permutation-invariant result, got %+v vs %+v", r1.Position, r2.Position)
	}
}

func TestSolveNoUsableRaysFails(t *testing.T) {
	degenerate := CameraResult{Origin: geometry.FromCartesian(0, 0, 0), Direction: geometry.FromCartesian(0, 0, 0)}
	if _, err := Solve(degenerate); err == nil {
		t.Fatalf("expected error when no rays are usable")
	}
}
