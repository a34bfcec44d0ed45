package transform

import (
	"errors"
	"math"
	"testing"

	"ffdreg/internal/models"
)

const eps = 1e-9

func closePoint(a, b Point, tol float64) bool {
	for ia := 0; ia < 3; ia++ {
		if math.Abs(a[ia]-b[ia]) > tol {
			return false
		}
	}
	return true
}

func newTestGrid(mode Mode) *Grid {
	g := NewGrid("test")
	g.InitializeGrid([3]int{6, 5, 4}, [3]float64{4, 5, 6}, [3]float64{-2, -1, -3}, mode)
	return g
}

// TestGridMinimumDims verifies that every axis gets at least four control points
func TestGridMinimumDims(t *testing.T) {
	g := NewGrid("small")
	g.InitializeGrid([3]int{1, 2, 7}, [3]float64{1, 1, 1}, [3]float64{}, BSpline)
	if g.Dims() != [3]int{4, 4, 7} {
		t.Errorf("Expected dims (4,4,7), got %v", g.Dims())
	}
	if g.NumDOF() != 3*4*4*7 {
		t.Errorf("Expected %d dof, got %d", 3*4*4*7, g.NumDOF())
	}
	for _, v := range g.ParameterVector() {
		if v != 0 {
			t.Fatal("Expected zero displacements after initialization")
		}
	}
}

// TestGridUniformDisplacement verifies that a uniformly displaced lattice is a translation
// everywhere, including outside the lattice
func TestGridUniformDisplacement(t *testing.T) {
	for _, mode := range []Mode{BSpline, Linear} {
		g := newTestGrid(mode)
		d := Point{1, -2, 0.5}
		for cp := 0; cp < g.NumControlPoints(); cp++ {
			g.SetControlPointDisplacement(cp, d)
		}
		for _, p := range []Point{{0, 0, 0}, {7.3, 2.1, 9.9}, {-10, 40, 3}, {19.9, 19.9, 14.9}} {
			got := g.Displacement(p)
			if !closePoint(got, d, eps) {
				t.Errorf("mode %d: expected displacement %v at %v, got %v", mode, d, p, got)
			}
			moved := g.TransformPoint(p)
			if !closePoint(moved, Point{p[0] + d[0], p[1] + d[1], p[2] + d[2]}, eps) {
				t.Errorf("mode %d: TransformPoint(%v) = %v", mode, p, moved)
			}
		}
	}
}

// TestGridParameterVector verifies parameter round-trips and size checks
func TestGridParameterVector(t *testing.T) {
	g := newTestGrid(BSpline)
	v := make([]float64, g.NumDOF())
	for i := range v {
		v[i] = float64(i) * 0.01
	}
	if err := g.SetParameterVector(v); err != nil {
		t.Fatalf("SetParameterVector failed: %v", err)
	}
	out := make([]float64, g.NumDOF())
	if err := g.GetParameterVector(out); err != nil {
		t.Fatalf("GetParameterVector failed: %v", err)
	}
	for i := range v {
		if out[i] != v[i] {
			t.Fatalf("Parameter %d: expected %f, got %f", i, v[i], out[i])
		}
	}

	cp := g.ControlPointIndex(2, 3, 1)
	if g.ControlPointCoordinates(cp) != [3]int{2, 3, 1} {
		t.Errorf("ControlPointCoordinates did not invert ControlPointIndex")
	}
	if got := g.ControlPointDisplacement(cp); got != (Point{v[3*cp], v[3*cp+1], v[3*cp+2]}) {
		t.Errorf("Unexpected control point displacement %v", got)
	}

	err := g.SetParameterVector(make([]float64, 5))
	if !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("Expected ErrSizeMismatch, got %v", err)
	}
	if !errors.Is(g.GetParameterVector(nil), ErrSizeMismatch) {
		t.Error("Expected ErrSizeMismatch for a nil vector")
	}
}

// TestBendingEnergy verifies that translations cost nothing and local changes are measured locally
func TestBendingEnergy(t *testing.T) {
	g := newTestGrid(BSpline)
	for cp := 0; cp < g.NumControlPoints(); cp++ {
		g.SetControlPointDisplacement(cp, Point{3, 3, 3})
	}
	if e := g.GetTotalBendingEnergy(); math.Abs(e) > eps {
		t.Errorf("Expected zero bending for a translation, got %g", e)
	}

	cp := g.ControlPointIndex(2, 2, 1)
	totalBefore := g.GetTotalBendingEnergy()
	localBefore := g.GetBendingEnergyAtControlPoint(cp)

	g.SetControlPointDisplacement(cp, Point{5, 2, 3.5})
	totalAfter := g.GetTotalBendingEnergy()
	localAfter := g.GetBendingEnergyAtControlPoint(cp)

	if totalAfter <= 0 {
		t.Fatalf("Expected positive bending after a local change, got %g", totalAfter)
	}
	if math.Abs((totalAfter-totalBefore)-(localAfter-localBefore)) > 1e-9*math.Max(1, totalAfter) {
		t.Errorf("Local bending change %g differs from total change %g",
			localAfter-localBefore, totalAfter-totalBefore)
	}
}

// quadraticEvaluator is sum((p - target)^2) over every parameter, ignoring bounds
type quadraticEvaluator struct {
	target []float64
	calls  int
}

func (q *quadraticEvaluator) ComputeValueFunctionPiece(g *Grid, bounds models.Bounds, cp int) float64 {
	q.calls++
	sum := 0.0
	for i, v := range g.params {
		d := v - q.target[i]
		sum += d * d
	}
	return sum
}

// TestComputeGradientForOptimization verifies central differences on a quadratic
func TestComputeGradientForOptimization(t *testing.T) {
	g := newTestGrid(BSpline)
	n := g.NumDOF()
	eval := &quadraticEvaluator{target: make([]float64, n)}
	params := make([]float64, n)
	for i := range params {
		params[i] = float64(i%7) - 3
		eval.target[i] = float64(i%3) * 0.5
	}

	grad := make([]float64, n)
	norm, err := g.ComputeGradientForOptimization(params, grad, 0.1,
		[3]int{10, 10, 10}, [3]float64{2, 2, 2}, 1.0, eval)
	if err != nil {
		t.Fatalf("ComputeGradientForOptimization failed: %v", err)
	}

	sq := 0.0
	for i := range grad {
		want := 2 * (params[i] - eval.target[i])
		if math.Abs(grad[i]-want) > 1e-6 {
			t.Fatalf("Gradient %d: expected %f, got %f", i, want, grad[i])
		}
		sq += want * want
	}
	if math.Abs(norm-math.Sqrt(sq)) > 1e-6 {
		t.Errorf("Expected norm %f, got %f", math.Sqrt(sq), norm)
	}
	if eval.calls != 2*n {
		t.Errorf("Expected %d piece evaluations, got %d", 2*n, eval.calls)
	}
	// the grid is left at params
	for i, v := range g.ParameterVector() {
		if v != params[i] {
			t.Fatalf("Parameter %d not restored: %f vs %f", i, v, params[i])
		}
	}

	if _, err := g.ComputeGradientForOptimization(params, grad[:3], 0.1,
		[3]int{10, 10, 10}, [3]float64{2, 2, 2}, 1.0, eval); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("Expected ErrSizeMismatch for a short gradient, got %v", err)
	}
}

// TestGridSupportBounds verifies the voxel region influenced by a control point
func TestGridSupportBounds(t *testing.T) {
	g := NewGrid("support")
	g.InitializeGrid([3]int{5, 5, 5}, [3]float64{10, 10, 10}, [3]float64{0, 0, 0}, BSpline)

	dims := [3]int{41, 41, 41}
	spacing := [3]float64{1, 1, 1}

	b := g.SupportBounds(g.ControlPointIndex(2, 2, 2), dims, spacing, 1.0)
	if b != (models.Bounds{0, 40, 0, 40, 0, 40}) {
		t.Errorf("Expected support covering [0,40], got %v", b)
	}

	b = g.SupportBounds(g.ControlPointIndex(0, 1, 4), dims, spacing, 1.0)
	if b != (models.Bounds{0, 20, 0, 30, 20, 40}) {
		t.Errorf("Unexpected corner support %v", b)
	}

	// any voxel outside the support is unaffected by moving the control point
	cp := g.ControlPointIndex(0, 0, 0)
	b = g.SupportBounds(cp, dims, spacing, 1.0)
	outside := VoxelPoint(b[1]+1, 0, 0, spacing)
	before := g.Displacement(outside)
	g.SetControlPointDisplacement(cp, Point{5, 5, 5})
	if g.Displacement(outside) != before {
		t.Error("Control point moved a voxel outside its support")
	}
}

// TestMatrix verifies affine construction and composition order
func TestMatrix(t *testing.T) {
	rot := NewAffine([3]float64{}, [3]float64{0, 0, 90}, [3]float64{1, 1, 1})
	got := rot.TransformPoint(Point{1, 0, 0})
	if !closePoint(got, Point{0, 1, 0}, eps) {
		t.Errorf("Expected 90 degree rotation to map x onto y, got %v", got)
	}

	tr := NewTranslation(1, 2, 3)
	sc := NewAffine([3]float64{}, [3]float64{}, [3]float64{2, 2, 2})
	// Multiply applies its argument first
	got = tr.Multiply(sc).TransformPoint(Point{1, 1, 1})
	if !closePoint(got, Point{3, 4, 5}, eps) {
		t.Errorf("Expected (3,4,5), got %v", got)
	}

	if !IdentityMatrix().IsIdentity() || tr.IsIdentity() {
		t.Error("IsIdentity gave the wrong answer")
	}
	if MatrixFromDense(tr.Dense()) != tr {
		t.Error("Dense round-trip changed the matrix")
	}
}

// TestComboOrder verifies that the matrix is applied before the grid stages
func TestComboOrder(t *testing.T) {
	g := newTestGrid(BSpline)
	for cp := 0; cp < g.NumControlPoints(); cp++ {
		p := g.ControlPointPosition(cp)
		g.SetControlPointDisplacement(cp, Point{0.1 * p[0], -0.05 * p[1], 0.02 * p[2]})
	}
	m := NewTranslation(3, -1, 2)

	c := NewCombo("combo")
	c.SetInitialTransformation(m)

	p := Point{4, 5, 6}
	if c.TransformPoint(p) != m.TransformPoint(p) {
		t.Error("A combo without stages should equal its matrix")
	}
	if c.Classify() != KindLinear {
		t.Errorf("Expected linear kind, got %v", c.Classify())
	}

	idx := c.AddTransformation(g)
	if idx != 0 || c.NumStages() != 1 || c.Stage(0) != g {
		t.Fatalf("Unexpected stage bookkeeping: index %d, stages %d", idx, c.NumStages())
	}
	want := g.TransformPoint(m.TransformPoint(p))
	if !closePoint(c.TransformPoint(p), want, eps) {
		t.Errorf("Expected %v, got %v", want, c.TransformPoint(p))
	}
	if c.Prefix(0).TransformPoint(p) != m.TransformPoint(p) {
		t.Error("Prefix(0) should be the matrix alone")
	}

	field := c.ComputeDisplacementField([3]int{3, 3, 3}, [3]float64{2, 2, 2})
	x := VoxelPoint(1, 2, 0, field.Spacing)
	if !closePoint(field.Position(1, 2, 0), c.TransformPoint(x), eps) {
		t.Error("Displacement field disagrees with the combo")
	}

	c.Identity()
	if c.NumStages() != 0 || !c.GetInitialTransformation().IsIdentity() {
		t.Error("Identity did not reset the combo")
	}
}

// TestClassify verifies the reduction of initial transformations
func TestClassify(t *testing.T) {
	m := NewTranslation(1, 0, 0)
	if init, ok := Classify(m).(LinearInitial); !ok || init.Matrix != m {
		t.Error("A matrix should classify as linear")
	}
	if _, ok := Classify(&m).(LinearInitial); !ok {
		t.Error("A matrix pointer should classify as linear")
	}

	c := NewCombo("c")
	c.SetInitialTransformation(m)
	if init, ok := Classify(c).(LinearInitial); !ok || init.Matrix != m {
		t.Error("A combo without stages should classify as linear")
	}

	c.AddTransformation(newTestGrid(BSpline))
	init, ok := Classify(c).(CompositeInitial)
	if !ok || init.Combo != c || init.Matrix != m {
		t.Error("A combo with stages should classify as composite")
	}

	if Classify(nil).Kind() != KindOther {
		t.Error("nil should classify as other")
	}
	if Classify(newTestGrid(BSpline)).Kind() != KindOther {
		t.Error("A bare grid should classify as other")
	}
}

// TestDisplacementField verifies sampling and subsampling of dense fields
func TestDisplacementField(t *testing.T) {
	field := ComputeDisplacementField(NewTranslation(1, 2, 3), [3]int{5, 4, 3}, [3]float64{1, 1, 2})
	if field.NumNodes() != 60 {
		t.Fatalf("Expected 60 nodes, got %d", field.NumNodes())
	}
	for n := 0; n < field.NumNodes(); n++ {
		if !closePoint(field.Displacement(n), Point{1, 2, 3}, eps) {
			t.Fatalf("Node %d: unexpected displacement %v", n, field.Displacement(n))
		}
	}

	sub := field.Subsample(2)
	if sub.Dims != [3]int{3, 2, 2} || sub.Spacing != [3]float64{2, 2, 4} {
		t.Errorf("Unexpected subsampled geometry %v %v", sub.Dims, sub.Spacing)
	}
	if field.Subsample(1) != field {
		t.Error("Subsample(1) should return the field itself")
	}
	if field.Bounds() != (models.Bounds{0, 4, 0, 3, 0, 2}) {
		t.Errorf("Unexpected bounds %v", field.Bounds())
	}
}
