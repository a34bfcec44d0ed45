package transform

import (
	"fmt"
	"math"
)

// Mode selects how control-point displacements are interpolated.
type Mode int

const (
	// Linear interpolates the eight nearest control points trilinearly.
	Linear Mode = iota
	// BSpline uses cubic B-spline weights over a 4x4x4 neighbourhood.
	BSpline
)

// Grid is a free-form deformation: a lattice of control points, each carrying a
// displacement, interpolated into a smooth dense deformation.
//
// Control point (a,b,c) sits at origin + (a*sx, b*sy, c*sz). Indices outside the lattice
// are clamped to its boundary, so the displacements of a uniformly displaced lattice form
// a pure translation everywhere.
type Grid struct {
	name    string
	mode    Mode
	dims    [3]int
	spacing [3]float64
	origin  [3]float64

	// params holds one (dx,dy,dz) triplet per control point, x-fastest control-point order
	params []float64
}

// NewGrid returns an empty named grid. InitializeGrid must be called before use.
func NewGrid(name string) *Grid {
	return &Grid{name: name, mode: BSpline}
}

// InitializeGrid allocates the lattice and zeroes all displacements.
// Dimensions below 4 are raised to 4.
func (g *Grid) InitializeGrid(dims [3]int, spacing, origin [3]float64, mode Mode) {
	for ia := 0; ia < 3; ia++ {
		if dims[ia] < 4 {
			dims[ia] = 4
		}
	}
	g.dims = dims
	g.spacing = spacing
	g.origin = origin
	g.mode = mode
	g.params = make([]float64, 3*dims[0]*dims[1]*dims[2])
}

// Name returns the grid name.
func (g *Grid) Name() string { return g.name }

// Dims returns the number of control points per axis.
func (g *Grid) Dims() [3]int { return g.dims }

// Spacing returns the control-point spacing in mm.
func (g *Grid) Spacing() [3]float64 { return g.spacing }

// Origin returns the position of control point (0,0,0).
func (g *Grid) Origin() [3]float64 { return g.origin }

// Mode returns the interpolation mode.
func (g *Grid) Mode() Mode { return g.mode }

// NumControlPoints returns the lattice size.
func (g *Grid) NumControlPoints() int {
	return g.dims[0] * g.dims[1] * g.dims[2]
}

// NumDOF returns the parameter vector length, 3 per control point.
func (g *Grid) NumDOF() int {
	return len(g.params)
}

// ControlPointIndex returns the flat index of control point (a,b,c).
func (g *Grid) ControlPointIndex(a, b, c int) int {
	return (c*g.dims[1]+b)*g.dims[0] + a
}

// ControlPointCoordinates inverts ControlPointIndex.
func (g *Grid) ControlPointCoordinates(cp int) [3]int {
	a := cp % g.dims[0]
	b := (cp / g.dims[0]) % g.dims[1]
	c := cp / (g.dims[0] * g.dims[1])
	return [3]int{a, b, c}
}

// ControlPointPosition returns the undisplaced physical position of a control point.
func (g *Grid) ControlPointPosition(cp int) Point {
	c := g.ControlPointCoordinates(cp)
	var p Point
	for ia := 0; ia < 3; ia++ {
		p[ia] = g.origin[ia] + float64(c[ia])*g.spacing[ia]
	}
	return p
}

// GetParameterVector copies the displacements into v, which must have NumDOF entries.
func (g *Grid) GetParameterVector(v []float64) error {
	if len(v) != len(g.params) {
		return fmt.Errorf("%w: got %d, grid %s has %d", ErrSizeMismatch, len(v), g.name, len(g.params))
	}
	copy(v, g.params)
	return nil
}

// ParameterVector returns a copy of the displacements.
func (g *Grid) ParameterVector() []float64 {
	v := make([]float64, len(g.params))
	copy(v, g.params)
	return v
}

// SetParameterVector overwrites all displacements.
func (g *Grid) SetParameterVector(v []float64) error {
	if len(v) != len(g.params) {
		return fmt.Errorf("%w: got %d, grid %s has %d", ErrSizeMismatch, len(v), g.name, len(g.params))
	}
	copy(g.params, v)
	return nil
}

// ControlPointDisplacement returns the displacement of control point cp.
func (g *Grid) ControlPointDisplacement(cp int) Point {
	return Point{g.params[3*cp], g.params[3*cp+1], g.params[3*cp+2]}
}

// SetControlPointDisplacement sets the displacement of control point cp.
func (g *Grid) SetControlPointDisplacement(cp int, d Point) {
	g.params[3*cp], g.params[3*cp+1], g.params[3*cp+2] = d[0], d[1], d[2]
}

// SupportRadius is the half-width, in control-point cells, of one control point's influence.
func (g *Grid) SupportRadius() float64 {
	if g.mode == BSpline {
		return 2
	}
	return 1
}

// GridCoordinates converts a physical point to continuous lattice coordinates.
func (g *Grid) GridCoordinates(p Point) [3]float64 {
	var u [3]float64
	for ia := 0; ia < 3; ia++ {
		u[ia] = (p[ia] - g.origin[ia]) / g.spacing[ia]
	}
	return u
}

// weights fills the lattice indices and interpolation weights along one axis.
func (g *Grid) weights(u float64, dim int, idx *[4]int, w *[4]float64) int {
	fl := math.Floor(u)
	i := int(fl)
	t := u - fl
	clamp := func(n int) int {
		if n < 0 {
			return 0
		}
		if n > dim-1 {
			return dim - 1
		}
		return n
	}
	if g.mode == Linear {
		idx[0], idx[1] = clamp(i), clamp(i+1)
		w[0], w[1] = 1-t, t
		return 2
	}
	t2 := t * t
	t3 := t2 * t
	w[0] = (1 - t) * (1 - t) * (1 - t) / 6
	w[1] = (3*t3 - 6*t2 + 4) / 6
	w[2] = (-3*t3 + 3*t2 + 3*t + 1) / 6
	w[3] = t3 / 6
	for n := 0; n < 4; n++ {
		idx[n] = clamp(i - 1 + n)
	}
	return 4
}

// Displacement evaluates the interpolated deformation at p.
func (g *Grid) Displacement(p Point) Point {
	u := g.GridCoordinates(p)
	var ix, iy, iz [4]int
	var wx, wy, wz [4]float64
	n := g.weights(u[0], g.dims[0], &ix, &wx)
	g.weights(u[1], g.dims[1], &iy, &wy)
	g.weights(u[2], g.dims[2], &iz, &wz)

	var d Point
	for c := 0; c < n; c++ {
		for b := 0; b < n; b++ {
			wzy := wz[c] * wy[b]
			row := (iz[c]*g.dims[1] + iy[b]) * g.dims[0]
			for a := 0; a < n; a++ {
				w := wzy * wx[a]
				cp := 3 * (row + ix[a])
				d[0] += w * g.params[cp]
				d[1] += w * g.params[cp+1]
				d[2] += w * g.params[cp+2]
			}
		}
	}
	return d
}

// TransformPoint returns p moved by the grid displacement.
func (g *Grid) TransformPoint(p Point) Point {
	d := g.Displacement(p)
	return Point{p[0] + d[0], p[1] + d[1], p[2] + d[2]}
}

// ComputeDisplacementField evaluates the grid deformation on a new sampling lattice.
func (g *Grid) ComputeDisplacementField(dims [3]int, spacing [3]float64) *DisplacementField {
	return ComputeDisplacementField(g, dims, spacing)
}

func (g *Grid) String() string {
	return fmt.Sprintf("Grid[%s dim=(%d,%d,%d) spa=(%.3f,%.3f,%.3f) ori=(%.3f,%.3f,%.3f)]",
		g.name, g.dims[0], g.dims[1], g.dims[2],
		g.spacing[0], g.spacing[1], g.spacing[2],
		g.origin[0], g.origin[1], g.origin[2])
}
