package transform

import "fmt"

// Combo is a composite transformation: an initial affine matrix followed by an ordered list
// of grid stages. A point is mapped by the matrix first, then by each stage in order, every
// stage receiving the output of the previous one.
//
// The combo owns its stages. Callers that need to refer to one keep its index.
type Combo struct {
	name    string
	initial Matrix
	stages  []*Grid
}

// NewCombo returns an identity composite.
func NewCombo(name string) *Combo {
	c := &Combo{name: name}
	c.Identity()
	return c
}

// Identity resets the combo to an identity matrix with no stages.
func (c *Combo) Identity() {
	c.initial = IdentityMatrix()
	c.stages = nil
}

// Name returns the combo name.
func (c *Combo) Name() string { return c.name }

// SetInitialTransformation replaces the linear component.
func (c *Combo) SetInitialTransformation(m Matrix) {
	c.initial = m
}

// GetInitialTransformation returns the linear component.
func (c *Combo) GetInitialTransformation() Matrix {
	return c.initial
}

// AddTransformation appends a grid stage and returns its index.
func (c *Combo) AddTransformation(g *Grid) int {
	c.stages = append(c.stages, g)
	return len(c.stages) - 1
}

// NumStages returns the number of grid stages.
func (c *Combo) NumStages() int {
	return len(c.stages)
}

// Stage returns the grid at index i.
func (c *Combo) Stage(i int) *Grid {
	return c.stages[i]
}

// Classify reports how the combo should be treated as an initial transformation: a combo
// without grid stages is equivalent to its matrix.
func (c *Combo) Classify() Kind {
	if len(c.stages) == 0 {
		return KindLinear
	}
	return KindComposite
}

// TransformPoint applies the matrix and then every stage.
func (c *Combo) TransformPoint(p Point) Point {
	return c.TransformPointPrefix(p, len(c.stages))
}

// TransformPointPrefix applies the matrix and the first n stages only.
func (c *Combo) TransformPointPrefix(p Point, n int) Point {
	q := c.initial.TransformPoint(p)
	for _, g := range c.stages[:n] {
		q = g.TransformPoint(q)
	}
	return q
}

// Prefix returns a transformation equal to the matrix followed by the first n stages.
func (c *Combo) Prefix(n int) Transformation {
	return prefix{combo: c, n: n}
}

// ComputeDisplacementField samples the whole composite on a regular lattice.
func (c *Combo) ComputeDisplacementField(dims [3]int, spacing [3]float64) *DisplacementField {
	return ComputeDisplacementField(c, dims, spacing)
}

func (c *Combo) String() string {
	return fmt.Sprintf("Combo[%s stages=%d]", c.name, len(c.stages))
}

type prefix struct {
	combo *Combo
	n     int
}

func (p prefix) TransformPoint(x Point) Point {
	return p.combo.TransformPointPrefix(x, p.n)
}
