// Package transform provides the spatial transformations used by non-linear registration:
// affine matrices, B-spline free-form deformation grids, and composite chains of both.
//
// All transformations map physical coordinates (mm) of the reference volume to physical
// coordinates of the target volume. Voxel (i,j,k) of a volume sits at (i*sx, j*sy, k*sz).
package transform

import (
	"errors"

	"ffdreg/internal/models"
)

// ErrSizeMismatch is returned when a parameter vector does not match the number of
// degrees of freedom of a grid.
var ErrSizeMismatch = errors.New("transform: parameter vector size mismatch")

// Point is a physical 3D coordinate in mm.
type Point [3]float64

// Transformation maps a reference-space point to a target-space point.
type Transformation interface {
	TransformPoint(p Point) Point
}

// VoxelPoint returns the physical position of voxel (i,j,k) for the given spacing.
func VoxelPoint(i, j, k int, spacing [3]float64) Point {
	return Point{float64(i) * spacing[0], float64(j) * spacing[1], float64(k) * spacing[2]}
}

// ComputeDisplacementField samples t on a regular lattice and stores T(x)-x at each node.
func ComputeDisplacementField(t Transformation, dims [3]int, spacing [3]float64) *DisplacementField {
	field := NewDisplacementField(dims, spacing)
	idx := 0
	for k := 0; k < dims[2]; k++ {
		for j := 0; j < dims[1]; j++ {
			for i := 0; i < dims[0]; i++ {
				x := VoxelPoint(i, j, k, spacing)
				y := t.TransformPoint(x)
				field.Data[3*idx] = y[0] - x[0]
				field.Data[3*idx+1] = y[1] - x[1]
				field.Data[3*idx+2] = y[2] - x[2]
				idx++
			}
		}
	}
	return field
}

// DisplacementField is a dense vector field with one (dx,dy,dz) triplet per lattice node.
type DisplacementField struct {
	Dims    [3]int
	Spacing [3]float64

	// Data holds interleaved displacements: node n occupies Data[3n:3n+3]
	Data []float64
}

// NewDisplacementField allocates a zero field.
func NewDisplacementField(dims [3]int, spacing [3]float64) *DisplacementField {
	return &DisplacementField{
		Dims:    dims,
		Spacing: spacing,
		Data:    make([]float64, 3*dims[0]*dims[1]*dims[2]),
	}
}

// NumNodes returns the number of lattice nodes.
func (f *DisplacementField) NumNodes() int {
	return f.Dims[0] * f.Dims[1] * f.Dims[2]
}

// Index converts node coordinates to a node offset.
func (f *DisplacementField) Index(i, j, k int) int {
	return k*f.Dims[0]*f.Dims[1] + j*f.Dims[0] + i
}

// Displacement returns the vector stored at node n.
func (f *DisplacementField) Displacement(n int) Point {
	return Point{f.Data[3*n], f.Data[3*n+1], f.Data[3*n+2]}
}

// Position returns node (i,j,k) moved by its displacement.
func (f *DisplacementField) Position(i, j, k int) Point {
	x := VoxelPoint(i, j, k, f.Spacing)
	d := f.Displacement(f.Index(i, j, k))
	return Point{x[0] + d[0], x[1] + d[1], x[2] + d[2]}
}

// Bounds returns the full node region of the field.
func (f *DisplacementField) Bounds() models.Bounds {
	return models.FullBounds(f.Dims)
}

// Subsample keeps every factor-th node along each axis.
func (f *DisplacementField) Subsample(factor int) *DisplacementField {
	if factor <= 1 {
		return f
	}
	var dims [3]int
	var spa [3]float64
	for ia := 0; ia < 3; ia++ {
		dims[ia] = (f.Dims[ia]-1)/factor + 1
		spa[ia] = f.Spacing[ia] * float64(factor)
	}
	out := NewDisplacementField(dims, spa)
	for k := 0; k < dims[2]; k++ {
		for j := 0; j < dims[1]; j++ {
			for i := 0; i < dims[0]; i++ {
				src := f.Index(i*factor, j*factor, k*factor)
				dst := out.Index(i, j, k)
				copy(out.Data[3*dst:3*dst+3], f.Data[3*src:3*src+3])
			}
		}
	}
	return out
}
