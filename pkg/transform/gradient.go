package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"ffdreg/internal/models"
)

// LocalEvaluator recomputes an objective after a change confined to one control point.
// bounds is the voxel region whose values may differ from the last full evaluation.
type LocalEvaluator interface {
	ComputeValueFunctionPiece(g *Grid, bounds models.Bounds, cp int) float64
}

// SupportLocator is implemented by evaluators that sample the grid at positions other than
// the voxel centres of their image, for example after an earlier transformation stage.
// When ok is false the grid derives the region from its own geometry.
type SupportLocator interface {
	SupportBounds(cp int, windowSize float64) (bounds models.Bounds, ok bool)
}

// SupportBounds returns the voxels of an image with the given dimensions and spacing whose
// displacement depends on control point cp. windowSize scales the spline support.
func (g *Grid) SupportBounds(cp int, dims [3]int, spacing [3]float64, windowSize float64) models.Bounds {
	center := g.ControlPointPosition(cp)
	radius := g.SupportRadius() * windowSize
	var b models.Bounds
	for ia := 0; ia < 3; ia++ {
		hw := radius * g.spacing[ia]
		b[2*ia] = int(math.Ceil((center[ia] - hw) / spacing[ia]))
		b[2*ia+1] = int(math.Floor((center[ia] + hw) / spacing[ia]))
	}
	return b.Clip(dims)
}

// ComputeGradientForOptimization estimates the objective gradient with respect to every
// parameter by central differences of size stepSize. Each control point is perturbed in
// turn and eval only recomputes the part of the image within that point's support.
// The grid holds params when the call returns. The gradient norm is returned.
func (g *Grid) ComputeGradientForOptimization(params, grad []float64, stepSize float64,
	dims [3]int, spacing [3]float64, windowSize float64, eval LocalEvaluator) (float64, error) {

	if len(grad) != len(g.params) {
		return 0, fmt.Errorf("%w: gradient has %d entries, grid %s has %d", ErrSizeMismatch, len(grad), g.name, len(g.params))
	}
	if err := g.SetParameterVector(params); err != nil {
		return 0, err
	}

	locator, _ := eval.(SupportLocator)
	for cp := 0; cp < g.NumControlPoints(); cp++ {
		var bounds models.Bounds
		ok := false
		if locator != nil {
			bounds, ok = locator.SupportBounds(cp, windowSize)
		}
		if !ok {
			bounds = g.SupportBounds(cp, dims, spacing, windowSize)
		}

		for ia := 0; ia < 3; ia++ {
			n := 3*cp + ia
			orig := g.params[n]

			g.params[n] = orig + stepSize
			plus := eval.ComputeValueFunctionPiece(g, bounds, cp)

			g.params[n] = orig - stepSize
			minus := eval.ComputeValueFunctionPiece(g, bounds, cp)

			g.params[n] = orig
			grad[n] = (plus - minus) / (2 * stepSize)
		}
	}
	return floats.Norm(grad, 2), nil
}
