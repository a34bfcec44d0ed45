package registration

import (
	"math"

	"ffdreg/internal/models"
	"ffdreg/pkg/interpolation"
	"ffdreg/pkg/transform"
)

// Value sets position on the current grid, reslices the whole level target and returns
// the similarity metric plus lambda times the total bending energy.
func (r *NonLinear) Value(position []float64) float64 {
	g := r.CurrentGrid()
	if err := g.SetParameterVector(position); err != nil {
		r.logger.Error("evaluating objective", "err", err)
		return math.Inf(1)
	}

	lv := r.level
	interpolation.ResliceField(lv.target, lv.resliced, lv.Prefix, g, lv.Bounds, 0)
	var weight2 []float64
	if lv.reslicedWeight != nil {
		interpolation.ResliceField(lv.TargetWeight, lv.reslicedWeight, lv.Prefix, g, lv.Bounds, 0)
		weight2 = lv.reslicedWeight.Data
	}

	r.histogram.WeightedFillHistogram(lv.reference, lv.resliced.Data, lv.weight1, weight2,
		lv.weightMode, 1, true, lv.Dims(), lv.Bounds)

	mv := r.histogram.ComputeMetric(r.params.Metric)
	r.lastSimilarity = mv
	if r.params.Lambda > 0 {
		r.lastSmoothness = g.GetTotalBendingEnergy()
		mv += r.params.Lambda * r.lastSmoothness
	}
	return mv
}

// ComputeValueFunctionPiece returns the objective after re-sampling only the voxels in
// bounds through g, whose parameters differ from the last Value call at control point cp
// only. The histogram is left exactly as Value left it.
func (r *NonLinear) ComputeValueFunctionPiece(g *transform.Grid, bounds models.Bounds, cp int) float64 {
	lv := r.level
	dims := lv.Dims()
	bounds = bounds.Clip(dims).Intersect(lv.Bounds)

	var weight2 []float64
	if lv.reslicedWeight != nil {
		weight2 = lv.reslicedWeight.Data
	}

	edit := r.histogram.Begin()
	defer edit.Rollback()

	r.histogram.WeightedFillHistogram(lv.reference, lv.resliced.Data, lv.weight1, weight2,
		lv.weightMode, -1, false, dims, bounds)
	interpolation.ResliceField(lv.target, lv.part, lv.Prefix, g, bounds, 0)
	r.histogram.WeightedFillHistogram(lv.reference, lv.part.Data, lv.weight1, weight2,
		lv.weightMode, 1, false, dims, bounds)

	mv := r.histogram.ComputeMetric(r.params.Metric)
	if r.params.Lambda > 0 {
		mv += r.params.Lambda * g.GetBendingEnergyAtControlPoint(cp)
	}
	return mv
}

// Gradient evaluates position in full, then estimates the gradient one control point at a
// time with the current step size.
func (r *NonLinear) Gradient(position, grad []float64) float64 {
	r.Value(position)
	lv := r.level
	norm, err := r.CurrentGrid().ComputeGradientForOptimization(position, grad, r.currentStepSize,
		lv.Dims(), lv.Spacing(), r.params.WindowSize, r)
	if err != nil {
		r.logger.Error("computing gradient", "err", err)
		for i := range grad {
			grad[i] = 0
		}
		return 0
	}
	return norm
}

// SupportBounds locates the reference voxels whose prefix positions fall under control
// point cp of the current grid. Without a prefix the grid geometry answers directly.
func (r *NonLinear) SupportBounds(cp int, windowSize float64) (models.Bounds, bool) {
	lv := r.level
	if lv.Prefix == nil {
		return models.Bounds{}, false
	}
	if lv.support == nil || lv.supportWindow != windowSize {
		lv.support = r.computeSupport(r.CurrentGrid(), windowSize)
		lv.supportWindow = windowSize
	}
	return lv.support[cp], true
}

func (r *NonLinear) computeSupport(g *transform.Grid, windowSize float64) []models.Bounds {
	support := make([]models.Bounds, g.NumControlPoints())
	for i := range support {
		support[i] = models.EmptyBounds()
	}
	gd := g.Dims()
	radius := g.SupportRadius() * windowSize
	b := r.level.Bounds
	for k := b[4]; k <= b[5]; k++ {
		for j := b[2]; j <= b[3]; j++ {
			for i := b[0]; i <= b[1]; i++ {
				u := g.GridCoordinates(r.level.Prefix.Position(i, j, k))
				var lo, hi [3]int
				for ia := 0; ia < 3; ia++ {
					uc := math.Max(0, math.Min(u[ia], float64(gd[ia]-1)))
					lo[ia] = max(0, int(math.Ceil(uc-radius)))
					hi[ia] = min(gd[ia]-1, int(math.Floor(uc+radius)))
				}
				for c := lo[2]; c <= hi[2]; c++ {
					for bb := lo[1]; bb <= hi[1]; bb++ {
						for a := lo[0]; a <= hi[0]; a++ {
							cp := g.ControlPointIndex(a, bb, c)
							support[cp] = support[cp].Expand(i, j, k)
						}
					}
				}
			}
		}
	}
	return support
}
