package registration

import (
	"fmt"
	"math"

	"ffdreg/internal/models"
	"ffdreg/pkg/histogram"
	"ffdreg/pkg/pyramid"
	"ffdreg/pkg/transform"
)

// levelState is everything a level owns while its grid is optimized.
type levelState struct {
	*pyramid.Level

	// reference and target are the level images scaled to histogram bin units
	reference []float64
	target    *models.Volume

	// resliced holds the target sampled through the current grid, part is scratch for
	// one control point's region
	resliced *models.Volume
	part     *models.Volume

	weightMode     histogram.WeightMode
	weight1        []float64
	reslicedWeight *models.Volume

	// support caches per-control-point regions when Prefix is set
	support       []models.Bounds
	supportWindow float64
}

// ImageSize is the length a control grid must span along one axis: (dim-1)*spacing + 1.
func ImageSize(dim int, spacing float64) float64 {
	return float64(dim-1)*spacing + 1
}

// SolveGridGeometry sizes a control grid covering an image with the given dimensions and
// spacing at roughly the requested control-point spacing. Every axis gets at least four
// control points, and the grid is centred over the image.
func SolveGridGeometry(dims [3]int, spacing [3]float64, cps float64) (n [3]int, cpSpacing, origin [3]float64) {
	for ia := 0; ia < 3; ia++ {
		imagesize := ImageSize(dims[ia], spacing[ia])
		numcp := int(imagesize/cps + 0.5)
		if numcp < 4 {
			numcp = 4
		}
		n[ia] = numcp
		cpSpacing[ia] = imagesize / (float64(numcp) - 1.05)
		outsz := float64(numcp-1) * cpSpacing[ia]
		origin[ia] = -0.5 * (outsz - imagesize)
	}
	return n, cpSpacing, origin
}

// initializeLevelAndGrid prepares the images of level lv and the grid optimized there.
func (r *NonLinear) initializeLevelAndGrid(lv, numlevels int) {
	r.logger.Info("initializing level", "level", lv)

	if lv == numlevels && r.initial != nil {
		switch init := r.initial.(type) {
		case transform.LinearInitial:
			r.logger.Info("initial transformation is linear", "matrix", "\n"+init.Matrix.String())
			r.combo.SetInitialTransformation(init.Matrix)
		case transform.CompositeInitial:
			r.logger.Info("initial transformation is composite, using its linear component",
				"stages", init.Combo.NumStages())
			r.combo.SetInitialTransformation(init.Matrix)
		default:
			r.logger.Warn("initial transformation is neither linear nor composite, ignoring it",
				"kind", init.Kind())
		}
	}

	var tr transform.Transformation = r.combo
	if !r.params.AppendMode {
		tr = r.combo.GetInitialTransformation()
	}
	r.setupLevel(r.pyramid.InitializeLevel(lv, tr))

	cps := r.params.CPS * math.Pow(r.params.CPSRate, float64(lv-1))
	dims, cpSpacing, origin := SolveGridGeometry(r.level.Dims(), r.level.Spacing(), cps)
	r.currentDims, r.currentCPS = dims, cpSpacing

	if lv != numlevels && !r.params.AppendMode && r.current >= 0 {
		g := r.combo.Stage(r.current)
		r.logger.Info("fitting previous grid onto the new lattice", "from", g.Dims(), "to", dims)
		field := r.computeDisplacementField(g)
		g.InitializeGrid(dims, cpSpacing, origin, transform.BSpline)
		r.approximateDisplacementField(field, g, true)
		return
	}

	var g *transform.Grid
	if !r.params.AppendMode && r.current >= 0 {
		g = r.combo.Stage(r.current)
	} else {
		g = transform.NewGrid(fmt.Sprintf("%s_grid_%d", r.name, lv))
	}
	g.InitializeGrid(dims, cpSpacing, origin, transform.BSpline)

	if lv == numlevels {
		if init, ok := r.initial.(transform.CompositeInitial); ok {
			saved := init.Combo.GetInitialTransformation()
			init.Combo.SetInitialTransformation(transform.IdentityMatrix())
			field := r.computeDisplacementField(init.Combo)
			init.Combo.SetInitialTransformation(saved)
			r.approximateDisplacementField(field, g, false)
		}
	}

	if r.params.AppendMode || r.current < 0 {
		r.current = r.combo.AddTransformation(g)
	}
}

// setupLevel scales the level images into bin units and allocates the scratch volumes.
func (r *NonLinear) setupLevel(l *pyramid.Level) {
	nb := r.params.NumBins
	ls := &levelState{
		Level:     l,
		reference: scaleToBins(l.Reference, nb).Data,
		target:    scaleToBins(l.Target, nb),
		resliced:  l.Reference.CopyStructure(),
		part:      l.Reference.CopyStructure(),
	}

	ls.weightMode = r.params.WeightMode
	if ls.weightMode >= histogram.ReferenceWeights && l.ReferenceWeight == nil {
		r.logger.Warn("reference weights requested but not set")
		ls.weightMode = histogram.NoWeights
	}
	if ls.weightMode >= histogram.ReferenceWeights {
		ls.weight1 = l.ReferenceWeight.Data
	}
	if ls.weightMode == histogram.BothWeights {
		if l.TargetWeight == nil {
			r.logger.Warn("target weights requested but not set")
			ls.weightMode = histogram.ReferenceWeights
		} else {
			ls.reslicedWeight = l.Reference.CopyStructure()
		}
	}

	r.level = ls
	r.histogram = histogram.New(nb)
}

// scaleToBins maps the intensity range of v linearly onto [0, numBins-1]. A range within
// rounding noise of the intensities is treated as constant and maps to bin 0.
func scaleToBins(v *models.Volume, numBins int) *models.Volume {
	lo, hi := v.Range()
	scale := 0.0
	if hi-lo > 1e-9*math.Max(1, math.Max(math.Abs(lo), math.Abs(hi))) {
		scale = float64(numBins-1) / (hi - lo)
	}
	out := v.CopyStructure()
	for i, x := range v.Data {
		out.Data[i] = (x - lo) * scale
	}
	return out
}

// computeDisplacementField samples t at a third of the current control-point spacing over
// the level reference.
func (r *NonLinear) computeDisplacementField(t transform.Transformation) *transform.DisplacementField {
	dims := r.level.Dims()
	spa := r.level.Spacing()
	var newdim [3]int
	var newspa [3]float64
	for ia := 0; ia < 3; ia++ {
		newspa[ia] = r.currentCPS[ia] / 3.0
		newdim[ia] = int((float64(dims[ia]+1)*spa[ia])/newspa[ia]+0.5) - 1
		if newdim[ia] < 2 {
			newdim[ia] = 2
		}
	}
	r.logger.Info("computing displacement field to fit", "dim", newdim, "spa", newspa)
	return transform.ComputeDisplacementField(t, newdim, newspa)
}

// approximateDisplacementField fits g to field, quickly between levels or accurately when
// absorbing an initial deformation.
func (r *NonLinear) approximateDisplacementField(field *transform.DisplacementField, g *transform.Grid, fast bool) {
	spa := r.level.Spacing()
	p := AccurateFitParameters(spa[0])
	if fast {
		p = FastFitParameters(spa[0])
	}
	f := NewFitter(r.name+":approx", r.logger)
	f.Run(field, g, p)
}
