package registration

import (
	"math"

	"github.com/charmbracelet/log"

	"ffdreg/internal/models"
	"ffdreg/pkg/optimizer"
	"ffdreg/pkg/transform"
)

// FitParameters configures a displacement-field fit.
type FitParameters struct {
	Levels       int
	Steps        int
	Iterations   int
	StepSize     float64
	Lambda       float64
	Tolerance    float64
	Resolution   float64
	Optimization optimizer.Method
}

// FastFitParameters is used when carrying a grid across levels of the same run.
func FastFitParameters(spacing float64) FitParameters {
	return FitParameters{
		Levels:       1,
		Steps:        2,
		Iterations:   5,
		StepSize:     0.125,
		Lambda:       0.1,
		Tolerance:    0.02 * spacing,
		Resolution:   1.0,
		Optimization: optimizer.ConjugateGradient,
	}
}

// AccurateFitParameters is used when absorbing an initial non-linear transformation.
func AccurateFitParameters(spacing float64) FitParameters {
	p := FastFitParameters(spacing)
	p.Levels = 2
	p.Steps = 3
	p.Iterations = 10
	return p
}

// Fitter finds the grid parameters whose deformation best reproduces a dense displacement
// field in the least-squares sense, with a bending-energy penalty. It uses the same
// localized gradient as image registration, with squared field error as the similarity.
type Fitter struct {
	name   string
	logger *log.Logger

	grid     *transform.Grid
	field    *transform.DisplacementField
	errors   []float64
	sum      float64
	lambda   float64
	stepSize float64
}

// NewFitter returns a fitter logging to logger; nil uses log.Default().
func NewFitter(name string, logger *log.Logger) *Fitter {
	if logger == nil {
		logger = log.Default()
	}
	return &Fitter{name: name, logger: logger}
}

// Run fits grid to field in place and returns the final objective value.
func (f *Fitter) Run(field *transform.DisplacementField, grid *transform.Grid, p FitParameters) float64 {
	if p.Levels < 1 {
		p.Levels = 1
	}
	if p.Steps < 1 {
		p.Steps = 1
	}
	if p.Resolution < 1 {
		p.Resolution = 1
	}
	f.grid = grid
	f.lambda = p.Lambda

	fit := newProgress(f.logger)
	value := 0.0
	for level := p.Levels; level >= 1; level-- {
		factor := int(p.Resolution * math.Pow(2, float64(level-1)))
		f.field = field.Subsample(factor)
		f.errors = make([]float64, f.field.NumNodes())

		spa := f.field.Spacing
		f.stepSize = p.StepSize * math.Pow(2, float64(p.Steps-1)) * math.Min(spa[0], math.Min(spa[1], spa[2]))

		opt := optimizer.New(f, f.logger)
		position := grid.ParameterVector()
		for step := p.Steps; step >= 1; step-- {
			opt.SetStepSize(f.stepSize)
			value = opt.Run(p.Optimization, position, p.Iterations, p.Tolerance)
			f.stepSize /= 2
		}
		if err := grid.SetParameterVector(position); err != nil {
			f.logger.Error("storing fitted parameters", "err", err)
		}
		f.logger.Debug("fit level done", "fitter", f.name, "level", level, "dim", f.field.Dims, "value", value)
	}
	fit.done("displacement field fitted", "fitter", f.name, "rms", math.Sqrt(f.sum/float64(len(f.errors))))
	return value
}

func (f *Fitter) nodeError(g *transform.Grid, i, j, k int) float64 {
	x := transform.VoxelPoint(i, j, k, f.field.Spacing)
	d := g.Displacement(x)
	want := f.field.Displacement(f.field.Index(i, j, k))
	e := 0.0
	for ia := 0; ia < 3; ia++ {
		diff := d[ia] - want[ia]
		e += diff * diff
	}
	return e
}

// Value returns the mean squared field error plus lambda times the bending energy.
func (f *Fitter) Value(position []float64) float64 {
	if err := f.grid.SetParameterVector(position); err != nil {
		f.logger.Error("evaluating fit", "err", err)
		return math.Inf(1)
	}
	f.sum = 0
	dims := f.field.Dims
	n := 0
	for k := 0; k < dims[2]; k++ {
		for j := 0; j < dims[1]; j++ {
			for i := 0; i < dims[0]; i++ {
				e := f.nodeError(f.grid, i, j, k)
				f.errors[n] = e
				f.sum += e
				n++
			}
		}
	}
	v := f.sum / float64(n)
	if f.lambda > 0 {
		v += f.lambda * f.grid.GetTotalBendingEnergy()
	}
	return v
}

// ComputeValueFunctionPiece replaces the error of the nodes in bounds by their error under
// g and returns the resulting objective. Stored errors are not modified.
func (f *Fitter) ComputeValueFunctionPiece(g *transform.Grid, bounds models.Bounds, cp int) float64 {
	bounds = bounds.Clip(f.field.Dims)
	delta := 0.0
	for k := bounds[4]; k <= bounds[5]; k++ {
		for j := bounds[2]; j <= bounds[3]; j++ {
			for i := bounds[0]; i <= bounds[1]; i++ {
				delta += f.nodeError(g, i, j, k) - f.errors[f.field.Index(i, j, k)]
			}
		}
	}
	v := (f.sum + delta) / float64(len(f.errors))
	if f.lambda > 0 {
		v += f.lambda * g.GetBendingEnergyAtControlPoint(cp)
	}
	return v
}

// Gradient evaluates position in full, then differentiates one control point at a time.
func (f *Fitter) Gradient(position, grad []float64) float64 {
	f.Value(position)
	norm, err := f.grid.ComputeGradientForOptimization(position, grad, f.stepSize,
		f.field.Dims, f.field.Spacing, 1.0, f)
	if err != nil {
		f.logger.Error("computing fit gradient", "err", err)
		for i := range grad {
			grad[i] = 0
		}
		return 0
	}
	return norm
}
