// Package registration implements multi-resolution non-linear registration of a target
// volume onto a reference volume with free-form deformation grids.
//
// A run walks the pyramid from the coarsest level to the finest. At each level a control
// grid sized to the level is optimized against a joint-histogram similarity metric plus a
// bending-energy penalty. Grids either accumulate in the output composite transformation
// (append mode) or a single grid is refit onto a finer lattice at each level.
package registration

import (
	"errors"
	"math"
	"time"

	"github.com/charmbracelet/log"

	"ffdreg/internal/models"
	"ffdreg/pkg/histogram"
	"ffdreg/pkg/optimizer"
	"ffdreg/pkg/pyramid"
	"ffdreg/pkg/transform"
)

// ErrMissingImage is returned by Run when the reference or target volume is not set.
var ErrMissingImage = errors.New("registration: reference and target volumes are required")

// NonLinear registers a target volume onto a reference volume. It is not safe for
// concurrent use; Run mutates the output transformation in place.
type NonLinear struct {
	name string
	// base is the logger supplied by the caller; logger is derived from it by SetFeedback
	base     *log.Logger
	logger   *log.Logger
	feedback bool

	reference       *models.Volume
	target          *models.Volume
	referenceWeight *models.Volume
	targetWeight    *models.Volume

	initial transform.Initial
	params  Parameters
	pyramid *pyramid.Pyramid

	// combo is the output; current indexes the stage being optimized, -1 before any level
	combo   *transform.Combo
	current int

	level           *levelState
	histogram       *histogram.JointHistogram
	currentStepSize float64
	currentDims     [3]int
	currentCPS      [3]float64

	lastSimilarity float64
	lastSmoothness float64
	totalTime      time.Duration
}

// New returns a registration with an identity output transformation.
func New(name string) *NonLinear {
	r := &NonLinear{
		name:           name,
		base:           log.Default(),
		logger:         log.Default(),
		feedback:       true,
		params:         DefaultParameters(),
		combo:          transform.NewCombo(name + ":combo"),
		current:        -1,
		lastSimilarity: -1,
		lastSmoothness: -1,
	}
	return r
}

// SetLogger replaces the feedback logger. nil restores log.Default().
func (r *NonLinear) SetLogger(l *log.Logger) {
	if l == nil {
		l = log.Default()
	}
	r.base = l
	r.applyFeedback()
}

// SetFeedback enables or silences informational feedback. Warnings are always emitted.
// The level of the logger passed to SetLogger is never changed.
func (r *NonLinear) SetFeedback(enabled bool) {
	r.feedback = enabled
	r.applyFeedback()
}

func (r *NonLinear) applyFeedback() {
	if r.feedback {
		r.logger = r.base
		return
	}
	r.logger = r.base.With()
	if r.base.GetLevel() < log.WarnLevel {
		r.logger.SetLevel(log.WarnLevel)
	}
}

// SetReference sets the fixed volume.
func (r *NonLinear) SetReference(v *models.Volume) { r.reference = v }

// SetTarget sets the moving volume.
func (r *NonLinear) SetTarget(v *models.Volume) { r.target = v }

// SetReferenceWeight sets the optional per-voxel weights of the reference, in [0,1].
func (r *NonLinear) SetReferenceWeight(v *models.Volume) { r.referenceWeight = v }

// SetTargetWeight sets the optional per-voxel weights of the target, in [0,1].
func (r *NonLinear) SetTargetWeight(v *models.Volume) { r.targetWeight = v }

// SetInitialTransformation supplies a transformation to start from. Only its linear part
// and, for composites, the deformation of its grid stages are used.
func (r *NonLinear) SetInitialTransformation(t transform.Transformation) {
	r.initial = transform.Classify(t)
}

// GetTransformation returns the output composite transformation.
func (r *NonLinear) GetTransformation() *transform.Combo {
	return r.combo
}

// CurrentGrid returns the grid stage being optimized, or nil before the first level.
func (r *NonLinear) CurrentGrid() *transform.Grid {
	if r.current < 0 {
		return nil
	}
	return r.combo.Stage(r.current)
}

// Parameters returns the clamped parameters of the last run.
func (r *NonLinear) Parameters() Parameters { return r.params }

// TotalTime returns the wall-clock duration of the last run.
func (r *NonLinear) TotalTime() time.Duration { return r.totalTime }

// LastSimilarity returns the metric value of the last full evaluation.
func (r *NonLinear) LastSimilarity() float64 { return r.lastSimilarity }

// LastSmoothness returns the bending energy of the last full evaluation with lambda > 0.
func (r *NonLinear) LastSmoothness() float64 { return r.lastSmoothness }

// Run clamps p and registers the target onto the reference, level by level.
func (r *NonLinear) Run(p Parameters) error {
	if r.reference == nil || r.target == nil {
		return ErrMissingImage
	}
	r.checkInputParameters(p)
	p = r.params

	r.logger.Info("starting non-linear registration",
		"levels", p.Levels, "steps", p.Steps, "stepsize", p.StepSize,
		"optimization", p.Optimization, "iterations", p.Iterations, "tolerance", p.Tolerance,
		"metric", p.Metric, "appendmode", p.AppendMode)

	r.pyramid = pyramid.New(r.reference, r.target, r.referenceWeight, r.targetWeight, p.Resolution)

	run := newProgress(r.logger)
	for level := p.Levels; level >= 1; level-- {
		r.initializeLevelAndGrid(level, p.Levels)

		g := r.CurrentGrid()
		spa := r.level.Spacing()
		finest := math.Min(spa[0], math.Min(spa[1], spa[2]))
		r.currentStepSize = p.StepSize * math.Pow(2, float64(p.Steps-1)) * finest

		r.logger.Info("beginning level", "level", level, "resolution", spa[0],
			"numdof", g.NumDOF(), "step", r.currentStepSize,
			"dim", r.currentDims, "cps", r.currentCPS)

		opt := optimizer.New(r, r.logger)
		position := g.ParameterVector()
		for step := p.Steps; step >= 1; step-- {
			r.logger.Debug("step", "step", step, "iterations", p.Iterations, "current", r.currentStepSize)
			opt.SetStepSize(r.currentStepSize)
			value := opt.Run(p.Optimization, position, p.Iterations, p.Tolerance)
			r.logger.Debug("step done", "step", step, "value", value,
				"similarity", r.lastSimilarity, "smoothness", r.lastSmoothness)
			r.currentStepSize /= 2
		}
		if err := g.SetParameterVector(position); err != nil {
			r.logger.Error("storing optimized parameters", "err", err)
		}
	}
	r.totalTime = run.elapsed()
	run.done("non-linear registration finished", "similarity", r.lastSimilarity)
	return nil
}

func (r *NonLinear) checkInputParameters(p Parameters) {
	r.params = p.Check()
	r.logger.Debug("parameters after clamping",
		"cps", r.params.CPS, "cpsrate", r.params.CPSRate, "lambda", r.params.Lambda,
		"windowsize", r.params.WindowSize, "appendmode", r.params.AppendMode)
}
