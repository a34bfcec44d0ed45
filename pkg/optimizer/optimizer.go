// Package optimizer minimizes a scalar objective over a parameter vector with fixed-length
// steps along a descent direction. Steps that do not lower the objective are rejected, so
// the value of accepted iterates never increases.
package optimizer

import (
	"math"

	"github.com/charmbracelet/log"
	"gonum.org/v1/gonum/floats"
)

// Objective is evaluated by the optimizer.
type Objective interface {
	// Value returns the objective at position.
	Value(position []float64) float64
	// Gradient writes the gradient at position into grad and returns its norm.
	Gradient(position, grad []float64) float64
}

// Method selects the update scheme.
type Method int

const (
	GradientDescent Method = iota + 1
	ConjugateGradient
)

func (m Method) String() string {
	if m == GradientDescent {
		return "gradient descent"
	}
	return "conjugate gradient"
}

// ProgressCallback is called after every accepted iteration.
type ProgressCallback func(iteration int, value float64)

// Optimizer holds the objective and the current step length.
type Optimizer struct {
	objective Objective
	logger    *log.Logger
	stepSize  float64
	progress  ProgressCallback

	evaluations int
}

// New returns an optimizer for obj. A nil logger uses log.Default().
func New(obj Objective, logger *log.Logger) *Optimizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Optimizer{objective: obj, logger: logger, stepSize: 1}
}

// SetStepSize sets the length of every step, measured on the largest component.
func (o *Optimizer) SetStepSize(h float64) {
	o.stepSize = h
}

// StepSize returns the current step length.
func (o *Optimizer) StepSize() float64 {
	return o.stepSize
}

// SetProgressCallback installs fn, replacing any previous callback.
func (o *Optimizer) SetProgressCallback(fn ProgressCallback) {
	o.progress = fn
}

// Evaluations returns how many times Value has been called.
func (o *Optimizer) Evaluations() int {
	return o.evaluations
}

// Run dispatches to the requested method.
func (o *Optimizer) Run(m Method, position []float64, iterations int, tolerance float64) float64 {
	if m == GradientDescent {
		return o.ComputeGradientDescent(position, iterations, tolerance)
	}
	return o.ComputeConjugateGradient(position, iterations, tolerance)
}

func (o *Optimizer) value(position []float64) float64 {
	o.evaluations++
	return o.objective.Value(position)
}

// tryStep evaluates position + stepSize*direction/|direction|inf into trial.
func (o *Optimizer) tryStep(position, direction, trial []float64) (float64, bool) {
	scale := floats.Norm(direction, math.Inf(1))
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return 0, false
	}
	copy(trial, position)
	floats.AddScaled(trial, o.stepSize/scale, direction)
	return o.value(trial), true
}

// ComputeGradientDescent moves position along the negative gradient until an iteration
// improves the objective by less than tolerance or iterations are exhausted. position is
// updated in place and the final objective value returned.
func (o *Optimizer) ComputeGradientDescent(position []float64, iterations int, tolerance float64) float64 {
	n := len(position)
	grad := make([]float64, n)
	direction := make([]float64, n)
	trial := make([]float64, n)

	current := o.value(position)
	for iter := 1; iter <= iterations; iter++ {
		o.objective.Gradient(position, grad)
		copy(direction, grad)
		floats.Scale(-1, direction)

		next, ok := o.tryStep(position, direction, trial)
		if !ok || !(next < current) {
			o.logger.Debug("gradient descent stopped", "iteration", iter, "value", current, "rejected", next)
			break
		}
		improvement := current - next
		copy(position, trial)
		current = next
		o.report(iter, current)
		if improvement < tolerance {
			break
		}
	}
	// leave the objective synchronized with the returned position
	return o.value(position)
}

// ComputeConjugateGradient is ComputeGradientDescent with Polak-Ribiere conjugate
// directions. When a conjugate step is rejected the search restarts once along the
// steepest descent direction before giving up.
func (o *Optimizer) ComputeConjugateGradient(position []float64, iterations int, tolerance float64) float64 {
	n := len(position)
	grad := make([]float64, n)
	prevGrad := make([]float64, n)
	direction := make([]float64, n)
	trial := make([]float64, n)
	diff := make([]float64, n)

	current := o.value(position)
	havePrev := false
	for iter := 1; iter <= iterations; iter++ {
		o.objective.Gradient(position, grad)

		beta := 0.0
		if havePrev {
			denom := floats.Dot(prevGrad, prevGrad)
			if denom > 0 {
				floats.SubTo(diff, grad, prevGrad)
				beta = math.Max(0, floats.Dot(grad, diff)/denom)
			}
		}
		for i := range direction {
			if beta > 0 {
				direction[i] = -grad[i] + beta*direction[i]
			} else {
				direction[i] = -grad[i]
			}
		}

		next, ok := o.tryStep(position, direction, trial)
		if (!ok || !(next < current)) && beta > 0 {
			copy(direction, grad)
			floats.Scale(-1, direction)
			next, ok = o.tryStep(position, direction, trial)
		}
		if !ok || !(next < current) {
			o.logger.Debug("conjugate gradient stopped", "iteration", iter, "value", current, "rejected", next)
			break
		}

		improvement := current - next
		copy(position, trial)
		copy(prevGrad, grad)
		havePrev = true
		current = next
		o.report(iter, current)
		if improvement < tolerance {
			break
		}
	}
	return o.value(position)
}

func (o *Optimizer) report(iter int, value float64) {
	o.logger.Debug("iteration", "n", iter, "value", value, "step", o.stepSize)
	if o.progress != nil {
		o.progress(iter, value)
	}
}
