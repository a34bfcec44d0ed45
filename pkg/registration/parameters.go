package registration

import (
	"ffdreg/pkg/histogram"
	"ffdreg/pkg/optimizer"
)

// Parameters configures a non-linear registration run. Out-of-range values are clamped by
// Check rather than rejected.
type Parameters struct {
	// Levels is the number of pyramid levels; level 1 is the finest
	Levels int
	// Steps is the number of step sizes tried per level, halving each time
	Steps int
	// StepSize is the base step in voxels of the finest axis
	StepSize float64
	// Iterations bounds the optimizer iterations per step
	Iterations int
	// Tolerance stops an optimizer call when an iteration improves less than this
	Tolerance float64
	// Optimization selects gradient descent or conjugate gradient
	Optimization optimizer.Method
	// Resolution scales the finest level spacing
	Resolution float64

	// Metric is the similarity measure
	Metric histogram.Metric
	// NumBins is the number of histogram bins per image
	NumBins int
	// WeightMode selects which weight volumes scale the histogram
	WeightMode histogram.WeightMode

	// CPS is the control-point spacing in mm at the finest level
	CPS float64
	// CPSRate multiplies the control-point spacing at each coarser level
	CPSRate float64
	// Lambda weighs the bending energy against similarity
	Lambda float64
	// WindowSize scales the spline support used for localized gradient evaluation
	WindowSize float64
	// AppendMode accumulates a new grid stage per level instead of refitting one grid
	AppendMode bool
}

// DefaultParameters returns the defaults used when an option is not given.
func DefaultParameters() Parameters {
	return Parameters{
		Levels:       3,
		Steps:        1,
		StepSize:     1.0,
		Iterations:   10,
		Tolerance:    0.001,
		Optimization: optimizer.ConjugateGradient,
		Resolution:   1.0,
		Metric:       histogram.NMI,
		NumBins:      64,
		WeightMode:   histogram.NoWeights,
		CPS:          20.0,
		CPSRate:      2.0,
		Lambda:       0.0,
		WindowSize:   1.0,
		AppendMode:   true,
	}
}

func frange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func irange(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Check returns a copy of p with every knob clamped to its valid range.
func (p Parameters) Check() Parameters {
	p.Levels = irange(p.Levels, 1, 5)
	p.Steps = irange(p.Steps, 1, 10)
	p.StepSize = frange(p.StepSize, 0.001, 10.0)
	p.Iterations = irange(p.Iterations, 1, 200)
	p.Tolerance = frange(p.Tolerance, 0.0, 0.5)
	p.Resolution = frange(p.Resolution, 1.0, 5.0)
	if p.Optimization != optimizer.GradientDescent {
		p.Optimization = optimizer.ConjugateGradient
	}
	if p.Metric < histogram.SSD || p.Metric > histogram.NMI {
		p.Metric = histogram.NMI
	}
	p.NumBins = irange(p.NumBins, 8, 1024)
	p.WeightMode = histogram.WeightMode(irange(int(p.WeightMode), 0, 2))

	p.CPS = frange(p.CPS, 0.1, 50.0)
	p.CPSRate = frange(p.CPSRate, 1.0, 2.0)
	p.Lambda = frange(p.Lambda, 0.0, 1.0)
	p.WindowSize = frange(p.WindowSize, 1.0, 2.0)
	return p
}
