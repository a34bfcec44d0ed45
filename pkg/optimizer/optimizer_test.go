package optimizer

import (
	"io"
	"math"
	"testing"

	"github.com/charmbracelet/log"
)

// bowl is an anisotropic quadratic with its minimum at center
type bowl struct {
	center []float64
	scale  []float64
}

func (b *bowl) Value(position []float64) float64 {
	v := 0.0
	for i, x := range position {
		d := x - b.center[i]
		v += b.scale[i] * d * d
	}
	return v
}

func (b *bowl) Gradient(position, grad []float64) float64 {
	sq := 0.0
	for i, x := range position {
		grad[i] = 2 * b.scale[i] * (x - b.center[i])
		sq += grad[i] * grad[i]
	}
	return math.Sqrt(sq)
}

func newBowl() *bowl {
	return &bowl{
		center: []float64{1, -2, 0.5, 3},
		scale:  []float64{1, 4, 0.5, 2},
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

// TestMethodsDecreaseMonotonically verifies that accepted iterations never increase the value
func TestMethodsDecreaseMonotonically(t *testing.T) {
	for _, m := range []Method{GradientDescent, ConjugateGradient} {
		t.Run(m.String(), func(t *testing.T) {
			obj := newBowl()
			opt := New(obj, quietLogger())
			position := make([]float64, 4)
			start := obj.Value(position)

			var values []float64
			opt.SetProgressCallback(func(iter int, value float64) {
				values = append(values, value)
			})

			final := start
			for _, h := range []float64{1, 0.5, 0.25, 0.125, 0.0625, 0.03125, 0.015625} {
				opt.SetStepSize(h)
				final = opt.Run(m, position, 50, 0)
			}

			if len(values) == 0 {
				t.Fatal("Expected at least one accepted iteration")
			}
			prev := start
			for i, v := range values {
				if v >= prev {
					t.Fatalf("Iteration %d increased the value: %f after %f", i, v, prev)
				}
				prev = v
			}
			if final != obj.Value(position) {
				t.Errorf("Returned value %f does not match position value %f", final, obj.Value(position))
			}
			if final > 0.05 {
				t.Errorf("Expected convergence near the minimum, got %f at %v", final, position)
			}
		})
	}
}

// TestStepLength verifies that the largest component moves by exactly the step size
func TestStepLength(t *testing.T) {
	obj := newBowl()
	opt := New(obj, quietLogger())
	opt.SetStepSize(0.1)
	if opt.StepSize() != 0.1 {
		t.Fatalf("Expected step size 0.1, got %f", opt.StepSize())
	}

	position := make([]float64, 4)
	opt.ComputeGradientDescent(position, 1, 0)

	largest := 0.0
	for _, x := range position {
		largest = math.Max(largest, math.Abs(x))
	}
	if math.Abs(largest-0.1) > 1e-12 {
		t.Errorf("Expected the largest move to be 0.1, got %f", largest)
	}
}

// TestStopsAtMinimum verifies that a zero gradient leaves the position unchanged
func TestStopsAtMinimum(t *testing.T) {
	for _, m := range []Method{GradientDescent, ConjugateGradient} {
		obj := newBowl()
		opt := New(obj, nil)
		position := append([]float64(nil), obj.center...)

		calls := 0
		opt.SetProgressCallback(func(int, float64) { calls++ })
		value := opt.Run(m, position, 10, 0)

		if value != 0 || calls != 0 {
			t.Errorf("%v: expected no progress at the minimum, got value %f after %d iterations", m, value, calls)
		}
		for i := range position {
			if position[i] != obj.center[i] {
				t.Errorf("%v: position moved at the minimum", m)
			}
		}
		if opt.Evaluations() != 2 {
			t.Errorf("%v: expected 2 evaluations, got %d", m, opt.Evaluations())
		}
	}
}

// TestToleranceStopsEarly verifies that a small improvement ends the run
func TestToleranceStopsEarly(t *testing.T) {
	obj := newBowl()
	opt := New(obj, quietLogger())
	opt.SetStepSize(0.01)

	iterations := 0
	opt.SetProgressCallback(func(int, float64) { iterations++ })
	position := make([]float64, 4)
	opt.Run(GradientDescent, position, 100, 1e3)

	if iterations != 1 {
		t.Errorf("Expected the tolerance to stop after one iteration, got %d", iterations)
	}
}
