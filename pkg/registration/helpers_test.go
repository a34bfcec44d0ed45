package registration

import (
	"io"
	"math"

	"github.com/charmbracelet/log"

	"ffdreg/internal/models"
	"ffdreg/pkg/histogram"
	"ffdreg/pkg/optimizer"
)

func quietLogger() *log.Logger {
	return NewLogger(io.Discard, log.WarnLevel)
}

func constantVolume(n int, spacing, value float64) *models.Volume {
	return models.NewVolumeFunc([3]int{n, n, n}, [3]float64{spacing, spacing, spacing},
		func(i, j, k int) float64 { return value })
}

// blobVolume holds a Gaussian of the given amplitude and sigma (mm) centred at c (mm)
func blobVolume(n int, spacing float64, c [3]float64, sigma, amplitude float64) *models.Volume {
	return models.NewVolumeFunc([3]int{n, n, n}, [3]float64{spacing, spacing, spacing},
		func(i, j, k int) float64 {
			x := float64(i)*spacing - c[0]
			y := float64(j)*spacing - c[1]
			z := float64(k)*spacing - c[2]
			return amplitude * math.Exp(-(x*x+y*y+z*z)/(2*sigma*sigma))
		})
}

// smallParameters keeps test runs short
func smallParameters() Parameters {
	p := DefaultParameters()
	p.Levels = 1
	p.Steps = 1
	p.Iterations = 5
	p.Optimization = optimizer.GradientDescent
	p.Metric = histogram.SSD
	return p
}

func newQuietRegistration(name string, ref, tgt *models.Volume) *NonLinear {
	r := New(name)
	r.SetLogger(quietLogger())
	r.SetReference(ref)
	r.SetTarget(tgt)
	return r
}
