package histogram

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Metric selects the similarity measure computed from the joint histogram. Every metric is
// expressed so that lower is better: SSD is returned as is, the others are negated.
type Metric int

const (
	// SSD is the mean squared difference of bin indices.
	SSD Metric = iota
	// CC is the squared correlation coefficient.
	CC
	// CR is the correlation ratio of target given reference.
	CR
	// MI is mutual information.
	MI
	// NMI is normalized mutual information (H(R)+H(T))/H(R,T).
	NMI
)

var metricNames = map[Metric]string{
	SSD: "ssd",
	CC:  "cc",
	CR:  "cr",
	MI:  "mi",
	NMI: "nmi",
}

func (m Metric) String() string {
	if s, ok := metricNames[m]; ok {
		return s
	}
	return fmt.Sprintf("metric(%d)", int(m))
}

// ParseMetric accepts the lowercase metric names.
func ParseMetric(s string) (Metric, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range metricNames {
		if name == s {
			return m, nil
		}
	}
	return SSD, fmt.Errorf("unknown similarity metric %q", s)
}

// IdealValue is the metric of two identical constant images.
func (m Metric) IdealValue() float64 {
	switch m {
	case CC, CR:
		return -1
	case NMI:
		return -2
	default:
		return 0
	}
}

// ComputeMetric evaluates the metric over the current bins. An empty histogram yields 0.
func (h *JointHistogram) ComputeMetric(m Metric) float64 {
	joint := make([]float64, len(h.bins))
	for i, c := range h.bins {
		joint[i] = float64(c)
	}
	total := floats.Sum(joint)
	if total <= 0 {
		return 0
	}
	floats.Scale(1/total, joint)

	px := make([]float64, h.numBinsX)
	py := make([]float64, h.numBinsY)
	for y := 0; y < h.numBinsY; y++ {
		for x := 0; x < h.numBinsX; x++ {
			p := joint[y*h.numBinsX+x]
			px[x] += p
			py[y] += p
		}
	}

	switch m {
	case SSD:
		sum := 0.0
		for y := 0; y < h.numBinsY; y++ {
			for x := 0; x < h.numBinsX; x++ {
				d := float64(x - y)
				sum += joint[y*h.numBinsX+x] * d * d
			}
		}
		return sum
	case CC:
		return -h.correlationSquared(joint, px, py)
	case CR:
		return -h.correlationRatio(joint, px, py)
	case MI:
		return -(stat.Entropy(px) + stat.Entropy(py) - stat.Entropy(joint))
	case NMI:
		hxy := stat.Entropy(joint)
		if hxy == 0 {
			return NMI.IdealValue()
		}
		return -(stat.Entropy(px) + stat.Entropy(py)) / hxy
	}
	return 0
}

func moments(p []float64) (mean, variance float64) {
	for i, v := range p {
		mean += float64(i) * v
	}
	for i, v := range p {
		d := float64(i) - mean
		variance += v * d * d
	}
	return mean, variance
}

func (h *JointHistogram) correlationSquared(joint, px, py []float64) float64 {
	mx, vx := moments(px)
	my, vy := moments(py)
	if vx == 0 && vy == 0 {
		return 1
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	cov := 0.0
	for y := 0; y < h.numBinsY; y++ {
		for x := 0; x < h.numBinsX; x++ {
			cov += joint[y*h.numBinsX+x] * (float64(x) - mx) * (float64(y) - my)
		}
	}
	return cov * cov / (vx * vy)
}

func (h *JointHistogram) correlationRatio(joint, px, py []float64) float64 {
	_, vy := moments(py)
	if vy == 0 {
		return 1
	}
	within := 0.0
	for x := 0; x < h.numBinsX; x++ {
		if px[x] == 0 {
			continue
		}
		mean, sq := 0.0, 0.0
		for y := 0; y < h.numBinsY; y++ {
			p := joint[y*h.numBinsX+x] / px[x]
			mean += p * float64(y)
			sq += p * float64(y) * float64(y)
		}
		within += px[x] * (sq - mean*mean)
	}
	return 1 - within/vy
}
