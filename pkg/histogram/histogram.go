// Package histogram maintains the joint intensity histogram of a reference and a target
// image and derives similarity metrics from it.
//
// Bin counts are integers, so removing and re-adding the same voxels restores the exact
// previous state. Localized re-evaluation goes through an Edit, which snapshots the bins
// and rolls them back unless explicitly committed.
package histogram

import (
	"fmt"
	"math"

	"ffdreg/internal/models"
)

// WeightMode selects which per-voxel weights scale histogram contributions.
type WeightMode int

const (
	NoWeights WeightMode = iota
	ReferenceWeights
	BothWeights
)

// WeightScale converts a product of [0,1] voxel weights into an integer count.
const WeightScale = 100

// JointHistogram counts (reference bin, target bin) pairs.
type JointHistogram struct {
	numBinsX int
	numBinsY int
	bins     []int64
	saved    []int64
	hasSaved bool
}

// New returns an empty histogram with numBins bins per axis.
func New(numBins int) *JointHistogram {
	return NewWithBins(numBins, numBins)
}

// NewWithBins returns an empty histogram with separate reference and target bin counts.
func NewWithBins(numBinsX, numBinsY int) *JointHistogram {
	return &JointHistogram{
		numBinsX: numBinsX,
		numBinsY: numBinsY,
		bins:     make([]int64, numBinsX*numBinsY),
		saved:    make([]int64, numBinsX*numBinsY),
	}
}

// NumBins returns the number of reference and target bins.
func (h *JointHistogram) NumBins() (int, int) {
	return h.numBinsX, h.numBinsY
}

// Count returns the count of bin (x,y).
func (h *JointHistogram) Count(x, y int) int64 {
	return h.bins[y*h.numBinsX+x]
}

// NumSamples returns the sum of all bins.
func (h *JointHistogram) NumSamples() int64 {
	var n int64
	for _, c := range h.bins {
		n += c
	}
	return n
}

// Reset zeroes every bin.
func (h *JointHistogram) Reset() {
	for i := range h.bins {
		h.bins[i] = 0
	}
}

// Equal reports whether both histograms have identical bins.
func (h *JointHistogram) Equal(o *JointHistogram) bool {
	if h.numBinsX != o.numBinsX || h.numBinsY != o.numBinsY {
		return false
	}
	for i, c := range h.bins {
		if o.bins[i] != c {
			return false
		}
	}
	return true
}

// Clone returns a copy of the current bins without the backup.
func (h *JointHistogram) Clone() *JointHistogram {
	c := NewWithBins(h.numBinsX, h.numBinsY)
	copy(c.bins, h.bins)
	return c
}

func (h *JointHistogram) bin(value float64, numBins int) int {
	b := int(math.Floor(value + 0.5))
	if b < 0 || math.IsNaN(value) {
		return 0
	}
	if b >= numBins {
		return numBins - 1
	}
	return b
}

// WeightedFillHistogram adds factor times each voxel's contribution over region bounds.
// ref and target hold intensities already scaled to bin units. With weights active each
// contribution is round(w1*w2*WeightScale) (w2 only in BothWeights mode), otherwise 1.
// reset clears all bins first.
func (h *JointHistogram) WeightedFillHistogram(ref, target, weight1, weight2 []float64, mode WeightMode,
	factor int, reset bool, dims [3]int, bounds models.Bounds) {

	if reset {
		h.Reset()
	}
	bounds = bounds.Clip(dims)
	if bounds.Empty() {
		return
	}
	if mode >= ReferenceWeights && weight1 == nil {
		mode = NoWeights
	}
	if mode == BothWeights && weight2 == nil {
		mode = ReferenceWeights
	}

	slice := dims[0] * dims[1]
	for k := bounds[4]; k <= bounds[5]; k++ {
		for j := bounds[2]; j <= bounds[3]; j++ {
			offset := k*slice + j*dims[0]
			for i := bounds[0]; i <= bounds[1]; i++ {
				idx := offset + i
				contribution := int64(factor)
				switch mode {
				case ReferenceWeights:
					contribution *= int64(math.Round(weight1[idx] * WeightScale))
				case BothWeights:
					contribution *= int64(math.Round(weight1[idx] * weight2[idx] * WeightScale))
				}
				if contribution == 0 {
					continue
				}
				x := h.bin(ref[idx], h.numBinsX)
				y := h.bin(target[idx], h.numBinsY)
				h.bins[y*h.numBinsX+x] += contribution
			}
		}
	}
}

// Backup snapshots the bins.
func (h *JointHistogram) Backup() {
	copy(h.saved, h.bins)
	h.hasSaved = true
}

// Restore returns the bins to the last Backup. It fails when no backup was taken.
func (h *JointHistogram) Restore() error {
	if !h.hasSaved {
		return fmt.Errorf("histogram: restore without backup")
	}
	copy(h.bins, h.saved)
	return nil
}

// Edit is a reversible change to a histogram. Obtain one with Begin and always call
// Rollback (typically deferred); Rollback after Commit does nothing.
//
//	e := h.Begin()
//	defer e.Rollback()
//	... WeightedFillHistogram with factor -1 and +1 ...
//	v := h.ComputeMetric(kind)
type Edit struct {
	h    *JointHistogram
	done bool
}

// Begin snapshots the histogram and returns the edit guarding it.
func (h *JointHistogram) Begin() *Edit {
	h.Backup()
	return &Edit{h: h}
}

// Commit keeps the changes made since Begin.
func (e *Edit) Commit() {
	e.done = true
}

// Rollback restores the snapshot unless the edit was committed or already rolled back.
func (e *Edit) Rollback() {
	if e.done {
		return
	}
	e.done = true
	copy(e.h.bins, e.h.saved)
}
