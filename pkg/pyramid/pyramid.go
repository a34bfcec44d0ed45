// Package pyramid prepares the per-resolution images of a multi-resolution registration:
// smoothed and resampled reference, target and weight volumes, the voxel bounds used for
// similarity evaluation, and the positions at which the target is looked up after the
// transformations that precede the one being optimized.
package pyramid

import (
	"math"

	"ffdreg/internal/models"
	"ffdreg/pkg/interpolation"
	"ffdreg/pkg/transform"
)

// Level is the image state of one pyramid level. Level 1 is the finest.
type Level struct {
	Level int

	Reference       *models.Volume
	Target          *models.Volume
	ReferenceWeight *models.Volume
	TargetWeight    *models.Volume

	// Bounds is the region of Reference used to compute similarity
	Bounds models.Bounds

	// Prefix holds, for every voxel of Reference, the displacement applied before the
	// transformation being optimized. nil means the identity.
	Prefix *transform.DisplacementField
}

// Dims returns the reference dimensions at this level.
func (l *Level) Dims() [3]int { return l.Reference.Dims() }

// Spacing returns the reference spacing at this level.
func (l *Level) Spacing() [3]float64 { return l.Reference.Spacing() }

// Pyramid builds levels from full-resolution inputs.
type Pyramid struct {
	reference, target             *models.Volume
	referenceWeight, targetWeight *models.Volume
	resolution                    float64
}

// New returns a pyramid over the given volumes. Weights may be nil. resolution scales the
// finest level spacing (1 keeps the input spacing).
func New(reference, target, referenceWeight, targetWeight *models.Volume, resolution float64) *Pyramid {
	if resolution < 1 {
		resolution = 1
	}
	return &Pyramid{
		reference:       reference,
		target:          target,
		referenceWeight: referenceWeight,
		targetWeight:    targetWeight,
		resolution:      resolution,
	}
}

// LevelSpacing returns base * resolution * 2^(level-1).
func LevelSpacing(base [3]float64, resolution float64, level int) [3]float64 {
	f := resolution * math.Pow(2, float64(level-1))
	return [3]float64{base[0] * f, base[1] * f, base[2] * f}
}

// InitializeLevel resamples the inputs for level lv and records where each reference voxel
// lands under tr. A nil or identity tr leaves Prefix nil.
func (p *Pyramid) InitializeLevel(lv int, tr transform.Transformation) *Level {
	l := &Level{Level: lv}
	l.Reference = Resample(p.reference, LevelSpacing(p.reference.Spacing(), p.resolution, lv))
	l.Target = Resample(p.target, LevelSpacing(p.target.Spacing(), p.resolution, lv))
	if p.referenceWeight != nil {
		l.ReferenceWeight = ResampleToGeometry(p.referenceWeight, l.Reference)
	}
	if p.targetWeight != nil {
		l.TargetWeight = ResampleToGeometry(p.targetWeight, l.Target)
	}
	l.Bounds = models.FullBounds(l.Reference.Dims())

	if tr != nil && !isIdentity(tr) {
		l.Prefix = transform.ComputeDisplacementField(tr, l.Reference.Dims(), l.Reference.Spacing())
	}
	return l
}

func isIdentity(tr transform.Transformation) bool {
	switch v := tr.(type) {
	case transform.Matrix:
		return v.IsIdentity()
	case *transform.Combo:
		return v.NumStages() == 0 && v.GetInitialTransformation().IsIdentity()
	}
	return false
}

// Resample smooths v to suppress aliasing and samples it on a lattice with the requested
// spacing covering the same physical extent.
func Resample(v *models.Volume, spacing [3]float64) *models.Volume {
	src := v.Spacing()
	if spacing == src {
		return v.Clone()
	}
	var sigma [3]float64
	var dims [3]int
	for ia := 0; ia < 3; ia++ {
		ratio := spacing[ia] / src[ia]
		if ratio > 1 {
			sigma[ia] = 0.5 * ratio
		}
		dims[ia] = int(float64(v.Dims()[ia]-1)*src[ia]/spacing[ia]) + 1
		if dims[ia] < 1 {
			dims[ia] = 1
		}
	}
	smoothed := Smooth(v, sigma)
	out := models.NewVolume(dims, spacing)
	interpolation.Reslice(smoothed, out, nil, 0)
	return out
}

// ResampleToGeometry samples v onto the lattice of like without smoothing.
func ResampleToGeometry(v, like *models.Volume) *models.Volume {
	if v.SameGeometry(like) {
		return v.Clone()
	}
	out := like.CopyStructure()
	interpolation.Reslice(v, out, nil, 0)
	return out
}

// Smooth convolves v with a separable Gaussian. sigma is given in voxels per axis; a zero
// sigma leaves that axis untouched. Borders are mirrored.
func Smooth(v *models.Volume, sigma [3]float64) *models.Volume {
	out := v.Clone()
	dims := v.Dims()
	stride := [3]int{1, dims[0], dims[0] * dims[1]}
	for ia := 0; ia < 3; ia++ {
		if sigma[ia] <= 0 || dims[ia] < 2 {
			continue
		}
		kernel := gaussianKernel(sigma[ia])
		radius := len(kernel) / 2
		line := make([]float64, dims[ia])
		// iterate over every line parallel to axis ia
		var other [2]int
		switch ia {
		case 0:
			other = [2]int{1, 2}
		case 1:
			other = [2]int{0, 2}
		default:
			other = [2]int{0, 1}
		}
		for b := 0; b < dims[other[1]]; b++ {
			for a := 0; a < dims[other[0]]; a++ {
				start := a*stride[other[0]] + b*stride[other[1]]
				for n := 0; n < dims[ia]; n++ {
					line[n] = out.Data[start+n*stride[ia]]
				}
				for n := 0; n < dims[ia]; n++ {
					sum := 0.0
					for t := -radius; t <= radius; t++ {
						sum += kernel[t+radius] * line[mirror(n+t, dims[ia])]
					}
					out.Data[start+n*stride[ia]] = sum
				}
			}
		}
	}
	return out
}

func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for t := -radius; t <= radius; t++ {
		w := math.Exp(-float64(t*t) / (2 * sigma * sigma))
		kernel[t+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

func mirror(n, size int) int {
	for n < 0 || n >= size {
		if n < 0 {
			n = -n
		}
		if n >= size {
			n = 2*size - n - 2
		}
	}
	return n
}
