package interpolation

import (
	"math"

	"ffdreg/internal/models"
	"ffdreg/pkg/transform"
)

// Sample interpolates v trilinearly at physical point p. ok is false when p lies outside
// the volume.
func Sample(v *models.Volume, p transform.Point) (value float64, ok bool) {
	dims := v.Dims()
	spa := v.Spacing()
	var base [3]int
	var frac [3]float64
	for ia := 0; ia < 3; ia++ {
		x := p[ia] / spa[ia]
		if x < 0 || x > float64(dims[ia]-1) || math.IsNaN(x) {
			return 0, false
		}
		fl := math.Floor(x)
		base[ia] = int(fl)
		frac[ia] = x - fl
		if base[ia] == dims[ia]-1 {
			// exactly on the last plane
			if base[ia] > 0 {
				base[ia]--
				frac[ia] = 1
			}
		}
	}

	var next [3]int
	for ia := 0; ia < 3; ia++ {
		next[ia] = base[ia] + 1
		if next[ia] > dims[ia]-1 {
			next[ia] = dims[ia] - 1
		}
	}

	wx := [2]float64{1 - frac[0], frac[0]}
	wy := [2]float64{1 - frac[1], frac[1]}
	wz := [2]float64{1 - frac[2], frac[2]}
	xs := [2]int{base[0], next[0]}
	ys := [2]int{base[1], next[1]}
	zs := [2]int{base[2], next[2]}

	sum := 0.0
	for c := 0; c < 2; c++ {
		for b := 0; b < 2; b++ {
			w := wz[c] * wy[b]
			if w == 0 {
				continue
			}
			row := zs[c]*dims[0]*dims[1] + ys[b]*dims[0]
			sum += w * (wx[0]*v.Data[row+xs[0]] + wx[1]*v.Data[row+xs[1]])
		}
	}
	return sum, true
}

// Reslice fills dst by sampling src at tr(x) for every voxel x of dst. Voxels mapped
// outside src receive background.
func Reslice(src, dst *models.Volume, tr transform.Transformation, background float64) {
	ResliceWithBounds(src, dst, tr, models.FullBounds(dst.Dims()), background)
}

// ResliceWithBounds is Reslice restricted to a voxel region of dst.
func ResliceWithBounds(src, dst *models.Volume, tr transform.Transformation, bounds models.Bounds, background float64) {
	ResliceField(src, dst, nil, tr, bounds, background)
}

// ResliceField samples src at tr(W(x)) over a voxel region of dst, where W(x) is voxel x
// moved by prefix. A nil prefix is the identity; a nil tr is the identity. prefix must
// share the lattice of dst.
func ResliceField(src, dst *models.Volume, prefix *transform.DisplacementField, tr transform.Transformation,
	bounds models.Bounds, background float64) {

	spa := dst.Spacing()
	bounds = bounds.Clip(dst.Dims())
	for k := bounds[4]; k <= bounds[5]; k++ {
		for j := bounds[2]; j <= bounds[3]; j++ {
			for i := bounds[0]; i <= bounds[1]; i++ {
				var p transform.Point
				if prefix != nil {
					p = prefix.Position(i, j, k)
				} else {
					p = transform.VoxelPoint(i, j, k, spa)
				}
				if tr != nil {
					p = tr.TransformPoint(p)
				}
				value, ok := Sample(src, p)
				if !ok {
					value = background
				}
				dst.Data[dst.Index(i, j, k)] = value
			}
		}
	}
}
