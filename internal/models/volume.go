package models

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Volume is a 3D scalar image stored as a flat array in x-fastest order.
type Volume struct {
	// Data is the 3D volume data as a 1D array, index z*Width*Height + y*Width + x
	Data []float64

	// Width is the number of voxels along x
	Width int

	// Height is the number of voxels along y
	Height int

	// Depth is the number of voxels along z
	Depth int

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize struct {
		X, Y, Z float64
	}
}

// NewVolume allocates a zero-filled volume with the given dimensions and voxel spacing.
func NewVolume(dims [3]int, spacing [3]float64) *Volume {
	v := &Volume{
		Data:   make([]float64, dims[0]*dims[1]*dims[2]),
		Width:  dims[0],
		Height: dims[1],
		Depth:  dims[2],
	}
	v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z = spacing[0], spacing[1], spacing[2]
	return v
}

// NewVolumeFunc builds a volume whose voxel (i,j,k) holds fn(i,j,k).
func NewVolumeFunc(dims [3]int, spacing [3]float64, fn func(i, j, k int) float64) *Volume {
	v := NewVolume(dims, spacing)
	for k := 0; k < dims[2]; k++ {
		for j := 0; j < dims[1]; j++ {
			for i := 0; i < dims[0]; i++ {
				v.Data[v.Index(i, j, k)] = fn(i, j, k)
			}
		}
	}
	return v
}

// Dims returns (Width, Height, Depth).
func (v *Volume) Dims() [3]int {
	return [3]int{v.Width, v.Height, v.Depth}
}

// Spacing returns the voxel size as an array.
func (v *Volume) Spacing() [3]float64 {
	return [3]float64{v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z}
}

// NumVoxels returns the total voxel count.
func (v *Volume) NumVoxels() int {
	return v.Width * v.Height * v.Depth
}

// Index converts voxel coordinates to a flat offset.
func (v *Volume) Index(i, j, k int) int {
	return k*v.Width*v.Height + j*v.Width + i
}

// At returns the value of voxel (i,j,k).
func (v *Volume) At(i, j, k int) float64 {
	return v.Data[v.Index(i, j, k)]
}

// Set assigns the value of voxel (i,j,k).
func (v *Volume) Set(i, j, k int, value float64) {
	v.Data[v.Index(i, j, k)] = value
}

// CopyStructure returns a zero-filled volume with the same geometry.
func (v *Volume) CopyStructure() *Volume {
	return NewVolume(v.Dims(), v.Spacing())
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := v.CopyStructure()
	copy(out.Data, v.Data)
	return out
}

// Range returns the minimum and maximum intensity.
func (v *Volume) Range() (min, max float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	return floats.Min(v.Data), floats.Max(v.Data)
}

// Extent returns the physical size (dim-1)*spacing along each axis.
func (v *Volume) Extent() [3]float64 {
	d, s := v.Dims(), v.Spacing()
	var e [3]float64
	for ia := 0; ia < 3; ia++ {
		e[ia] = float64(d[ia]-1) * s[ia]
	}
	return e
}

// SameGeometry reports whether two volumes share dimensions and spacing.
func (v *Volume) SameGeometry(o *Volume) bool {
	return v.Dims() == o.Dims() && v.Spacing() == o.Spacing()
}

func (v *Volume) String() string {
	return fmt.Sprintf("Volume[%dx%dx%d, spa=(%.3g,%.3g,%.3g)]",
		v.Width, v.Height, v.Depth, v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z)
}

// Bounds is an inclusive voxel region: imin, imax, jmin, jmax, kmin, kmax.
type Bounds [6]int

// FullBounds covers every voxel of a volume with the given dimensions.
func FullBounds(dims [3]int) Bounds {
	return Bounds{0, dims[0] - 1, 0, dims[1] - 1, 0, dims[2] - 1}
}

// Empty reports whether the region contains no voxels.
func (b Bounds) Empty() bool {
	return b[1] < b[0] || b[3] < b[2] || b[5] < b[4]
}

// NumVoxels returns the voxel count of the region.
func (b Bounds) NumVoxels() int {
	if b.Empty() {
		return 0
	}
	return (b[1] - b[0] + 1) * (b[3] - b[2] + 1) * (b[5] - b[4] + 1)
}

// Clip restricts the region to a volume with the given dimensions.
func (b Bounds) Clip(dims [3]int) Bounds {
	for ia := 0; ia < 3; ia++ {
		if b[2*ia] < 0 {
			b[2*ia] = 0
		}
		if b[2*ia+1] > dims[ia]-1 {
			b[2*ia+1] = dims[ia] - 1
		}
	}
	return b
}

// Contains reports whether voxel (i,j,k) lies inside the region.
func (b Bounds) Contains(i, j, k int) bool {
	return i >= b[0] && i <= b[1] && j >= b[2] && j <= b[3] && k >= b[4] && k <= b[5]
}

// Expand grows the region so that it includes voxel (i,j,k). An empty region becomes that voxel.
func (b Bounds) Expand(i, j, k int) Bounds {
	if b.Empty() {
		return Bounds{i, i, j, j, k, k}
	}
	c := [3]int{i, j, k}
	for ia := 0; ia < 3; ia++ {
		if c[ia] < b[2*ia] {
			b[2*ia] = c[ia]
		}
		if c[ia] > b[2*ia+1] {
			b[2*ia+1] = c[ia]
		}
	}
	return b
}

// Intersect returns the voxels common to both regions.
func (b Bounds) Intersect(o Bounds) Bounds {
	for ia := 0; ia < 3; ia++ {
		b[2*ia] = max(b[2*ia], o[2*ia])
		b[2*ia+1] = min(b[2*ia+1], o[2*ia+1])
	}
	return b
}

// EmptyBounds returns a region that contains nothing.
func EmptyBounds() Bounds {
	return Bounds{0, -1, 0, -1, 0, -1}
}
