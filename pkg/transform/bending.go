package transform

// Knot stencils over offsets -1, 0, +1 for derivative orders 0, 1 and 2 of a cubic B-spline
// evaluated at a control point.
var knotStencil = [3][3]float64{
	{1.0 / 6.0, 4.0 / 6.0, 1.0 / 6.0},
	{-0.5, 0, 0.5},
	{1, -2, 1},
}

// Derivative orders (x,y,z) of the six bending terms and their multiplicities.
var bendingTerms = [6]struct {
	order  [3]int
	factor float64
}{
	{[3]int{2, 0, 0}, 1},
	{[3]int{0, 2, 0}, 1},
	{[3]int{0, 0, 2}, 1},
	{[3]int{1, 1, 0}, 2},
	{[3]int{1, 0, 1}, 2},
	{[3]int{0, 1, 1}, 2},
}

// bendingAtKnot returns the thin-plate bending density at control point (a,b,c).
func (g *Grid) bendingAtKnot(a, b, c int) float64 {
	var stencil [3][3][3]float64
	for ia := 0; ia < 3; ia++ {
		for order := 0; order < 3; order++ {
			scale := 1.0
			for o := 0; o < order; o++ {
				scale /= g.spacing[ia]
			}
			for n := 0; n < 3; n++ {
				w := knotStencil[order][n]
				if g.mode == Linear && order == 0 {
					w = 0
					if n == 1 {
						w = 1
					}
				}
				stencil[ia][order][n] = w * scale
			}
		}
	}

	var idx [3][3]int
	center := [3]int{a, b, c}
	for ia := 0; ia < 3; ia++ {
		for n := 0; n < 3; n++ {
			v := center[ia] + n - 1
			if v < 0 {
				v = 0
			} else if v > g.dims[ia]-1 {
				v = g.dims[ia] - 1
			}
			idx[ia][n] = v
		}
	}

	e := 0.0
	for _, term := range bendingTerms {
		wx := stencil[0][term.order[0]]
		wy := stencil[1][term.order[1]]
		wz := stencil[2][term.order[2]]
		var deriv [3]float64
		for k := 0; k < 3; k++ {
			for j := 0; j < 3; j++ {
				wzy := wz[k] * wy[j]
				if wzy == 0 {
					continue
				}
				row := (idx[2][k]*g.dims[1] + idx[1][j]) * g.dims[0]
				for i := 0; i < 3; i++ {
					w := wzy * wx[i]
					if w == 0 {
						continue
					}
					cp := 3 * (row + idx[0][i])
					deriv[0] += w * g.params[cp]
					deriv[1] += w * g.params[cp+1]
					deriv[2] += w * g.params[cp+2]
				}
			}
		}
		e += term.factor * (deriv[0]*deriv[0] + deriv[1]*deriv[1] + deriv[2]*deriv[2])
	}
	return e
}

// GetTotalBendingEnergy approximates the bending energy of the deformation from its second
// derivatives at every control point, averaged over the lattice.
func (g *Grid) GetTotalBendingEnergy() float64 {
	sum := 0.0
	for c := 0; c < g.dims[2]; c++ {
		for b := 0; b < g.dims[1]; b++ {
			for a := 0; a < g.dims[0]; a++ {
				sum += g.bendingAtKnot(a, b, c)
			}
		}
	}
	return sum / float64(g.NumControlPoints())
}

// GetBendingEnergyAtControlPoint sums the bending density over the knots whose stencil
// includes control point cp, using the normalization of GetTotalBendingEnergy. Moving cp
// changes the total exactly as much as it changes this value.
func (g *Grid) GetBendingEnergyAtControlPoint(cp int) float64 {
	center := g.ControlPointCoordinates(cp)
	var lo, hi [3]int
	for ia := 0; ia < 3; ia++ {
		lo[ia] = max(center[ia]-1, 0)
		hi[ia] = min(center[ia]+1, g.dims[ia]-1)
	}
	sum := 0.0
	for c := lo[2]; c <= hi[2]; c++ {
		for b := lo[1]; b <= hi[1]; b++ {
			for a := lo[0]; a <= hi[0]; a++ {
				sum += g.bendingAtKnot(a, b, c)
			}
		}
	}
	return sum / float64(g.NumControlPoints())
}
