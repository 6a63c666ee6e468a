//go:build !opencv

package classifier

import (
	"image"
	"math"
)

// Fixed-point precision of the interpolation weights.
const (
	resizeCoefBits  = 11
	resizeCoefScale = 1 << resizeCoefBits
)

type linearTap struct {
	i0, i1 int
	c0, c1 int
}

// linearTaps maps each destination index to its two source neighbours using
// pixel-centre alignment. Indices past either edge are clamped with a zero
// weight on the missing neighbour.
func linearTaps(src, dst int) []linearTap {
	scale := float64(src) / float64(dst)
	taps := make([]linearTap, dst)
	for d := range taps {
		f := float32((float64(d)+0.5)*scale - 0.5)
		s := int(math.Floor(float64(f)))
		f -= float32(s)
		if s < 0 {
			s, f = 0, 0
		}
		if s >= src-1 {
			s, f = src-1, 0
		}
		taps[d] = linearTap{
			i0: s,
			i1: min(s+1, src-1),
			c0: int(math.RoundToEven(float64(1-f) * resizeCoefScale)),
			c1: int(math.RoundToEven(float64(f) * resizeCoefScale)),
		}
	}
	return taps
}

// resizeLinear scales src to w×h with two taps per axis and no low-pass
// filtering, rounding the fixed-point result to the nearest level.
func resizeLinear(src *image.Gray, w, h int) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if b.Empty() || w <= 0 || h <= 0 {
		return out
	}

	xs := linearTaps(b.Dx(), w)
	ys := linearTaps(b.Dy(), h)

	// Horizontal pass, one row per source line, kept at coefficient scale.
	rows := make([][]int, b.Dy())
	row := func(sy int) []int {
		if rows[sy] != nil {
			return rows[sy]
		}
		line := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+sy):]
		r := make([]int, w)
		for dx, t := range xs {
			r[dx] = int(line[t.i0])*t.c0 + int(line[t.i1])*t.c1
		}
		rows[sy] = r
		return r
	}

	const shift = 2 * resizeCoefBits
	for dy, t := range ys {
		r0, r1 := row(t.i0), row(t.i1)
		dst := out.Pix[dy*out.Stride:]
		for dx := 0; dx < w; dx++ {
			v := (r0[dx]*t.c0 + r1[dx]*t.c1 + 1<<(shift-1)) >> shift
			dst[dx] = uint8(min(max(v, 0), 255))
		}
	}
	return out
}
