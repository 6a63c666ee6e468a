package vision

import (
	"image"
)

const (
	on  uint8 = 255
	off uint8 = 0
)

// fltEpsilon is float32 machine epsilon; class weights below it are skipped.
const fltEpsilon = 1.1920929e-07

// OtsuThreshold returns the threshold that maximises between-class variance of
// the grayscale histogram.
func OtsuThreshold(img *image.Gray) uint8 {
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}

	var hist [256]float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y) : img.PixOffset(b.Min.X, y)+b.Dx()]
		for _, v := range row {
			hist[v]++
		}
	}

	scale := 1.0 / float64(total)
	mu := 0.0
	for i := range hist {
		hist[i] *= scale
		mu += float64(i) * hist[i]
	}

	var q1, mu1, maxSigma float64
	maxVal := 0
	for i := 0; i < 256; i++ {
		pi := hist[i]
		mu1 *= q1
		q1 += pi
		q2 := 1 - q1

		if min(q1, q2) < fltEpsilon || max(q1, q2) > 1-fltEpsilon {
			continue
		}

		mu1 = (mu1 + float64(i)*pi) / q1
		mu2 := (mu - q1*mu1) / q2
		sigma := q1 * q2 * (mu1 - mu2) * (mu1 - mu2)
		if sigma > maxSigma {
			maxSigma = sigma
			maxVal = i
		}
	}
	return uint8(maxVal)
}

// BinarizeInv returns a mask where pixels at or below the threshold are on.
// Challenge digits are dark on a light background, so this marks strokes.
func BinarizeInv(img *image.Gray, threshold uint8) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if img.GrayAt(b.Min.X+x, b.Min.Y+y).Y > threshold {
				out.Pix[out.PixOffset(x, y)] = off
			} else {
				out.Pix[out.PixOffset(x, y)] = on
			}
		}
	}
	return out
}

// Erode2x2 applies one erosion pass with a 2×2 structuring element anchored at
// its bottom-right cell: a pixel stays on only if it and its left, upper and
// upper-left neighbours are on. Neighbours outside the image do not erode.
func Erode2x2(mask *image.Gray) *image.Gray {
	b := mask.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))

	at := func(x, y int) bool {
		if x < 0 || y < 0 {
			return true
		}
		return mask.Pix[mask.PixOffset(b.Min.X+x, b.Min.Y+y)] != off
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if at(x, y) && at(x-1, y) && at(x, y-1) && at(x-1, y-1) {
				out.Pix[out.PixOffset(x, y)] = on
			}
		}
	}
	return out
}
