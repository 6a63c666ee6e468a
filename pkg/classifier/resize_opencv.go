//go:build opencv

package classifier

import (
	"image"

	"gocv.io/x/gocv"
)

// resizeLinear scales src to w×h with OpenCV's bilinear interpolation.
func resizeLinear(src *image.Gray, w, h int) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, w, h))
	b := src.Bounds()
	if b.Empty() || w <= 0 || h <= 0 {
		return out
	}
	// The Mat is built straight from Pix, so it needs a packed origin-zero buffer.
	if b.Min != (image.Point{}) || src.Stride != b.Dx() {
		src = toGray(src)
	}

	mat, err := gocv.ImageGrayToMatGray(src)
	if err != nil {
		return out
	}
	defer mat.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(mat, &dst, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)

	img, err := dst.ToImage()
	if err != nil {
		return out
	}
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	return toGray(img)
}
