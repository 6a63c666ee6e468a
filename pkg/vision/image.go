package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
)

// CropPadding is the horizontal margin added around a region before it is
// classified or stored.
const CropPadding = 3

// Decode reads an encoded challenge (PNG, JPEG, GIF, BMP, TIFF) as grayscale.
func Decode(data []byte) (*image.Gray, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode challenge: empty image")
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}
	return ToGray(img), nil
}

// ToGray converts any image to an *image.Gray with its origin at (0,0). Alpha
// is dropped and the stored colour kept, so a transparent background keeps
// its colour instead of turning black.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		if g.Bounds().Min == (image.Point{}) {
			return g
		}
		out := image.NewGray(image.Rect(0, 0, g.Bounds().Dx(), g.Bounds().Dy()))
		draw.Draw(out, out.Bounds(), g, g.Bounds().Min, draw.Src)
		return out
	}

	src := imaging.Clone(img)
	out := image.NewGray(src.Bounds())
	for i := range out.Pix {
		p := src.Pix[i*4 : i*4+3 : i*4+3]
		out.Pix[i] = uint8((19595*uint32(p[0]) + 38470*uint32(p[1]) + 7471*uint32(p[2]) + 1<<15) >> 16)
	}
	return out
}

// CropColumn returns the full-height strip around r, widened by pad pixels on
// each side and clamped to the image.
func CropColumn(img *image.Gray, r image.Rectangle, pad int) *image.Gray {
	b := img.Bounds()
	x0 := max(b.Min.X, r.Min.X-pad)
	x1 := min(b.Max.X, r.Max.X+pad)
	if x1 <= x0 {
		return image.NewGray(image.Rect(0, 0, 0, 0))
	}
	return ToGray(img.SubImage(image.Rect(x0, b.Min.Y, x1, b.Max.Y)))
}
