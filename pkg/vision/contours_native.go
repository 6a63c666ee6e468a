//go:build !opencv

package vision

import (
	"image"
)

// boundingBoxes runs binarisation, erosion and external contour extraction.
func boundingBoxes(img *image.Gray) ([]image.Rectangle, error) {
	mask := Erode2x2(BinarizeInv(img, OtsuThreshold(img)))
	return ExternalBoxes(mask), nil
}
