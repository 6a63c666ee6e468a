//go:build opencv

package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// boundingBoxes runs Otsu thresholding, erosion and external contour
// extraction through OpenCV.
func boundingBoxes(img *image.Gray) ([]image.Rectangle, error) {
	src, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return nil, fmt.Errorf("convert image to mat: %w", err)
	}
	defer src.Close()

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(src, &thresh, 0, 255, gocv.ThresholdBinaryInv|gocv.ThresholdOtsu)

	kernel := gocv.Ones(2, 2, gocv.MatTypeCV8U)
	defer kernel.Close()

	eroded := gocv.NewMat()
	defer eroded.Close()
	gocv.Erode(thresh, &eroded, kernel)

	contours := gocv.FindContours(eroded, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	boxes := make([]image.Rectangle, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		boxes = append(boxes, gocv.BoundingRect(contours.At(i)))
	}
	return boxes, nil
}
