package vision

import (
	"fmt"
	"image"
	"sort"

	"github.com/obsgrade/obsgrade/pkg/domain"
)

// Segmenter splits a challenge image into character regions.
type Segmenter struct {
	params Params
}

// NewSegmenter creates a segmenter. Zero-valued params fall back to DefaultParams.
func NewSegmenter(params Params) *Segmenter {
	if params == (Params{}) {
		params = DefaultParams()
	}
	return &Segmenter{params: params}
}

// Params returns the thresholds in use.
func (s *Segmenter) Params() Params {
	return s.params
}

// Segment returns at most MaxRegions regions ordered left to right. An empty
// result means no automatic recognition is possible; it is not an error. The
// error return is reserved for contour backends that can fail (OpenCV).
func (s *Segmenter) Segment(img *image.Gray) ([]domain.Region, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, nil
	}

	boxes, err := boundingBoxes(img)
	if err != nil {
		return nil, fmt.Errorf("extract contours: %w", err)
	}

	return s.Regions(boxes, img.Bounds().Dx()), nil
}

// Regions applies the filter, split and ordering rules to raw bounding boxes
// found in an image of the given width.
func (s *Segmenter) Regions(boxes []image.Rectangle, imgWidth int) []domain.Region {
	p := s.params
	centerX := imgWidth / 2

	regions := make([]domain.Region, 0, len(boxes))
	for _, box := range boxes {
		r := domain.RegionFromRect(box)
		if !r.Valid() || r.Height < p.MinHeight {
			continue
		}

		if s.isSeparator(r, centerX) {
			continue
		}

		regions = append(regions, s.split(r)...)
	}

	sort.SliceStable(regions, func(i, j int) bool {
		if regions[i].X != regions[j].X {
			return regions[i].X < regions[j].X
		}
		return regions[i].Y < regions[j].Y
	})

	if len(regions) > p.MaxRegions {
		regions = regions[:p.MaxRegions]
	}
	return regions
}

// isSeparator reports whether r looks like the "+" glyph printed between digit
// groups: small, near-square and close to the horizontal centre.
func (s *Segmenter) isSeparator(r domain.Region, centerX int) bool {
	p := s.params
	aspect := float64(r.Width) / float64(r.Height)
	nearCenter := abs(r.CenterX()-centerX) < p.SeparatorRadius
	return nearCenter && r.Height < p.SeparatorMaxHeight &&
		aspect > p.SeparatorMinAspect && aspect < p.SeparatorMaxAspect
}

// split divides a box wide enough to hold merged glyphs into equal columns.
func (s *Segmenter) split(r domain.Region) []domain.Region {
	p := s.params
	parts := 1
	switch {
	case r.Width > p.TripleSplitWidth:
		parts = 3
	case r.Width > p.SplitWidth:
		parts = 2
	}
	if parts == 1 {
		return []domain.Region{r}
	}

	w := r.Width / parts
	out := make([]domain.Region, parts)
	for i := range out {
		out[i] = domain.Region{X: r.X + i*w, Y: r.Y, Width: w, Height: r.Height}
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
