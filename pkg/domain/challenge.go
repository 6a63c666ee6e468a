package domain

import (
	"fmt"
	"image"
)

// Unknown is the label for a region the classifier could not read.
const Unknown Label = "?"

// Label is the character a region was classified as, or Unknown.
type Label string

// IsDigit reports whether the label is a single concrete digit.
func (l Label) IsDigit() bool {
	return len(l) == 1 && l[0] >= '0' && l[0] <= '9'
}

// Region is a bounding box around one candidate character, in source-image pixels.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether the region has a positive area.
func (r Region) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// CenterX returns the horizontal centre of the region (integer division).
func (r Region) CenterX() int {
	return r.X + r.Width/2
}

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

func (r Region) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.Width, r.Height)
}

// RegionFromRect converts an image.Rectangle to a Region.
func RegionFromRect(rect image.Rectangle) Region {
	return Region{X: rect.Min.X, Y: rect.Min.Y, Width: rect.Dx(), Height: rect.Dy()}
}

// Classification pairs a region with the label assigned to it.
type Classification struct {
	Label  Label
	Region Region
}

// ChallengeImage is one downloaded challenge. Data holds the encoded bytes as
// served by the portal; Path is the temporary file backing it, if any.
type ChallengeImage struct {
	Path string
	Data []byte
}

// Source records who produced a resolved code.
type Source string

const (
	SourceAutomatic Source = "automatic"
	SourceHuman     Source = "human"
)

// ResolvedCode is the code submitted with the login form.
type ResolvedCode struct {
	Code   string
	Source Source
}
