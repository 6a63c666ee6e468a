package vision

import (
	"fmt"
)

// Params tunes the region filter. The defaults match the portal's challenge
// format: three digits, optionally separated by a small "+" glyph.
type Params struct {
	// MaxRegions caps the number of regions returned.
	MaxRegions int `yaml:"max_regions" validate:"min=1"`
	// MinHeight drops boxes shorter than this (noise).
	MinHeight int `yaml:"min_height" validate:"min=0"`
	// SeparatorRadius is the distance from the horizontal image centre within
	// which a box may be the separator glyph.
	SeparatorRadius int `yaml:"separator_radius" validate:"min=0"`
	// SeparatorMaxHeight is the height below which a centred box may be the separator.
	SeparatorMaxHeight int `yaml:"separator_max_height" validate:"min=0"`
	// SeparatorMinAspect and SeparatorMaxAspect bound the separator's w/h ratio (exclusive).
	SeparatorMinAspect float64 `yaml:"separator_min_aspect"`
	SeparatorMaxAspect float64 `yaml:"separator_max_aspect"`
	// SplitWidth is the width above which a box holds two merged glyphs.
	SplitWidth int `yaml:"split_width" validate:"min=1"`
	// TripleSplitWidth is the width above which a box holds three merged glyphs.
	TripleSplitWidth int `yaml:"triple_split_width" validate:"min=1"`
}

// DefaultParams returns the thresholds tuned for the portal's challenges.
func DefaultParams() Params {
	return Params{
		MaxRegions:         3,
		MinHeight:          18,
		SeparatorRadius:    25,
		SeparatorMaxHeight: 22,
		SeparatorMinAspect: 0.7,
		SeparatorMaxAspect: 1.4,
		SplitWidth:         28,
		TripleSplitWidth:   45,
	}
}

// Validate checks the relationships the struct tags cannot express.
func (p Params) Validate() error {
	if p.TripleSplitWidth < p.SplitWidth {
		return fmt.Errorf("triple_split_width (%d) must not be below split_width (%d)", p.TripleSplitWidth, p.SplitWidth)
	}
	if p.SeparatorMaxAspect < p.SeparatorMinAspect {
		return fmt.Errorf("separator_max_aspect (%.2f) must not be below separator_min_aspect (%.2f)", p.SeparatorMaxAspect, p.SeparatorMinAspect)
	}
	return nil
}
