// Package vision turns a grayscale challenge image into an ordered list of
// character regions.
//
// The pipeline is Otsu binarisation (inverted, strokes on), one 2×2 erosion pass,
// external contour extraction, then domain filtering: tiny boxes are dropped, the
// near-square separator glyph near the horizontal centre is suppressed, boxes wide
// enough to hold merged glyphs are split evenly, and the result is ordered left to
// right and capped. Steps one to three run in pure Go by default; building with
// `-tags opencv` swaps in a gocv implementation of the same three steps.
package vision
