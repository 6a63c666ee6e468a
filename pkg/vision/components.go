package vision

import (
	"image"
)

// ExternalBoxes returns the bounding box of every 8-connected foreground
// component that is not enclosed by another component. A component is external
// when it touches the image border or is 4-adjacent to background reachable
// from the border; blobs sitting inside the hole of a "0" or "8" are skipped.
func ExternalBoxes(mask *image.Gray) []image.Rectangle {
	b := mask.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	fg := func(x, y int) bool {
		return mask.Pix[mask.PixOffset(b.Min.X+x, b.Min.Y+y)] != off
	}

	outside := outerBackground(w, h, fg)
	labels := make([]int, w*h)
	var boxes []image.Rectangle
	var queue []image.Point

	for sy := 0; sy < h; sy++ {
		for sx := 0; sx < w; sx++ {
			if !fg(sx, sy) || labels[sy*w+sx] != 0 {
				continue
			}

			label := len(boxes) + 1
			labels[sy*w+sx] = label
			queue = append(queue[:0], image.Pt(sx, sy))
			minX, minY, maxX, maxY := sx, sy, sx, sy
			external := false

			for len(queue) > 0 {
				p := queue[len(queue)-1]
				queue = queue[:len(queue)-1]

				minX, maxX = min(minX, p.X), max(maxX, p.X)
				minY, maxY = min(minY, p.Y), max(maxY, p.Y)

				if !external {
					external = touchesOutside(p, w, h, outside)
				}

				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := p.X+dx, p.Y+dy
						if nx < 0 || ny < 0 || nx >= w || ny >= h {
							continue
						}
						if fg(nx, ny) && labels[ny*w+nx] == 0 {
							labels[ny*w+nx] = label
							queue = append(queue, image.Pt(nx, ny))
						}
					}
				}
			}

			rect := image.Rect(minX, minY, maxX+1, maxY+1)
			if !external {
				rect = image.Rectangle{}
			}
			boxes = append(boxes, rect)
		}
	}

	out := boxes[:0]
	for _, r := range boxes {
		if !r.Empty() {
			out = append(out, r)
		}
	}
	return out
}

// outerBackground flood-fills background pixels 4-connected to the border.
func outerBackground(w, h int, fg func(x, y int) bool) []bool {
	outside := make([]bool, w*h)
	var queue []image.Point

	seed := func(x, y int) {
		if !fg(x, y) && !outside[y*w+x] {
			outside[y*w+x] = true
			queue = append(queue, image.Pt(x, y))
		}
	}
	for x := 0; x < w; x++ {
		seed(x, 0)
		seed(x, h-1)
	}
	for y := 0; y < h; y++ {
		seed(0, y)
		seed(w-1, y)
	}

	for len(queue) > 0 {
		p := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		for _, d := range [4]image.Point{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			nx, ny := p.X+d.X, p.Y+d.Y
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			seed(nx, ny)
		}
	}
	return outside
}

func touchesOutside(p image.Point, w, h int, outside []bool) bool {
	if p.X == 0 || p.Y == 0 || p.X == w-1 || p.Y == h-1 {
		return true
	}
	return outside[p.Y*w+p.X-1] || outside[p.Y*w+p.X+1] ||
		outside[(p.Y-1)*w+p.X] || outside[(p.Y+1)*w+p.X]
}
