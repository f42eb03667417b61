// Package render draws bounding boxes or crosshairs with collision-avoiding
// label placement, ported from
// original_source/scripts/fuzzycode_steps/bbox_visualizer.py.
package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Mode selects how a detection is drawn.
type Mode string

const (
	ModeBoundingBox Mode = "bbox"
	ModeCrosshair   Mode = "crosshair"
)

// Rect is a pixel-space axis-aligned rectangle, x1<=x2, y1<=y2.
type Rect struct{ X1, Y1, X2, Y2 int }

func (r Rect) center() (float64, float64) {
	return float64(r.X1+r.X2) / 2, float64(r.Y1+r.Y2) / 2
}

// palette mirrors the reference's bright, distinct 8-color cycle.
var palette = []color.RGBA{
	{0xFF, 0x00, 0x00, 0xFF},
	{0x00, 0xFF, 0x00, 0xFF},
	{0xFF, 0xFF, 0x00, 0xFF},
	{0x00, 0x00, 0xFF, 0xFF},
	{0xFF, 0x00, 0xFF, 0xFF},
	{0x00, 0xFF, 0xFF, 0xFF},
	{0xFF, 0x80, 0x00, 0xFF},
	{0x80, 0x00, 0xFF, 0xFF},
}

const clusterDistance = 80.0

// Render draws every box from boxes (already converted to pixel rects) onto
// a copy of src and returns the annotated image.
func Render(src image.Image, boxes []Rect, mode Mode) image.Image {
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	width, height := bounds.Dx(), bounds.Dy()
	labels := optimizeAllLabelPositions(boxes, width, height)

	for idx, box := range boxes {
		c := palette[idx%len(palette)]
		cx, cy := box.center()
		lx, ly := labels[idx].x, labels[idx].y

		switch mode {
		case ModeCrosshair:
			drawCrosshair(dst, int(cx), int(cy), 20, c)
		default:
			drawRect(dst, box, 3, c)
		}

		drawLine(dst, int(lx), int(ly), int(cx), int(cy), c)

		label := itoa(idx + 1)
		radius := labelRadius(label)
		drawFilledCircle(dst, int(lx), int(ly), radius, c)
		drawCircleOutline(dst, int(lx), int(ly), radius, color.White)
		drawCenteredText(dst, label, int(lx), int(ly), color.White)
	}

	return dst
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// --- geometry helpers, ported 1:1 from detect_clusters / rectangles_overlap / etc. ---

func rectanglesOverlap(a, b Rect) bool {
	return !(a.X2 < b.X1 || b.X2 < a.X1 || a.Y2 < b.Y1 || b.Y2 < a.Y1)
}

func pointInRect(x, y float64, r Rect) bool {
	return float64(r.X1) <= x && x <= float64(r.X2) && float64(r.Y1) <= y && y <= float64(r.Y2)
}

func ccw(ax, ay, bx, by, cx, cy float64) bool {
	return (cy-ay)*(bx-ax) > (by-ay)*(cx-ax)
}

func segmentsIntersect(p1x, p1y, p2x, p2y, p3x, p3y, p4x, p4y float64) bool {
	return ccw(p1x, p1y, p3x, p3y, p4x, p4y) != ccw(p2x, p2y, p3x, p3y, p4x, p4y) &&
		ccw(p1x, p1y, p2x, p2y, p3x, p3y) != ccw(p1x, p1y, p2x, p2y, p4x, p4y)
}

// lineIntersectsRect reports whether the segment (x1,y1)-(x2,y2) touches or
// crosses rect, matching line_intersects_rectangle's endpoint-inside check
// plus the four-edge intersection test.
func lineIntersectsRect(x1, y1, x2, y2 float64, rect Rect) bool {
	rx1, ry1, rx2, ry2 := float64(rect.X1), float64(rect.Y1), float64(rect.X2), float64(rect.Y2)
	if (rx1 <= x1 && x1 <= rx2 && ry1 <= y1 && y1 <= ry2) || (rx1 <= x2 && x2 <= rx2 && ry1 <= y2 && y2 <= ry2) {
		return true
	}
	edges := [4][4]float64{
		{rx1, ry1, rx2, ry1},
		{rx2, ry1, rx2, ry2},
		{rx2, ry2, rx1, ry2},
		{rx1, ry2, rx1, ry1},
	}
	for _, e := range edges {
		if segmentsIntersect(x1, y1, x2, y2, e[0], e[1], e[2], e[3]) {
			return true
		}
	}
	return false
}

func detectClusters(boxes []Rect) [][]int {
	var clusters [][]int
	assigned := make([]bool, len(boxes))

	for i := range boxes {
		if assigned[i] {
			continue
		}
		cluster := []int{i}
		assigned[i] = true
		cx1, cy1 := boxes[i].center()

		for j := range boxes {
			if assigned[j] || i == j {
				continue
			}
			cx2, cy2 := boxes[j].center()
			d := math.Hypot(cx1-cx2, cy1-cy2)
			if d < clusterDistance {
				cluster = append(cluster, j)
				assigned[j] = true
			}
		}
		if len(cluster) > 1 {
			clusters = append(clusters, cluster)
		}
	}
	return clusters
}

func clusterBoundary(indices []int, boxes []Rect) Rect {
	r := boxes[indices[0]]
	for _, i := range indices[1:] {
		b := boxes[i]
		if b.X1 < r.X1 {
			r.X1 = b.X1
		}
		if b.Y1 < r.Y1 {
			r.Y1 = b.Y1
		}
		if b.X2 > r.X2 {
			r.X2 = b.X2
		}
		if b.Y2 > r.Y2 {
			r.Y2 = b.Y2
		}
	}
	return r
}

func labelRadius(label string) int {
	textWidth := len(label) * 8
	textHeight := 12
	r := textWidth
	if textHeight > r {
		r = textHeight
	}
	r = r/2 + 3
	if r < 15 {
		r = 15
	}
	return r
}

type point struct{ x, y float64 }

// findSmartLabelPosition is the ring-search with penalty scoring, ported
// from find_smart_label_position.
func findSmartLabelPosition(boxIdx int, boxes []Rect, placed []point, placedSet []bool, width, height int, clusters [][]int) point {
	box := boxes[boxIdx]
	cx, cy := box.center()

	inCluster := false
	var boundary Rect
	for _, cluster := range clusters {
		for _, i := range cluster {
			if i == boxIdx {
				inCluster = true
				boundary = clusterBoundary(cluster, boxes)
			}
		}
		if inCluster {
			break
		}
	}

	var distances []float64
	if inCluster {
		distances = []float64{80, 120, 160, 200, 250, 300}
	} else {
		distances = []float64{40, 60, 80, 120, 160}
	}

	var bestPos point
	haveBest := false
	minPenalty := math.Inf(1)

	const margin = 30.0
	for _, dist := range distances {
		for a := 0; a < 24; a++ {
			angle := float64(a) * 15
			rad := angle * math.Pi / 180
			lx := cx + dist*math.Cos(rad)
			ly := cy + dist*math.Sin(rad)

			lx = math.Max(margin, math.Min(lx, float64(width)-margin))
			ly = math.Max(margin, math.Min(ly, float64(height)-margin))

			labelR := float64(labelRadius("1"))
			penalty := 0.0

			for i, other := range boxes {
				if i == boxIdx {
					continue
				}
				if lineIntersectsRect(cx, cy, lx, ly, other) {
					penalty += 2000
				}
				if pointInRect(lx, ly, other) {
					penalty += 1500
				}
				labelRect := Rect{int(lx - labelR), int(ly - labelR), int(lx + labelR), int(ly + labelR)}
				if rectanglesOverlap(labelRect, other) {
					area := float64((other.X2 - other.X1) * (other.Y2 - other.Y1))
					p := area / 50
					if p > 800 {
						p = 800
					}
					penalty += p
				}
			}

			for i, pl := range placed {
				if !placedSet[i] {
					continue
				}
				otherR := float64(labelRadius("1"))
				d := math.Hypot(lx-pl.x, ly-pl.y)
				minDist := labelR + otherR + 15
				if d < minDist {
					penalty += (minDist - d) * 15
				}
			}

			if inCluster {
				ccx, ccy := boundary.center()
				toCenter := math.Hypot(ccx-cx, ccy-cy)
				toLabelFromCenter := math.Hypot(ccx-lx, ccy-ly)
				if toLabelFromCenter < toCenter {
					penalty += 300
				} else {
					penalty -= 50
				}
			}

			actualDist := math.Hypot(lx-cx, ly-cy)
			if inCluster {
				penalty += actualDist * 0.02
			} else {
				penalty += actualDist * 0.1
			}

			const edgeMargin = 40.0
			if lx < edgeMargin {
				penalty += (edgeMargin - lx) * 3
			}
			if lx > float64(width)-edgeMargin {
				penalty += (lx - (float64(width) - edgeMargin)) * 3
			}
			if ly < edgeMargin {
				penalty += (edgeMargin - ly) * 3
			}
			if ly > float64(height)-edgeMargin {
				penalty += (ly - (float64(height) - edgeMargin)) * 3
			}

			if inCluster {
				left, right, top, bottom := float64(boundary.X1), float64(boundary.X2), float64(boundary.Y1), float64(boundary.Y2)
				switch {
				case cx-left < 20 && lx < cx:
					penalty -= 100
				case right-cx < 20 && lx > cx:
					penalty -= 100
				case cy-top < 20 && ly < cy:
					penalty -= 100
				case bottom-cy < 20 && ly > cy:
					penalty -= 100
				}
			}

			if penalty < minPenalty {
				minPenalty = penalty
				bestPos = point{lx, ly}
				haveBest = true
			}
		}
	}

	if !haveBest || minPenalty > 1000 {
		fallbacks := []point{
			{60, 60},
			{float64(width) - 60, 60},
			{60, float64(height) - 60},
			{float64(width) - 60, float64(height) - 60},
			{float64(width) / 2, 60},
			{float64(width) / 2, float64(height) - 60},
			{60, float64(height) / 2},
			{float64(width) - 60, float64(height) / 2},
		}
		for _, fp := range fallbacks {
			intersects := false
			for i, other := range boxes {
				if i == boxIdx {
					continue
				}
				if lineIntersectsRect(cx, cy, fp.x, fp.y, other) {
					intersects = true
					break
				}
			}
			if intersects {
				continue
			}
			conflict := false
			for i, pl := range placed {
				if !placedSet[i] {
					continue
				}
				if math.Hypot(fp.x-pl.x, fp.y-pl.y) < 60 {
					conflict = true
					break
				}
			}
			if !conflict {
				return fp
			}
		}
	}

	if haveBest {
		return bestPos
	}
	return point{cx + 100, cy - 100}
}

func optimizeAllLabelPositions(boxes []Rect, width, height int) []point {
	n := len(boxes)
	positions := make([]point, n)
	placedSet := make([]bool, n)

	clusters := detectClusters(boxes)

	type prio struct {
		idx    int
		grp    int
		area   int
	}
	order := make([]prio, n)
	for i, b := range boxes {
		area := (b.X2 - b.X1) * (b.Y2 - b.Y1)
		grp := 1
		for _, c := range clusters {
			for _, ci := range c {
				if ci == i {
					grp = 0
				}
			}
		}
		order[i] = prio{i, grp, area}
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if order[j].grp < order[i].grp || (order[j].grp == order[i].grp && order[j].area < order[i].area) {
				order[i], order[j] = order[j], order[i]
			}
		}
	}

	for _, o := range order {
		pos := findSmartLabelPosition(o.idx, boxes, positions, placedSet, width, height, clusters)
		positions[o.idx] = pos
		placedSet[o.idx] = true
	}
	return positions
}

// --- drawing primitives (no ellipse/line support in stdlib image/draw) ---

func drawRect(dst *image.RGBA, r Rect, width int, c color.Color) {
	for w := 0; w < width; w++ {
		drawHLine(dst, r.X1-w, r.X2+w, r.Y1-w, c)
		drawHLine(dst, r.X1-w, r.X2+w, r.Y2+w, c)
		drawVLine(dst, r.X1-w, r.Y1-w, r.Y2+w, c)
		drawVLine(dst, r.X2+w, r.Y1-w, r.Y2+w, c)
	}
}

func drawHLine(dst *image.RGBA, x1, x2, y int, c color.Color) {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	for x := x1; x <= x2; x++ {
		dst.Set(x, y, c)
	}
}

func drawVLine(dst *image.RGBA, x, y1, y2 int, c color.Color) {
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	for y := y1; y <= y2; y++ {
		dst.Set(x, y, c)
	}
}

func drawCrosshair(dst *image.RGBA, cx, cy, size int, c color.Color) {
	drawHLine(dst, cx-size, cx+size, cy, c)
	drawVLine(dst, cx, cy-size, cy+size, c)
}

func drawLine(dst *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		dst.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func drawFilledCircle(dst *image.RGBA, cx, cy, radius int, c color.Color) {
	r2 := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y <= r2 {
				dst.Set(cx+x, cy+y, c)
			}
		}
	}
}

func drawCircleOutline(dst *image.RGBA, cx, cy, radius int, c color.Color) {
	const width = 2
	outer := radius * radius
	inner := (radius - width) * (radius - width)
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			d := x*x + y*y
			if d <= outer && d >= inner {
				dst.Set(cx+x, cy+y, c)
			}
		}
	}
}

var textFace = basicfont.Face7x13

func drawCenteredText(dst *image.RGBA, text string, cx, cy int, c color.Color) {
	width := font.MeasureString(textFace, text).Ceil()
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: textFace,
		Dot:  fixed.P(cx-width/2, cy+4),
	}
	d.DrawString(text)
}
