package imaging

import (
	"math"
	"sort"
)

// contour is a closed boundary polygon in pixel coordinates.
type contour []Point

// 8-neighborhood in clockwise order (y grows downward), starting east.
var neighborX = [8]int{1, 1, 0, -1, -1, -1, 0, 1}
var neighborY = [8]int{0, 1, 1, 1, 0, -1, -1, -1}

// externalContours returns the outer boundary of every 8-connected component
// of set pixels, dropping boundaries that lie inside a larger one.
// Results are sorted by enclosed area, largest first.
func externalContours(edges *binaryImage) []contour {
	w, h := edges.w, edges.h
	labels := make([]int32, w*h)
	var contours []contour
	var queue []int
	next := int32(0)

	for start := 0; start < w*h; start++ {
		if !edges.pix[start] || labels[start] != 0 {
			continue
		}
		next++
		label := next

		// Flood the component so tracing only follows its own pixels.
		labels[start] = label
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := i%w, i/w
			for d := 0; d < 8; d++ {
				nx, ny := x+neighborX[d], y+neighborY[d]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if edges.pix[j] && labels[j] == 0 {
					labels[j] = label
					queue = append(queue, j)
				}
			}
		}

		// Raster order guarantees start is the top-left-most pixel of the component.
		contours = append(contours, traceBoundary(labels, w, h, start, label))
	}

	sort.SliceStable(contours, func(i, j int) bool {
		return contourArea(contours[i]) > contourArea(contours[j])
	})

	var external []contour
	for _, c := range contours {
		nested := false
		for _, outer := range external {
			if pointInPolygon(c[0], outer) {
				nested = true
				break
			}
		}
		if !nested {
			external = append(external, c)
		}
	}
	return external
}

// traceBoundary follows the outer border of a labeled component clockwise
// using Moore neighbor tracing.
func traceBoundary(labels []int32, w, h, start int, label int32) contour {
	inside := func(x, y int) bool {
		return x >= 0 && y >= 0 && x < w && y < h && labels[y*w+x] == label
	}

	sx, sy := start%w, start/w
	c := contour{{X: float64(sx), Y: float64(sy)}}

	// The west neighbor of the start pixel is background by construction.
	x, y := sx, sy
	searchFrom := 4
	firstMove := -1
	maxSteps := 4 * w * h

	for step := 0; step < maxSteps; step++ {
		move := -1
		for k := 0; k < 8; k++ {
			d := (searchFrom + k) % 8
			if inside(x+neighborX[d], y+neighborY[d]) {
				move = d
				break
			}
		}
		if move < 0 {
			return c // isolated pixel
		}
		if x == sx && y == sy {
			switch {
			case firstMove < 0:
				firstMove = move
			case move == firstMove:
				return c
			default:
				c = append(c, Point{X: float64(sx), Y: float64(sy)})
			}
		}

		x, y = x+neighborX[move], y+neighborY[move]
		if x != sx || y != sy {
			c = append(c, Point{X: float64(x), Y: float64(y)})
		}

		// Resume the sweep at the background pixel examined just before the move.
		if move%2 == 0 {
			searchFrom = (move + 6) % 8
		} else {
			searchFrom = (move + 5) % 8
		}
	}
	return c
}

// contourArea is the absolute shoelace area of a closed polygon.
func contourArea(c contour) float64 {
	if len(c) < 3 {
		return 0
	}
	var sum float64
	for i := range c {
		j := (i + 1) % len(c)
		sum += c[i].X*c[j].Y - c[j].X*c[i].Y
	}
	return math.Abs(sum) / 2
}

// arcLength is the perimeter of a closed polygon.
func arcLength(c contour) float64 {
	if len(c) < 2 {
		return 0
	}
	var sum float64
	for i := range c {
		sum += c[i].Dist(c[(i+1)%len(c)])
	}
	return sum
}

// pointInPolygon uses the even-odd rule.
func pointInPolygon(p Point, poly contour) bool {
	in := false
	for i, j := 0, len(poly)-1; i < len(poly); j, i = i, i+1 {
		a, b := poly[i], poly[j]
		if (a.Y > p.Y) != (b.Y > p.Y) &&
			p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			in = !in
		}
	}
	return in
}

// approxPolyClosed simplifies a closed contour with the Douglas–Peucker
// algorithm. The curve is first split at two mutually distant points, each
// half is simplified, and vertices that end up within epsilon of the line
// through their neighbors are dropped.
func approxPolyClosed(c contour, epsilon float64) contour {
	n := len(c)
	if n <= 3 {
		return append(contour(nil), c...)
	}

	a := farthestFrom(c, c[0])
	b := farthestFrom(c, c[a])
	if a == b {
		return contour{c[a]}
	}

	keep := make([]bool, n)
	keep[a], keep[b] = true, true
	simplifyChain(c, a, b, epsilon, keep)
	simplifyChain(c, b, a, epsilon, keep)

	// Walk from a so the output order follows the contour.
	var out contour
	for k := 0; k < n; k++ {
		i := (a + k) % n
		if keep[i] {
			out = append(out, c[i])
		}
	}
	return dropCollinear(out, epsilon)
}

func farthestFrom(c contour, p Point) int {
	best, bestDist := 0, -1.0
	for i, q := range c {
		if d := p.Dist(q); d > bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// simplifyChain marks the vertices kept on the chain from index i forward
// (wrapping) to index j.
func simplifyChain(c contour, i, j int, epsilon float64, keep []bool) {
	n := len(c)
	length := (j - i + n) % n
	if length < 2 {
		return
	}

	maxDist, split := -1.0, -1
	for k := 1; k < length; k++ {
		idx := (i + k) % n
		if d := lineDistance(c[idx], c[i], c[j]); d > maxDist {
			maxDist, split = d, idx
		}
	}
	if maxDist <= epsilon {
		return
	}
	keep[split] = true
	simplifyChain(c, i, split, epsilon, keep)
	simplifyChain(c, split, j, epsilon, keep)
}

func dropCollinear(poly contour, epsilon float64) contour {
	changed := true
	for changed && len(poly) > 3 {
		changed = false
		for i := 0; i < len(poly) && len(poly) > 3; i++ {
			prev := poly[(i-1+len(poly))%len(poly)]
			next := poly[(i+1)%len(poly)]
			if lineDistance(poly[i], prev, next) <= epsilon {
				poly = append(poly[:i], poly[i+1:]...)
				changed = true
				i--
			}
		}
	}
	return poly
}

// lineDistance is the distance from p to the infinite line through a and b,
// or to a itself when a and b coincide.
func lineDistance(p, a, b Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	norm := math.Hypot(dx, dy)
	if norm == 0 {
		return p.Dist(a)
	}
	return math.Abs(dx*(p.Y-a.Y)-dy*(p.X-a.X)) / norm
}
