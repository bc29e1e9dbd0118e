package imaging

import (
	"errors"
	"math"
)

// Point is a 2-D coordinate in pixels.
type Point struct {
	X, Y float64
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Quad is a document boundary ordered top-left, top-right, bottom-right, bottom-left.
type Quad [4]Point

// TopLeft etc. name the Quad slots.
const (
	TopLeft = iota
	TopRight
	BottomRight
	BottomLeft
)

// ErrDegenerateQuad is returned when corners cannot span a rectangle.
var ErrDegenerateQuad = errors.New("degenerate quadrilateral")

// OrderCorners arranges four points canonically. Top-left has the smallest
// x+y and bottom-right the largest. With d = y-x, top-right has the smallest d
// and bottom-left the largest.
func OrderCorners(pts [4]Point) Quad {
	var q Quad
	minSum, maxSum := 0, 0
	minDiff, maxDiff := 0, 0
	for i, p := range pts {
		if p.X+p.Y < pts[minSum].X+pts[minSum].Y {
			minSum = i
		}
		if p.X+p.Y > pts[maxSum].X+pts[maxSum].Y {
			maxSum = i
		}
		if p.Y-p.X < pts[minDiff].Y-pts[minDiff].X {
			minDiff = i
		}
		if p.Y-p.X > pts[maxDiff].Y-pts[maxDiff].X {
			maxDiff = i
		}
	}
	q[TopLeft] = pts[minSum]
	q[BottomRight] = pts[maxSum]
	q[TopRight] = pts[minDiff]
	q[BottomLeft] = pts[maxDiff]
	return q
}

// DestinationSize is the rectified output size: the longer of each pair of
// opposing edges, truncated to whole pixels.
func DestinationSize(q Quad) (width, height int) {
	widthA := q[BottomRight].Dist(q[BottomLeft])
	widthB := q[TopRight].Dist(q[TopLeft])
	heightA := q[TopRight].Dist(q[BottomRight])
	heightB := q[TopLeft].Dist(q[BottomLeft])
	return max(int(widthA), int(widthB)), max(int(heightA), int(heightB))
}

// Homography is a 3x3 projective transform in row-major order.
type Homography [9]float64

// Apply maps p through the transform.
func (h Homography) Apply(p Point) Point {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	return Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}
}

// PerspectiveTransform solves for the homography mapping each src[i] to dst[i].
func PerspectiveTransform(src, dst [4]Point) (Homography, error) {
	// Eight unknowns with h[8] fixed at 1.
	var a [8][9]float64
	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		a[2*i] = [9]float64{x, y, 1, 0, 0, 0, -x * u, -y * u, u}
		a[2*i+1] = [9]float64{0, 0, 0, x, y, 1, -x * v, -y * v, v}
	}

	for col := 0; col < 8; col++ {
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return Homography{}, ErrDegenerateQuad
		}
		a[col], a[pivot] = a[pivot], a[col]

		for r := 0; r < 8; r++ {
			if r == col {
				continue
			}
			f := a[r][col] / a[col][col]
			for c := col; c < 9; c++ {
				a[r][c] -= f * a[col][c]
			}
		}
	}

	var h Homography
	for i := 0; i < 8; i++ {
		h[i] = a[i][8] / a[i][i]
	}
	h[8] = 1
	return h, nil
}
