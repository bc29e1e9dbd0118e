package imaging

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
)

// ErrNoDocument is returned when none of the largest contours reduces to four vertices.
var ErrNoDocument = errors.New("document boundary not found")

const (
	blurSize         = 5
	cannyLow         = 50
	cannyHigh        = 150
	contoursExamined = 5
	approxTolerance  = 0.02 // fraction of the contour perimeter

	// Larger photos are searched on a downscaled copy; corners are mapped back.
	maxDetectDimension = 1600
)

// DetectDocument locates the quadrilateral boundary of a photographed document.
func DetectDocument(img image.Image) (Quad, error) {
	work, scale := detectionCopy(img)

	gray := toGray(work)
	blurred := gaussianBlur(gray, blurSize)
	edges := dilate3x3(canny(blurred, cannyLow, cannyHigh))

	contours := externalContours(edges)
	if len(contours) > contoursExamined {
		contours = contours[:contoursExamined]
	}

	for _, c := range contours {
		approx := approxPolyClosed(c, approxTolerance*arcLength(c))
		if len(approx) != 4 {
			continue
		}
		var pts [4]Point
		origin := img.Bounds().Min
		for i, p := range approx {
			pts[i] = Point{
				X: p.X/scale + float64(origin.X),
				Y: p.Y/scale + float64(origin.Y),
			}
		}
		return OrderCorners(pts), nil
	}
	return Quad{}, ErrNoDocument
}

func detectionCopy(img image.Image) (image.Image, float64) {
	b := img.Bounds()
	longest := max(b.Dx(), b.Dy())
	if longest <= maxDetectDimension {
		return img, 1
	}
	scale := float64(maxDetectDimension) / float64(longest)
	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst, float64(w) / float64(b.Dx())
}

// Rectify warps the region bounded by q onto an upright rectangle sized by
// DestinationSize. Samples falling outside the source are black.
func Rectify(img image.Image, q Quad) (*image.RGBA, error) {
	w, h := DestinationSize(q)
	if w < 2 || h < 2 {
		return nil, ErrDegenerateQuad
	}

	dstCorners := [4]Point{
		{X: 0, Y: 0},
		{X: float64(w - 1), Y: 0},
		{X: float64(w - 1), Y: float64(h - 1)},
		{X: 0, Y: float64(h - 1)},
	}
	// Inverse mapping: each output pixel looks up its source location.
	inv, err := PerspectiveTransform(dstCorners, [4]Point(q))
	if err != nil {
		return nil, err
	}

	src := toRGBA(img)
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := inv.Apply(Point{X: float64(x), Y: float64(y)})
			out.SetRGBA(x, y, bilinear(src, p.X, p.Y))
		}
	}
	return out, nil
}

// Scan detects the document boundary and returns the rectified crop.
func Scan(img image.Image) (*image.RGBA, Quad, error) {
	q, err := DetectDocument(img)
	if err != nil {
		return nil, Quad{}, err
	}
	out, err := Rectify(img, q)
	if err != nil {
		return nil, q, err
	}
	return out, q, nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, img, b.Min, draw.Src)
	return rgba
}

func bilinear(src *image.RGBA, fx, fy float64) color.RGBA {
	b := src.Bounds()
	fx -= float64(b.Min.X)
	fy -= float64(b.Min.Y)
	if math.IsNaN(fx) || math.IsNaN(fy) || fx < -0.5 || fy < -0.5 ||
		fx > float64(b.Dx())-0.5 || fy > float64(b.Dy())-0.5 {
		return color.RGBA{A: 255}
	}

	x0, y0 := int(math.Floor(fx)), int(math.Floor(fy))
	tx, ty := fx-float64(x0), fy-float64(y0)

	sample := func(x, y int) [4]float64 {
		x = clampInt(x, 0, b.Dx()-1) + b.Min.X
		y = clampInt(y, 0, b.Dy()-1) + b.Min.Y
		c := src.RGBAAt(x, y)
		return [4]float64{float64(c.R), float64(c.G), float64(c.B), float64(c.A)}
	}
	c00, c10 := sample(x0, y0), sample(x0+1, y0)
	c01, c11 := sample(x0, y0+1), sample(x0+1, y0+1)

	var v [4]uint8
	for i := range v {
		top := c00[i]*(1-tx) + c10[i]*tx
		bottom := c01[i]*(1-tx) + c11[i]*tx
		v[i] = uint8(math.Round(top*(1-ty) + bottom*ty))
	}
	return color.RGBA{R: v[0], G: v[1], B: v[2], A: v[3]}
}
