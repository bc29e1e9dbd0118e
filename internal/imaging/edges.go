package imaging

import (
	"image"
	"math"
)

// grayImage is a single-channel float image with intensities in [0, 255].
type grayImage struct {
	w, h int
	pix  []float64
}

func newGray(w, h int) *grayImage {
	return &grayImage{w: w, h: h, pix: make([]float64, w*h)}
}

func (g *grayImage) at(x, y int) float64 {
	x = clampInt(x, 0, g.w-1)
	y = clampInt(y, 0, g.h-1)
	return g.pix[y*g.w+x]
}

// toGray converts with the ITU-R BT.601 luma weights.
func toGray(img image.Image) *grayImage {
	b := img.Bounds()
	g := newGray(b.Dx(), b.Dy())
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			r, gr, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			g.pix[y*g.w+x] = (0.299*float64(r) + 0.587*float64(gr) + 0.114*float64(bl)) / 257
		}
	}
	return g
}

// gaussianKernel returns a normalized 1-D kernel. A sigma <= 0 is derived
// from the size the same way common vision libraries do.
func gaussianKernel(size int, sigma float64) []float64 {
	if sigma <= 0 {
		sigma = 0.3*(float64(size-1)*0.5-1) + 0.8
	}
	k := make([]float64, size)
	half := size / 2
	var sum float64
	for i := range k {
		d := float64(i - half)
		k[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// reflect101 mirrors an out-of-range index without repeating the edge sample.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

// gaussianBlur applies a separable size x size Gaussian blur.
func gaussianBlur(src *grayImage, size int) *grayImage {
	k := gaussianKernel(size, 0)
	half := size / 2

	tmp := newGray(src.w, src.h)
	for y := 0; y < src.h; y++ {
		row := src.pix[y*src.w : (y+1)*src.w]
		for x := 0; x < src.w; x++ {
			var acc float64
			for i, kv := range k {
				acc += kv * row[reflect101(x+i-half, src.w)]
			}
			tmp.pix[y*src.w+x] = acc
		}
	}

	dst := newGray(src.w, src.h)
	for y := 0; y < src.h; y++ {
		for x := 0; x < src.w; x++ {
			var acc float64
			for i, kv := range k {
				acc += kv * tmp.pix[reflect101(y+i-half, src.h)*src.w+x]
			}
			dst.pix[y*src.w+x] = acc
		}
	}
	return dst
}

// binaryImage is an edge or mask map.
type binaryImage struct {
	w, h int
	pix  []bool
}

func newBinary(w, h int) *binaryImage {
	return &binaryImage{w: w, h: h, pix: make([]bool, w*h)}
}

func (b *binaryImage) get(x, y int) bool {
	if x < 0 || y < 0 || x >= b.w || y >= b.h {
		return false
	}
	return b.pix[y*b.w+x]
}

const (
	tan22 = 0.41421356 // tan(22.5°)
	tan67 = 2.41421356 // tan(67.5°)
)

// canny runs Sobel gradients with an L1 magnitude, non-maximum suppression
// and hysteresis thresholding.
func canny(src *grayImage, low, high float64) *binaryImage {
	w, h := src.w, src.h
	gx := make([]float64, w*h)
	gy := make([]float64, w*h)
	mag := make([]float64, w*h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p00, p10, p20 := src.at(x-1, y-1), src.at(x, y-1), src.at(x+1, y-1)
			p01, p21 := src.at(x-1, y), src.at(x+1, y)
			p02, p12, p22 := src.at(x-1, y+1), src.at(x, y+1), src.at(x+1, y+1)

			dx := (p20 + 2*p21 + p22) - (p00 + 2*p01 + p02)
			dy := (p02 + 2*p12 + p22) - (p00 + 2*p10 + p20)
			i := y*w + x
			gx[i], gy[i] = dx, dy
			mag[i] = math.Abs(dx) + math.Abs(dy)
		}
	}

	magAt := func(x, y int) float64 {
		if x < 0 || y < 0 || x >= w || y >= h {
			return 0
		}
		return mag[y*w+x]
	}

	const (
		none = iota
		weak
		strong
	)
	class := make([]uint8, w*h)
	var stack []int

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			m := mag[i]
			if m <= low {
				continue
			}
			ax, ay := math.Abs(gx[i]), math.Abs(gy[i])

			var n1, n2 float64
			switch {
			case ay <= tan22*ax:
				n1, n2 = magAt(x-1, y), magAt(x+1, y)
			case ay >= tan67*ax:
				n1, n2 = magAt(x, y-1), magAt(x, y+1)
			case (gx[i] > 0) == (gy[i] > 0):
				n1, n2 = magAt(x-1, y-1), magAt(x+1, y+1)
			default:
				n1, n2 = magAt(x+1, y-1), magAt(x-1, y+1)
			}
			if m <= n1 || m < n2 {
				continue
			}

			if m > high {
				class[i] = strong
				stack = append(stack, i)
			} else {
				class[i] = weak
			}
		}
	}

	out := newBinary(w, h)
	for _, i := range stack {
		out.pix[i] = true
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if class[j] == weak && !out.pix[j] {
					out.pix[j] = true
					stack = append(stack, j)
				}
			}
		}
	}
	return out
}

// dilate3x3 sets every pixel that has a set 8-neighbor.
func dilate3x3(src *binaryImage) *binaryImage {
	dst := newBinary(src.w, src.h)
	for y := 0; y < src.h; y++ {
		for x := 0; x < src.w; x++ {
			if !src.pix[y*src.w+x] {
				continue
			}
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx >= 0 && ny >= 0 && nx < src.w && ny < src.h {
						dst.pix[ny*src.w+nx] = true
					}
				}
			}
		}
	}
	return dst
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
