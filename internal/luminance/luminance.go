package luminance

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// RectF is a rectangle in coordinates relative to a window's bounds, each
// component a fraction in [0,1]. Keeping regions fractional makes them
// independent of capture scale and survives window resizes that preserve
// layout.
type RectF struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Region is a bright sub-rectangle of a window with its mean brightness.
type Region struct {
	Bounds     RectF   `json:"bounds"`
	Brightness float64 `json:"brightness"`
}

// Detector finds bright regions in captured frames.
type Detector interface {
	// DetectBrightRegions returns the bright sub-rectangles of img, scanning
	// a gridSize x gridSize grid and dropping regions smaller than minCells.
	DetectBrightRegions(img *image.RGBA, threshold float64, gridSize, minCells int) []Region
	// AverageLuminance returns the mean relative luminance of the frame.
	// The second result is false when the frame is empty.
	AverageLuminance(img *image.RGBA) (float64, bool)
}

// GridDetector is the default Detector: it box-downscales the frame so each
// output pixel is one grid cell, then merges adjacent bright cells into
// rectangles.
type GridDetector struct{}

// NewGridDetector returns the default grid-based detector.
func NewGridDetector() *GridDetector { return &GridDetector{} }

// cellGrid downscales img to a gridSize x gridSize luminance grid.
func cellGrid(img *image.RGBA, gridSize int) []float64 {
	small := image.NewRGBA(image.Rect(0, 0, gridSize, gridSize))
	xdraw.BiLinear.Scale(small, small.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	grid := make([]float64, gridSize*gridSize)
	for y := 0; y < gridSize; y++ {
		for x := 0; x < gridSize; x++ {
			o := small.PixOffset(x, y)
			grid[y*gridSize+x] = relativeLuminance(small.Pix[o], small.Pix[o+1], small.Pix[o+2])
		}
	}
	return grid
}

// relativeLuminance applies Rec. 709 weights, result in [0,1].
func relativeLuminance(r, g, b uint8) float64 {
	return (0.2126*float64(r) + 0.7152*float64(g) + 0.0722*float64(b)) / 255.0
}

// DetectBrightRegions implements Detector.
func (d *GridDetector) DetectBrightRegions(img *image.RGBA, threshold float64, gridSize, minCells int) []Region {
	if img == nil || img.Bounds().Empty() || gridSize <= 0 {
		return nil
	}
	if minCells < 1 {
		minCells = 1
	}

	grid := cellGrid(img, gridSize)
	bright := make([]bool, len(grid))
	for i, l := range grid {
		bright[i] = l > threshold
	}

	// Row-wise runs of bright cells, then greedy vertical merge of runs
	// with identical column spans.
	type run struct {
		x0, x1, y0, y1 int // cell coordinates, inclusive
	}
	var open []run
	var done []run

	for y := 0; y < gridSize; y++ {
		var rowRuns []run
		x := 0
		for x < gridSize {
			if !bright[y*gridSize+x] {
				x++
				continue
			}
			start := x
			for x < gridSize && bright[y*gridSize+x] {
				x++
			}
			rowRuns = append(rowRuns, run{x0: start, x1: x - 1, y0: y, y1: y})
		}

		var stillOpen []run
		for _, o := range open {
			extended := false
			for i, rr := range rowRuns {
				if rr.x0 == o.x0 && rr.x1 == o.x1 && o.y1 == y-1 {
					o.y1 = y
					stillOpen = append(stillOpen, o)
					rowRuns = append(rowRuns[:i], rowRuns[i+1:]...)
					extended = true
					break
				}
			}
			if !extended {
				done = append(done, o)
			}
		}
		open = append(stillOpen, rowRuns...)
	}
	done = append(done, open...)

	cell := 1.0 / float64(gridSize)
	regions := make([]Region, 0, len(done))
	for _, r := range done {
		w := r.x1 - r.x0 + 1
		h := r.y1 - r.y0 + 1
		if w*h < minCells {
			continue
		}

		sum := 0.0
		for y := r.y0; y <= r.y1; y++ {
			for x := r.x0; x <= r.x1; x++ {
				sum += grid[y*gridSize+x]
			}
		}

		regions = append(regions, Region{
			Bounds: RectF{
				X:      float64(r.x0) * cell,
				Y:      float64(r.y0) * cell,
				Width:  float64(w) * cell,
				Height: float64(h) * cell,
			},
			Brightness: sum / float64(w*h),
		})
	}

	return regions
}

// AverageLuminance implements Detector.
func (d *GridDetector) AverageLuminance(img *image.RGBA) (float64, bool) {
	if img == nil || img.Bounds().Empty() {
		return 0, false
	}

	const sample = 64
	size := sample
	b := img.Bounds()
	if b.Dx() < size || b.Dy() < size {
		size = 1
	}
	grid := cellGrid(img, size)

	sum := 0.0
	for _, l := range grid {
		sum += l
	}
	return sum / float64(len(grid)), true
}
