// Package heatmap renders grid snapshots as images.
package heatmap

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/hb9tf/wifiradar/publish"
)

var (
	// Colors defining the gradient in the heatmap. The higher the index, the warmer.
	colors = []color.RGBA{
		{0, 0, 0, 255},       // black
		{0, 0, 255, 255},     // blue
		{0, 255, 255, 255},   // cyan
		{0, 255, 0, 255},     // green
		{255, 255, 0, 255},   // yellow
		{255, 0, 0, 255},     // red
		{255, 255, 255, 255}, // white
	}

	gridColor       = color.RGBA{40, 40, 40, 255}
	legendColor     = color.RGBA{0, 0, 0, 255}
	legendBackColor = color.RGBA{255, 255, 255, 255}
)

const (
	DefaultCellSize = 48 // pixels

	legendLineHeight = 15 // pixels, Face7x13 plus spacing
	legendMargin     = 5
	legendMinWidth   = 220
	// cells at least this large get separator lines
	gridLineMinCell = 8
)

// GetColor determines the color of a level on the gradient, interpolating
// linearly between the two neighbouring gradient colors.
// http://www.andrewnoske.com/wiki/Code_-_heatmaps_and_color_gradients
func GetColor(lvl uint16) color.RGBA {
	pos := float64(lvl) / math.MaxUint16 * float64(len(colors)-1)
	i := int(pos)
	if i >= len(colors)-1 {
		return colors[len(colors)-1]
	}
	fract := pos - float64(i)
	lo, hi := colors[i], colors[i+1]
	mix := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + (float64(b)-float64(a))*fract))
	}
	return color.RGBA{mix(lo.R, hi.R), mix(lo.G, hi.G), mix(lo.B, hi.B), mix(lo.A, hi.A)}
}

// Level maps a cell energy in [0,1] to a gradient level. Values outside
// are clamped.
func Level(v float64) uint16 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return math.MaxUint16
	}
	return uint16(math.Round(v * math.MaxUint16))
}

type Options struct {
	// CellSize is the edge length of one grid cell in pixels.
	CellSize int
	// Legend adds the grid statistics below the heatmap.
	Legend bool
}

// Render draws s. Cell energies are scaled by the snapshot maximum when it
// exceeds 1, so grids without normalization still fit the gradient.
func Render(s publish.Snapshot, opts Options) *image.RGBA {
	cell := opts.CellSize
	if cell <= 0 {
		cell = DefaultCellSize
	}
	width, height := s.Cols*cell, s.Rows*cell
	lines := legend(s)
	if opts.Legend {
		width = max(width, legendMinWidth)
		height += len(lines)*legendLineHeight + 2*legendMargin
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{legendBackColor}, image.Point{}, draw.Src)

	scale := 1.0
	if s.Max > 1 {
		scale = s.Max
	}
	for r := 0; r < s.Rows; r++ {
		for c := 0; c < s.Cols; c++ {
			rect := image.Rect(c*cell, r*cell, (c+1)*cell, (r+1)*cell)
			draw.Draw(canvas, rect, &image.Uniform{GetColor(Level(s.At(r, c) / scale))}, image.Point{}, draw.Src)
		}
	}
	if cell >= gridLineMinCell {
		drawGrid(canvas, s.Rows, s.Cols, cell)
	}

	if opts.Legend {
		for i, line := range lines {
			d := &font.Drawer{
				Dst:  canvas,
				Src:  image.NewUniform(legendColor),
				Face: basicfont.Face7x13,
				Dot: fixed.Point26_6{
					X: fixed.I(legendMargin),
					Y: fixed.I(s.Rows*cell + legendMargin + (i+1)*legendLineHeight - 3),
				},
			}
			d.DrawString(line)
		}
	}
	return canvas
}

func legend(s publish.Snapshot) []string {
	return []string{
		fmt.Sprintf("Max: %.3f  Mean: %.3f", s.Max, s.Mean),
		fmt.Sprintf("Active Cells: %d", s.ActiveCells),
		fmt.Sprintf("Packets: %d (total %d)", s.Packets, s.TotalPackets),
		fmt.Sprintf("Cycle: %d  Score: %.3f", s.Cycle, s.Score),
	}
}

func drawGrid(canvas *image.RGBA, rows, cols, cell int) {
	for r := 1; r < rows; r++ {
		for x := 0; x < cols*cell; x++ {
			canvas.SetRGBA(x, r*cell, gridColor)
		}
	}
	for c := 1; c < cols; c++ {
		for y := 0; y < rows*cell; y++ {
			canvas.SetRGBA(c*cell, y, gridColor)
		}
	}
}

// Encode writes img as PNG or JPEG; format is "png", "jpg" or "jpeg".
func Encode(w io.Writer, img image.Image, format string) error {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "png":
		return png.Encode(w, img)
	case "jpg", "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: jpeg.DefaultQuality})
	}
	return fmt.Errorf("%q is not a supported image format, pick one of: png, jpg", format)
}

// Save writes img to path in the format its extension names.
func Save(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create %q: %w", path, err)
	}
	if err := Encode(f, img, filepath.Ext(path)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
