package core

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

const (
	DefaultDotWidth       = 576
	DefaultMaxImageHeight = 1200
	DefaultWidthPercent   = 60
	rasterThreshold       = 128
)

// Raster is a packed 1-bit bitmap, most significant bit first, 1 = black dot.
type Raster struct {
	WidthBytes int
	Height     int
	Data       []byte
}

type Rasterizer struct {
	DotWidth  int
	MaxHeight int
}

func NewRasterizer(dotWidth, maxHeight int) *Rasterizer {
	if dotWidth <= 0 {
		dotWidth = DefaultDotWidth
	}
	if maxHeight <= 0 {
		maxHeight = DefaultMaxImageHeight
	}
	return &Rasterizer{DotWidth: dotWidth, MaxHeight: maxHeight}
}

// TargetWidth is floor(dotWidth * pct / 100) with pct clamped to 0..100. A zero
// percentage yields a zero width, which Compose rejects.
func TargetWidth(dotWidth, pct int, fullWidth bool) int {
	if fullWidth {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return dotWidth * pct / 100
}

// FitSize scales (w, h) into the (maxW, maxH) box by the smaller ratio, preserving aspect.
func FitSize(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	rw := float64(maxW) / float64(w)
	rh := float64(maxH) / float64(h)
	scale := rw
	if rh < scale {
		scale = rh
	}
	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}

// Compose scales img and places it on a white canvas exactly DotWidth dots wide.
func (r *Rasterizer) Compose(img image.Image, widthPercent int, fullWidth bool, align Alignment) (*image.Gray, error) {
	if img == nil {
		return nil, errors.New("no bitmap")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("empty bitmap")
	}

	target := TargetWidth(r.DotWidth, widthPercent, fullWidth)
	if target < 1 {
		return nil, fmt.Errorf("target width is zero at %d%%", widthPercent)
	}
	w, h := FitSize(b.Dx(), b.Dy(), target, r.MaxHeight)
	return r.place(img, w, h, align, draw.CatmullRom), nil
}

// Place draws img at its natural size (shrunk only if wider than the paper) on a full-width canvas.
func (r *Rasterizer) Place(img image.Image, align Alignment) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > r.DotWidth {
		w, h = FitSize(w, h, r.DotWidth, r.MaxHeight)
	}
	return r.place(img, w, h, align, draw.NearestNeighbor)
}

func (r *Rasterizer) place(img image.Image, w, h int, align Alignment, scaler draw.Scaler) *image.Gray {
	dotWidth := r.DotWidth
	canvas := image.NewGray(image.Rect(0, 0, dotWidth, h))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	var left int
	switch align {
	case AlignCenter:
		left = (dotWidth - w) / 2
	case AlignRight:
		left = dotWidth - w
	}

	dst := image.Rect(left, 0, left+w, h)
	scaler.Scale(canvas, dst, img, img.Bounds(), draw.Over, nil)
	return canvas
}

// Threshold packs a grayscale image into a raster; luminance below the threshold prints.
func Threshold(img *image.Gray) *Raster {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	widthBytes := (width + 7) >> 3
	data := make([]byte, widthBytes*height)

	for y := 0; y < height; y++ {
		row := y * widthBytes
		for x := 0; x < width; x++ {
			if img.GrayAt(b.Min.X+x, b.Min.Y+y).Y < rasterThreshold {
				data[row+(x>>3)] |= 0x80 >> uint(x&7)
			}
		}
	}
	return &Raster{WidthBytes: widthBytes, Height: height, Data: data}
}

func (r *Rasterizer) Rasterize(img image.Image, widthPercent int, fullWidth bool, align Alignment) (*Raster, error) {
	canvas, err := r.Compose(img, widthPercent, fullWidth, align)
	if err != nil {
		return nil, err
	}
	return Threshold(canvas), nil
}
