package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"path/filepath"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
)

// CompressConfig controls proof re-encoding.
type CompressConfig struct {
	Threshold    int // bytes; sources at or below are sent as-is
	MaxDimension int // longest side after downscale
	Quality      int // JPEG quality 1..100
}

// Compressed is the payload actually uploaded.
type Compressed struct {
	Data        []byte
	ContentType string
	Filename    string
	Changed     bool
}

// Compress re-encodes src as a downscaled JPEG when it exceeds the threshold.
// If re-encoding does not shrink the payload the original is kept.
func Compress(src []byte, filename string, cfg CompressConfig) (Compressed, error) {
	orig := Compressed{
		Data:        src,
		ContentType: constants.ContentTypeForExt(filepath.Ext(filename)),
		Filename:    filename,
	}
	if len(src) == 0 {
		return Compressed{}, fmt.Errorf("%w: empty proof %q", common.ErrValidation, filename)
	}
	if cfg.Threshold <= 0 || len(src) <= cfg.Threshold {
		return orig, nil
	}

	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return Compressed{}, fmt.Errorf("%w: decode %q: %v", common.ErrValidation, filename, err)
	}

	img = downscale(img, cfg.MaxDimension)

	quality := cfg.Quality
	if quality < 1 || quality > 100 {
		quality = constants.DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return Compressed{}, fmt.Errorf("encode jpeg: %w", err)
	}
	if buf.Len() >= len(src) {
		return orig, nil
	}

	base := filename[:len(filename)-len(filepath.Ext(filename))]
	return Compressed{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Filename:    base + ".jpg",
		Changed:     true,
	}, nil
}

func downscale(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}
	if w >= h {
		h = h * maxDim / w
		w = maxDim
	} else {
		w = w * maxDim / h
		h = maxDim
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
