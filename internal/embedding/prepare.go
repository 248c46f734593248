package embedding

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/fpang/item-identify/internal/imagesource"
)

// MaxDimension is the longest side sent to the embedding model. Larger
// photos are downscaled.
const MaxDimension = 1024

// Prepare returns image bytes the embedding model accepts: JPEG or PNG no
// larger than MaxDimension on either side. Small JPEG and PNG inputs are
// passed through unchanged. The output depends only on the input bytes.
func Prepare(img imagesource.Image) ([]byte, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("unsupported image %s (%s): %w", img.Source, img.MIMEType, err)
	}

	small := cfg.Width <= MaxDimension && cfg.Height <= MaxDimension
	if small && (format == "jpeg" || format == "png") {
		return img.Data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s image: %w", format, err)
	}

	out := src
	if !small {
		out = downscale(src, MaxDimension)
	}

	var buf bytes.Buffer
	if format == "png" {
		err = png.Encode(&buf, out)
	} else {
		err = jpeg.Encode(&buf, out, &jpeg.Options{Quality: 90})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode prepared image: %w", err)
	}
	return buf.Bytes(), nil
}

// downscale resizes src so its longest side is maxDim, preserving aspect
// ratio.
func downscale(src image.Image, maxDim int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
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
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
