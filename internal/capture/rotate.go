package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Rotate re-encodes a JPEG turned clockwise by degrees (0, 90, 180, 270).
// 0 returns data untouched.
func Rotate(data []byte, degrees, quality int) ([]byte, error) {
	degrees = ((degrees % 360) + 360) % 360
	if degrees == 0 {
		return data, nil
	}

	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	dst, err := RotateImage(src, degrees)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(data))
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// RotateImage turns img clockwise by a multiple of 90 degrees
func RotateImage(img image.Image, degrees int) (*image.RGBA, error) {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())

	// Source to destination transforms, source origin moved to 0,0 first
	ox, oy := float64(b.Min.X), float64(b.Min.Y)
	var m f64.Aff3
	var dstRect image.Rectangle
	switch degrees {
	case 90:
		m = f64.Aff3{0, -1, h + oy, 1, 0, -ox}
		dstRect = image.Rect(0, 0, b.Dy(), b.Dx())
	case 180:
		m = f64.Aff3{-1, 0, w + ox, 0, -1, h + oy}
		dstRect = image.Rect(0, 0, b.Dx(), b.Dy())
	case 270:
		m = f64.Aff3{0, 1, -oy, -1, 0, w + ox}
		dstRect = image.Rect(0, 0, b.Dy(), b.Dx())
	default:
		return nil, fmt.Errorf("unsupported rotation: %d", degrees)
	}

	dst := image.NewRGBA(dstRect)
	draw.NearestNeighbor.Transform(dst, m, img, b, draw.Src, nil)
	return dst, nil
}
