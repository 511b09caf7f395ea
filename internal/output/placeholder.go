package output

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"

	"github.com/bryanchriswhite/CamStreamer/internal/camera"
)

var placeholder struct {
	mu   sync.Mutex
	size int
	data []byte
}

// Placeholder returns a solid black size x size JPEG. The last size
// generated is cached.
func Placeholder(size int) ([]byte, error) {
	if size <= 0 {
		size = 1
	}
	if size > camera.MaxResolution {
		size = camera.MaxResolution
	}

	placeholder.mu.Lock()
	defer placeholder.mu.Unlock()

	if placeholder.data != nil && placeholder.size == size {
		return placeholder.data, nil
	}

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.Black}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}

	placeholder.size = size
	placeholder.data = buf.Bytes()
	return placeholder.data, nil
}
