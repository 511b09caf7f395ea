package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/bryanchriswhite/CamStreamer/internal/config"
	"github.com/bryanchriswhite/CamStreamer/internal/logger"
)

// Synthetic generates a test pattern. It needs no hardware and is used for
// development and demos.
type Synthetic struct {
	// Settle is how long a freshly opened handle takes to report ready
	Settle time.Duration
}

// NewSynthetic creates a test-pattern driver
func NewSynthetic() *Synthetic {
	return &Synthetic{Settle: 100 * time.Millisecond}
}

// Name returns the backend name
func (d *Synthetic) Name() string {
	return "synthetic"
}

// Open returns a handle producing frames of the configured size
func (d *Synthetic) Open(settings Settings) (Handle, error) {
	if settings.Resolution <= 0 || settings.Resolution > config.MaxResolution {
		return nil, fmt.Errorf("invalid resolution: %d", settings.Resolution)
	}

	h := &syntheticHandle{
		size:    settings.Resolution,
		quality: settings.JPEGQuality,
		ready:   make(chan struct{}),
	}
	h.fps.Store(int32(settings.FrameRate))
	h.rotation.Store(int32(settings.Rotation))

	time.AfterFunc(d.Settle, func() { close(h.ready) })
	return h, nil
}

type syntheticHandle struct {
	size     int
	quality  int
	ready    chan struct{}
	fps      atomic.Int32
	rotation atomic.Int32
	count    atomic.Uint64

	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
	rate     chan int
}

func (h *syntheticHandle) Ready() <-chan struct{} {
	return h.ready
}

func (h *syntheticHandle) SetLive(param Param, value int) error {
	switch param {
	case ParamRotation:
		h.rotation.Store(int32(value))
	case ParamFrameRate:
		h.fps.Store(int32(value))
		h.mu.Lock()
		rate := h.rate
		h.mu.Unlock()
		if rate != nil {
			select {
			case rate <- value:
			default:
			}
		}
	default:
		return fmt.Errorf("unknown parameter %s", param)
	}
	return nil
}

func (h *syntheticHandle) StartRecording(onFrame func([]byte)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopChan != nil {
		return fmt.Errorf("already recording")
	}
	h.stopChan = make(chan struct{})
	h.done = make(chan struct{})
	h.rate = make(chan int, 1)
	go h.generate(onFrame, h.stopChan, h.done, h.rate)
	return nil
}

func frameInterval(fps int) time.Duration {
	if fps <= 0 {
		fps = 1
	}
	return time.Second / time.Duration(fps)
}

func (h *syntheticHandle) generate(onFrame func([]byte), stop, done chan struct{}, rate chan int) {
	defer close(done)
	log := logger.WithComponent("capture")

	ticker := time.NewTicker(frameInterval(int(h.fps.Load())))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case fps := <-rate:
			ticker.Reset(frameInterval(fps))
		case <-ticker.C:
			frame, err := h.render()
			if err != nil {
				log.Error().Err(err).Msg("Failed to render test pattern")
				continue
			}
			onFrame(frame)
		}
	}
}

func (h *syntheticHandle) StopRecording() (StopStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopChan == nil {
		return StopNotRecording, nil
	}
	close(h.stopChan)
	<-h.done
	h.stopChan = nil
	h.rate = nil
	return StopOK, nil
}

func (h *syntheticHandle) CaptureSingle() ([]byte, error) {
	return h.render()
}

func (h *syntheticHandle) Close() error {
	_, err := h.StopRecording()
	return err
}

var patternBars = []color.RGBA{
	{255, 255, 255, 255},
	{255, 255, 0, 255},
	{0, 255, 255, 255},
	{0, 255, 0, 255},
	{255, 0, 255, 255},
	{255, 0, 0, 255},
	{0, 0, 255, 255},
}

// render draws colour bars, a moving marker and a frame label
func (h *syntheticHandle) render() ([]byte, error) {
	n := h.count.Add(1)
	size := h.size
	img := image.NewRGBA(image.Rect(0, 0, size, size))

	barWidth := size / len(patternBars)
	if barWidth == 0 {
		barWidth = 1
	}
	for i, c := range patternBars {
		r := image.Rect(i*barWidth, 0, (i+1)*barWidth, size)
		if i == len(patternBars)-1 {
			r.Max.X = size
		}
		draw.Draw(img, r, &image.Uniform{c}, image.Point{}, draw.Src)
	}

	// A marker sweeping downwards makes frame changes visible
	y := int(n % uint64(size))
	draw.Draw(img, image.Rect(0, y, size, y+4), image.Black, image.Point{}, draw.Src)

	label := fmt.Sprintf("#%d %s %dfps", n, time.Now().Format("15:04:05"), h.fps.Load())
	drawLabel(img, label, 8, size-8)

	var out image.Image = img
	if rot := int(h.rotation.Load()); rot%360 != 0 {
		rotated, err := RotateImage(img, ((rot%360)+360)%360)
		if err != nil {
			return nil, err
		}
		out = rotated
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: h.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// drawLabel writes white text on a black box with its baseline at x,y
func drawLabel(img *image.RGBA, text string, x, y int) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: face,
	}

	width := d.MeasureString(text).Ceil()
	const padding = 3
	box := image.Rect(x-padding, y-face.Ascent-padding, x+width+padding, y+face.Descent+padding)
	draw.Draw(img, box.Intersect(img.Bounds()), image.Black, image.Point{}, draw.Src)

	d.Dot = fixed.P(x, y)
	d.DrawString(text)
}
