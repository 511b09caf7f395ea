//go:build linux

package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/blackjack/webcam"

	"github.com/bryanchriswhite/CamStreamer/internal/logger"
)

// formatMJPEG is the V4L2 fourcc for motion JPEG
const formatMJPEG = webcam.PixelFormat(uint32('M') | uint32('J')<<8 | uint32('P')<<16 | uint32('G')<<24)

// v4l2Buffers is the number of mmap buffers requested from the device
const v4l2Buffers = 4

// frameWaitSeconds bounds each WaitForFrame so StopRecording is noticed
const frameWaitSeconds = 1

// V4L2 drives a USB or CSI camera through video4linux2 in MJPEG mode
type V4L2 struct{}

// NewV4L2 creates a V4L2 driver
func NewV4L2() *V4L2 {
	return &V4L2{}
}

// Name returns the backend name
func (d *V4L2) Name() string {
	return "v4l2"
}

// Open opens the device and negotiates MJPEG at the requested square size.
// The device may settle on the nearest size it supports.
func (d *V4L2) Open(settings Settings) (Handle, error) {
	log := logger.WithComponent("capture")

	cam, err := webcam.Open(settings.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", settings.Device, err)
	}

	if _, ok := cam.GetSupportedFormats()[formatMJPEG]; !ok {
		cam.Close()
		return nil, fmt.Errorf("%s does not support MJPEG", settings.Device)
	}

	size := uint32(settings.Resolution)
	_, w, h, err := cam.SetImageFormat(formatMJPEG, size, size)
	if err != nil {
		cam.Close()
		return nil, fmt.Errorf("failed to set image format: %w", err)
	}
	if w != size || h != size {
		log.Warn().
			Uint32("requested", size).
			Uint32("width", w).
			Uint32("height", h).
			Msg("Device chose a different frame size")
	}

	if err := cam.SetFramerate(float32(settings.FrameRate)); err != nil {
		log.Warn().Err(err).Int("fps", settings.FrameRate).Msg("Device rejected frame rate")
	}

	if err := cam.SetBufferCount(v4l2Buffers); err != nil {
		log.Warn().Err(err).Msg("Failed to set buffer count")
	}

	handle := &v4l2Handle{
		cam:     cam,
		device:  settings.Device,
		quality: settings.JPEGQuality,
		failed:  newFailure(),
	}
	handle.rotation.Store(int32(settings.Rotation))

	log.Info().
		Str("device", settings.Device).
		Uint32("width", w).
		Uint32("height", h).
		Int("fps", settings.FrameRate).
		Msg("V4L2 camera opened")

	return handle, nil
}

type v4l2Handle struct {
	cam      *webcam.Webcam
	device   string
	quality  int
	rotation atomic.Int32
	failed   failure

	mu        sync.Mutex
	recording bool
	streaming bool
	stopChan  chan struct{}
	done      chan struct{}
}

func (h *v4l2Handle) SetLive(param Param, value int) error {
	switch param {
	case ParamRotation:
		h.rotation.Store(int32(value))
		return nil
	case ParamFrameRate:
		h.mu.Lock()
		defer h.mu.Unlock()
		if err := h.cam.SetFramerate(float32(value)); err != nil {
			return fmt.Errorf("%w: %v", ErrNotLive, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown parameter %s", param)
	}
}

func (h *v4l2Handle) startStreaming() error {
	if h.streaming {
		return nil
	}
	if err := h.cam.StartStreaming(); err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	h.streaming = true
	return nil
}

func (h *v4l2Handle) StartRecording(onFrame func([]byte)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.recording {
		return fmt.Errorf("already recording")
	}
	if err := h.startStreaming(); err != nil {
		return err
	}

	h.recording = true
	h.stopChan = make(chan struct{})
	h.done = make(chan struct{})
	go h.readFrames(onFrame, h.stopChan, h.done)
	return nil
}

// readFrames dequeues frames until stop is closed
func (h *v4l2Handle) readFrames(onFrame func([]byte), stop, done chan struct{}) {
	defer close(done)
	log := logger.WithComponent("capture")

	for {
		select {
		case <-stop:
			return
		default:
		}

		err := h.cam.WaitForFrame(frameWaitSeconds)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			continue
		default:
			log.Error().Err(err).Str("device", h.device).Msg("Failed waiting for frame, recording ended")
			h.failed.report(fmt.Errorf("waiting for frame on %s: %w", h.device, err))
			return
		}

		buf, idx, err := h.cam.GetFrame()
		if err != nil {
			log.Error().Err(err).Msg("Failed to dequeue frame")
			continue
		}
		// The mmap buffer is reused once released
		frame := make([]byte, len(buf))
		copy(frame, buf)
		h.cam.ReleaseFrame(idx)

		if len(frame) == 0 {
			continue
		}
		if rot := int(h.rotation.Load()); rot != 0 {
			rotated, err := Rotate(frame, rot, h.quality)
			if err != nil {
				log.Debug().Err(err).Msg("Dropping frame that failed to rotate")
				continue
			}
			frame = rotated
		}
		onFrame(frame)
	}
}

// Failed delivers the error that ended recording early
func (h *v4l2Handle) Failed() <-chan error {
	return h.failed
}

func (h *v4l2Handle) StopRecording() (StopStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.recording {
		return StopNotRecording, nil
	}
	close(h.stopChan)
	<-h.done
	h.recording = false
	return StopOK, nil
}

func (h *v4l2Handle) CaptureSingle() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.recording {
		return nil, fmt.Errorf("camera is recording")
	}
	if err := h.startStreaming(); err != nil {
		return nil, err
	}

	// The first frames after stream-on are often incomplete
	for attempt := 0; attempt < 3; attempt++ {
		err := h.cam.WaitForFrame(frameWaitSeconds)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			continue
		default:
			return nil, fmt.Errorf("failed waiting for frame: %w", err)
		}

		buf, idx, err := h.cam.GetFrame()
		if err != nil {
			return nil, fmt.Errorf("failed to dequeue frame: %w", err)
		}
		frame := make([]byte, len(buf))
		copy(frame, buf)
		h.cam.ReleaseFrame(idx)
		if len(frame) == 0 {
			continue
		}
		return Rotate(frame, int(h.rotation.Load()), h.quality)
	}
	return nil, fmt.Errorf("no frame from %s", h.device)
}

func (h *v4l2Handle) Close() error {
	if _, err := h.StopRecording(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streaming {
		if err := h.cam.StopStreaming(); err != nil {
			logger.WithComponent("capture").Debug().Err(err).Msg("Failed to stop streaming")
		}
		h.streaming = false
	}
	return h.cam.Close()
}

// DeviceInfo describes a V4L2 capture device
type DeviceInfo struct {
	Path    string   `json:"path"`
	Formats []string `json:"formats"`
	MJPEG   bool     `json:"mjpeg"`
	Sizes   []string `json:"sizes,omitempty"`
}

// ListDevices probes /dev/video* for capture devices
func ListDevices() ([]DeviceInfo, error) {
	paths, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var devices []DeviceInfo
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cam, err := webcam.Open(path)
		if err != nil {
			// Metadata nodes and busy devices refuse to open
			continue
		}

		info := DeviceInfo{Path: path}
		for pf, desc := range cam.GetSupportedFormats() {
			info.Formats = append(info.Formats, desc)
			if pf == formatMJPEG {
				info.MJPEG = true
				for _, fs := range cam.GetSupportedFrameSizes(pf) {
					info.Sizes = append(info.Sizes, fs.GetString())
				}
			}
		}
		sort.Strings(info.Formats)
		cam.Close()

		devices = append(devices, info)
	}
	return devices, nil
}
