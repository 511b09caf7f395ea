package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/CamStreamer/internal/capture"
	"github.com/bryanchriswhite/CamStreamer/internal/config"
	"github.com/bryanchriswhite/CamStreamer/internal/framebuffer"
	"github.com/bryanchriswhite/CamStreamer/internal/logger"
)

// ErrNoCamera is returned when no capture driver is configured
var ErrNoCamera = errors.New("no camera available")

// Options configures a Controller
type Options struct {
	Device      string
	JPEGQuality int
	FrameRate   int
	Resolution  int
	Rotation    int // degrees

	// WarmUp is how long a one-shot capture lets exposure settle. A handle
	// that reports readiness ends it early.
	WarmUp time.Duration

	// PhotoWait bounds the wait for a fresh frame while recording
	PhotoWait time.Duration
}

// OptionsFromConfig builds controller options from the camera section
func OptionsFromConfig(cfg config.CameraConfig) Options {
	return Options{
		Device:      cfg.Device,
		JPEGQuality: cfg.JPEGQuality,
		FrameRate:   cfg.FrameRate,
		Resolution:  cfg.Resolution,
		Rotation:    cfg.Rotation,
		WarmUp:      cfg.WarmUp,
		PhotoWait:   cfg.PhotoWait,
	}
}

// Controller owns the camera lifecycle and its parameters. It is the only
// writer of State.
type Controller struct {
	driver capture.Driver
	buffer *framebuffer.Buffer

	device    string
	quality   int
	warmUp    time.Duration
	photoWait time.Duration

	// opMu serializes lifecycle operations. It is held across the warm-up of
	// a one-shot capture so nothing else can open the camera meanwhile.
	opMu sync.Mutex

	// watchStop ends the failure watch of the running handle. Guarded by opMu.
	watchStop chan struct{}

	// mu guards state and handle for readers that must not wait on opMu
	mu     sync.RWMutex
	state  State
	handle capture.Handle
	onLost func()
}

// NewController creates a stopped controller. driver may be nil when no
// camera is configured.
func NewController(driver capture.Driver, buffer *framebuffer.Buffer, opts Options) *Controller {
	fps := opts.FrameRate
	if !ValidFrameRate(fps) {
		fps = config.FrameRates[0]
	}
	resolution := opts.Resolution
	if !ValidResolution(resolution) {
		resolution = config.Defaults().Camera.Resolution
	}
	quality := opts.JPEGQuality
	if quality <= 0 {
		quality = config.Defaults().Camera.JPEGQuality
	}

	return &Controller{
		driver:    driver,
		buffer:    buffer,
		device:    opts.Device,
		quality:   quality,
		warmUp:    opts.WarmUp,
		photoWait: opts.PhotoWait,
		state: State{
			Status:        Stopped,
			FrameRate:     fps,
			Resolution:    resolution,
			RotationIndex: rotationIndex(opts.Rotation),
		},
	}
}

// OnLost registers fn to run after the camera was stopped because its
// driver stopped recording on its own
func (c *Controller) OnLost(fn func()) {
	c.mu.Lock()
	c.onLost = fn
	c.mu.Unlock()
}

// Buffer returns the frame buffer fed by this controller
func (c *Controller) Buffer() *framebuffer.Buffer {
	return c.buffer
}

// HasCamera reports whether a driver is configured
func (c *Controller) HasCamera() bool {
	return c.driver != nil
}

// State returns a consistent snapshot of the camera state
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Running reports whether the camera is recording
func (c *Controller) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Status == Running
}

func (c *Controller) settings() capture.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return capture.Settings{
		Device:      c.device,
		FrameRate:   c.state.FrameRate,
		Resolution:  c.state.Resolution,
		Rotation:    c.state.Rotation(),
		JPEGQuality: c.quality,
	}
}

// Start opens the camera and begins feeding the frame buffer. It does
// nothing when already running.
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return c.startLocked()
}

func (c *Controller) startLocked() error {
	if c.driver == nil {
		return ErrNoCamera
	}
	if c.Running() {
		return nil
	}

	log := logger.WithComponent("camera")
	settings := c.settings()

	handle, err := c.driver.Open(settings)
	if err != nil {
		return fmt.Errorf("failed to open camera: %w", err)
	}

	splitter := framebuffer.NewSplitter(c.buffer)
	if err := handle.StartRecording(splitter.Ingest); err != nil {
		if cerr := handle.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close camera after start failure")
		}
		return fmt.Errorf("failed to start recording: %w", err)
	}

	c.mu.Lock()
	c.handle = handle
	c.state.Status = Running
	c.mu.Unlock()

	if f, ok := handle.(capture.Failer); ok {
		c.watchStop = make(chan struct{})
		go c.watch(handle, f.Failed(), c.watchStop)
	}

	log.Info().
		Str("driver", c.driver.Name()).
		Int("fps", settings.FrameRate).
		Int("resolution", settings.Resolution).
		Int("rotation", settings.Rotation).
		Msg("Camera started")
	return nil
}

// Stop stops recording, releases the camera and clears the frame buffer.
// It is a no-op when already stopped.
func (c *Controller) Stop() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stopLocked()
}

func (c *Controller) stopLocked() error {
	c.mu.RLock()
	handle := c.handle
	running := c.state.Status == Running
	c.mu.RUnlock()

	if !running {
		return nil
	}

	if c.watchStop != nil {
		close(c.watchStop)
		c.watchStop = nil
	}

	log := logger.WithComponent("camera")

	var errs []error
	status, err := handle.StopRecording()
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to stop recording: %w", err))
	} else if status == capture.StopNotRecording {
		log.Debug().Msg("Camera was not recording")
	}
	if err := handle.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close camera: %w", err))
	}

	// Mark stopped before clearing so woken sessions see Stopped
	c.mu.Lock()
	c.handle = nil
	c.state.Status = Stopped
	c.mu.Unlock()
	c.buffer.Clear()

	log.Info().Msg("Camera stopped")
	return errors.Join(errs...)
}

// watch runs the stop path when handle reports that recording ended on its
// own, so sessions switch to the placeholder instead of waiting forever
func (c *Controller) watch(handle capture.Handle, failed <-chan error, stop <-chan struct{}) {
	var cause error
	select {
	case <-stop:
		return
	case cause = <-failed:
	}

	log := logger.WithComponent("camera")
	log.Error().Err(cause).Msg("Camera stopped delivering frames")

	c.opMu.Lock()
	c.mu.RLock()
	current := c.handle
	c.mu.RUnlock()
	if current != handle {
		// Already stopped or reopened
		c.opMu.Unlock()
		return
	}
	if err := c.stopLocked(); err != nil {
		log.Warn().Err(err).Msg("Error releasing failed camera")
	}
	c.opMu.Unlock()

	c.mu.RLock()
	onLost := c.onLost
	c.mu.RUnlock()
	if onLost != nil {
		onLost()
	}
}

// SetFrameRate sets the frame rate. Unsupported values are rejected and
// leave the state unchanged. A running camera is updated live.
func (c *Controller) SetFrameRate(fps int) bool {
	if !ValidFrameRate(fps) {
		return false
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.state.FrameRate = fps
	handle := c.handle
	c.mu.Unlock()

	if handle != nil {
		c.applyLive(capture.ParamFrameRate, fps)
	}
	return true
}

// applyLive pushes a parameter to the open handle. A handle that cannot
// take the change while recording is reopened so it matches the state.
func (c *Controller) applyLive(param capture.Param, value int) {
	log := logger.WithComponent("camera")

	c.mu.RLock()
	handle := c.handle
	c.mu.RUnlock()

	err := handle.SetLive(param, value)
	if err == nil {
		return
	}
	if !errors.Is(err, capture.ErrNotLive) {
		log.Warn().Err(err).Stringer("param", param).Int("value", value).Msg("Failed to apply live parameter")
		return
	}

	log.Debug().Stringer("param", param).Msg("Reopening camera to apply parameter")
	if err := c.stopLocked(); err != nil {
		log.Warn().Err(err).Msg("Error stopping camera for reopen")
	}
	if err := c.startLocked(); err != nil {
		log.Error().Err(err).Msg("Failed to restart camera")
	}
}

// SetResolution records a new square resolution. It takes effect on the
// next start; reopening the camera is left to the caller.
func (c *Controller) SetResolution(px int) bool {
	if !ValidResolution(px) {
		return false
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.state.Resolution = px
	c.mu.Unlock()
	return true
}

// Rotate advances the rotation by a quarter turn and returns it in degrees
func (c *Controller) Rotate() int {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.state.RotationIndex = (c.state.RotationIndex + 1) % len(Rotations)
	degrees := c.state.Rotation()
	handle := c.handle
	c.mu.Unlock()

	if handle != nil {
		c.applyLive(capture.ParamRotation, degrees)
	}
	return degrees
}

// CapturePhoto returns a single frame. While recording it waits briefly for
// a fresh frame and falls back to the latest one, which may be empty. While
// stopped it opens the camera for one exclusive capture.
func (c *Controller) CapturePhoto(ctx context.Context) (framebuffer.Frame, error) {
	if c.driver == nil {
		return framebuffer.Frame{}, ErrNoCamera
	}

	if c.Running() {
		return c.livePhoto(ctx), nil
	}

	c.opMu.Lock()
	if c.Running() {
		// Started while we waited for the lock
		c.opMu.Unlock()
		return c.livePhoto(ctx), nil
	}
	defer c.opMu.Unlock()
	return c.capturePhotoSync(ctx)
}

func (c *Controller) livePhoto(ctx context.Context) framebuffer.Frame {
	if frame, ok := c.buffer.WaitNext(ctx, c.photoWait); ok {
		return frame
	}
	return c.buffer.Current()
}

func (c *Controller) capturePhotoSync(ctx context.Context) (framebuffer.Frame, error) {
	log := logger.WithComponent("camera")

	handle, err := c.driver.Open(c.settings())
	if err != nil {
		return framebuffer.Frame{}, fmt.Errorf("failed to open camera: %w", err)
	}
	defer func() {
		if err := handle.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close camera after photo")
		}
	}()

	var ready <-chan struct{}
	if r, ok := handle.(capture.Readier); ok {
		ready = r.Ready()
	}

	timer := time.NewTimer(c.warmUp)
	defer timer.Stop()

	select {
	case <-ready:
		log.Debug().Msg("Camera reported ready")
	case <-timer.C:
	case <-ctx.Done():
		return framebuffer.Frame{}, ctx.Err()
	}

	data, err := handle.CaptureSingle()
	if err != nil {
		return framebuffer.Frame{}, fmt.Errorf("failed to capture photo: %w", err)
	}

	log.Info().Int("bytes", len(data)).Msg("Captured photo")
	return framebuffer.Frame{Data: data, Timestamp: time.Now()}, nil
}

// Close stops the camera on shutdown
func (c *Controller) Close() error {
	return c.Stop()
}
