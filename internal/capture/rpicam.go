package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/CamStreamer/internal/logger"
)

// rpicamStopGrace is how long rpicam-vid gets to exit after SIGINT
const rpicamStopGrace = 2 * time.Second

// Rpicam drives a Raspberry Pi camera through the rpicam-apps tools running
// as subprocesses. Frames are read from rpicam-vid's stdout.
type Rpicam struct {
	vidBinary   string
	stillBinary string
}

// NewRpicam creates an rpicam driver. It prefers the rpicam-* tools and falls
// back to the older libcamera-* names.
func NewRpicam() *Rpicam {
	return &Rpicam{
		vidBinary:   lookFirst("rpicam-vid", "libcamera-vid"),
		stillBinary: lookFirst("rpicam-jpeg", "libcamera-jpeg"),
	}
}

func lookFirst(names ...string) string {
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// Name returns the backend name
func (d *Rpicam) Name() string {
	return "rpicam"
}

// Available reports whether the rpicam tools are installed
func (d *Rpicam) Available() bool {
	return d.vidBinary != ""
}

// Open prepares a handle. The camera is acquired when a subprocess starts.
func (d *Rpicam) Open(settings Settings) (Handle, error) {
	if !d.Available() {
		return nil, fmt.Errorf("%w: rpicam-vid not found in PATH", ErrUnavailable)
	}

	h := &rpicamHandle{
		driver:   d,
		settings: settings,
		failed:   newFailure(),
	}
	h.rotation.Store(int32(settings.Rotation))
	return h, nil
}

type rpicamHandle struct {
	driver   *Rpicam
	rotation atomic.Int32
	failed   failure

	mu       sync.Mutex
	settings Settings
	cmd      *exec.Cmd
	onFrame  func([]byte)
	stop     chan struct{} // closed before rpicam-vid is interrupted on purpose
	done     chan struct{}
}

func (h *rpicamHandle) SetLive(param Param, value int) error {
	switch param {
	case ParamRotation:
		h.rotation.Store(int32(value))
		return nil
	case ParamFrameRate:
		h.mu.Lock()
		defer h.mu.Unlock()
		h.settings.FrameRate = value
		if h.cmd == nil {
			return nil
		}
		// rpicam-vid takes the frame rate on its command line only
		onFrame := h.onFrame
		h.stopLocked()
		return h.startLocked(onFrame)
	default:
		return fmt.Errorf("unknown parameter %s", param)
	}
}

func (h *rpicamHandle) StartRecording(onFrame func([]byte)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cmd != nil {
		return fmt.Errorf("already recording")
	}
	return h.startLocked(onFrame)
}

func (h *rpicamHandle) vidArgs() []string {
	s := h.settings
	return []string{
		"--codec", "mjpeg",
		"--framerate", strconv.Itoa(s.FrameRate),
		"--width", strconv.Itoa(s.Resolution),
		"--height", strconv.Itoa(s.Resolution),
		"--quality", strconv.Itoa(s.JPEGQuality),
		"--nopreview",
		"--flush",
		"--timeout", "0", // run until stopped
		"--output", "-",
	}
}

func (h *rpicamHandle) startLocked(onFrame func([]byte)) error {
	log := logger.WithComponent("capture")

	cmd := exec.Command(h.driver.vidBinary, h.vidArgs()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", h.driver.vidBinary, err)
	}

	h.cmd = cmd
	h.onFrame = onFrame
	h.stop = make(chan struct{})
	h.done = make(chan struct{})

	go h.readFrames(stdout, onFrame, h.stop, h.done)
	go logStderr(stderr)

	log.Info().
		Int("pid", cmd.Process.Pid).
		Int("fps", h.settings.FrameRate).
		Int("resolution", h.settings.Resolution).
		Msg("rpicam-vid started")
	return nil
}

// readFrames splits stdout into JPEGs until the pipe closes. The pipe
// closing before stop is a failure.
func (h *rpicamHandle) readFrames(stdout io.Reader, onFrame func([]byte), stop, done chan struct{}) {
	defer close(done)
	log := logger.WithComponent("capture")

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 512*1024), maxScanFrame)
	scanner.Split(SplitJPEG)

	for scanner.Scan() {
		// The scanner reuses its buffer
		frame := append([]byte(nil), scanner.Bytes()...)

		if rot := int(h.rotation.Load()); rot != 0 {
			rotated, err := Rotate(frame, rot, h.settings.JPEGQuality)
			if err != nil {
				log.Debug().Err(err).Msg("Dropping frame that failed to rotate")
				continue
			}
			frame = rotated
		}
		onFrame(frame)
	}
	select {
	case <-stop:
		log.Debug().Msg("EOF from rpicam-vid")
	default:
		err := scanner.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		log.Error().Err(err).Msg("rpicam-vid exited unexpectedly")
		h.failed.report(fmt.Errorf("rpicam-vid output ended: %w", err))
	}
	// Keep the pipe drained so the process can exit
	_, _ = io.Copy(io.Discard, stdout)
}

// logStderr forwards tool output to the logger
func logStderr(stderr io.Reader) {
	log := logger.WithComponent("capture")
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			log.Warn().Str("rpicam", line).Msg("rpicam message")
		} else {
			log.Debug().Str("rpicam", line).Msg("rpicam output")
		}
	}
}

func (h *rpicamHandle) stopLocked() {
	if h.cmd == nil {
		return
	}
	log := logger.WithComponent("capture")
	cmd := h.cmd
	close(h.stop)

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		log.Debug().Err(err).Msg("Failed to interrupt rpicam-vid")
		cmd.Process.Kill()
	}

	select {
	case <-h.done:
	case <-time.After(rpicamStopGrace):
		log.Warn().Int("pid", cmd.Process.Pid).Msg("rpicam-vid did not exit, killing")
		cmd.Process.Kill()
		<-h.done
	}
	cmd.Wait()

	h.cmd = nil
	h.onFrame = nil
	log.Info().Msg("rpicam-vid stopped")
}

// Failed delivers the error that ended rpicam-vid early
func (h *rpicamHandle) Failed() <-chan error {
	return h.failed
}

func (h *rpicamHandle) StopRecording() (StopStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cmd == nil {
		return StopNotRecording, nil
	}
	h.stopLocked()
	return StopOK, nil
}

func (h *rpicamHandle) CaptureSingle() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cmd != nil {
		return nil, fmt.Errorf("camera is recording")
	}

	binary := h.driver.stillBinary
	if binary == "" {
		return nil, fmt.Errorf("%w: rpicam-jpeg not found in PATH", ErrUnavailable)
	}

	s := h.settings
	cmd := exec.Command(binary,
		"--width", strconv.Itoa(s.Resolution),
		"--height", strconv.Itoa(s.Resolution),
		"--quality", strconv.Itoa(s.JPEGQuality),
		"--timeout", "1",
		"--nopreview",
		"--output", "-",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w (stderr: %s)", binary, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%s returned empty frame", binary)
	}
	return Rotate(stdout.Bytes(), int(h.rotation.Load()), s.JPEGQuality)
}

func (h *rpicamHandle) Close() error {
	_, err := h.StopRecording()
	return err
}

// maxScanFrame bounds a single JPEG read from a subprocess
const maxScanFrame = 10 * 1024 * 1024

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// SplitJPEG is a bufio.SplitFunc yielding whole JPEGs from a concatenated
// stream. Bytes before a start-of-image marker are skipped.
func SplitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF that may begin a marker
		if n := len(data); n > 0 && data[n-1] == 0xFF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}

	end := bytes.Index(data[start+2:], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Drop skipped bytes and wait for more
		return start, nil, nil
	}
	end += start + 2 + len(jpegEOI)
	return end, data[start:end], nil
}
