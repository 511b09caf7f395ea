package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when a backend cannot run on this host
	ErrUnavailable = errors.New("capture backend unavailable")

	// ErrNotLive is returned by SetLive for parameters a backend can only
	// apply by reopening the device
	ErrNotLive = errors.New("parameter cannot be changed while recording")
)

// Settings configures a camera when it is opened
type Settings struct {
	Device      string
	FrameRate   int
	Resolution  int // side of the square image, in pixels
	Rotation    int // degrees: 0, 90, 180 or 270
	JPEGQuality int
}

// Param identifies a live parameter
type Param int

const (
	ParamFrameRate Param = iota
	ParamRotation
)

func (p Param) String() string {
	switch p {
	case ParamFrameRate:
		return "framerate"
	case ParamRotation:
		return "rotation"
	default:
		return fmt.Sprintf("param(%d)", int(p))
	}
}

// StopStatus is the outcome of Handle.StopRecording
type StopStatus int

const (
	StopOK StopStatus = iota
	// StopNotRecording means recording was not active; callers treat it as success
	StopNotRecording
)

// Driver opens camera handles. The camera is exclusive: at most one handle
// is open at a time.
type Driver interface {
	// Name returns a human-readable name for this backend
	Name() string

	// Open acquires the camera with the given settings
	Open(settings Settings) (Handle, error)
}

// Handle is an open camera
type Handle interface {
	// SetLive changes a parameter on the open camera
	SetLive(param Param, value int) error

	// StartRecording begins delivering MJPEG bytes to onFrame from a
	// backend goroutine. Each call carries whole frames or arbitrary chunks
	// of the byte stream; the receiver splits on start-of-image markers.
	StartRecording(onFrame func([]byte)) error

	// StopRecording stops delivery. onFrame is not called after it returns.
	StopRecording() (StopStatus, error)

	// CaptureSingle grabs one JPEG without recording
	CaptureSingle() ([]byte, error)

	// Close releases the camera
	Close() error
}

// Failer is implemented by handles whose recording can end without
// StopRecording, for example when the device goes away. The channel
// delivers the cause at most once.
type Failer interface {
	Failed() <-chan error
}

// failure carries a handle's recording failure to whoever watches it
type failure chan error

func newFailure() failure {
	return make(failure, 1)
}

// report records err unless a failure is already pending
func (f failure) report(err error) {
	select {
	case f <- err:
	default:
	}
}

// Readier is implemented by handles that can report when exposure and white
// balance have settled after Open
type Readier interface {
	Ready() <-chan struct{}
}
