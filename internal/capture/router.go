package capture

import (
	"fmt"
	"runtime"
)

// Backend names accepted in configuration
const (
	BackendV4L2      = "v4l2"
	BackendRpicam    = "rpicam"
	BackendSynthetic = "synthetic"
	BackendNone      = "none"
)

// BackendInfo describes a capture backend and whether it can run here
type BackendInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Available   bool   `json:"available"`
}

// New returns the driver for a backend name. BackendNone yields a nil driver
// and no error: the server runs without a camera.
func New(backend string) (Driver, error) {
	switch backend {
	case BackendV4L2, "":
		if runtime.GOOS != "linux" {
			return nil, fmt.Errorf("%w: v4l2 requires linux", ErrUnavailable)
		}
		return NewV4L2(), nil
	case BackendRpicam:
		d := NewRpicam()
		if !d.Available() {
			return nil, fmt.Errorf("%w: rpicam-vid not found in PATH", ErrUnavailable)
		}
		return d, nil
	case BackendSynthetic:
		return NewSynthetic(), nil
	case BackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown capture backend: %s", backend)
	}
}

// Backends lists every backend and its availability on this host
func Backends() []BackendInfo {
	return []BackendInfo{
		{
			Name:        BackendV4L2,
			Description: "video4linux2 camera in MJPEG mode",
			Available:   runtime.GOOS == "linux",
		},
		{
			Name:        BackendRpicam,
			Description: "Raspberry Pi camera via rpicam-vid",
			Available:   NewRpicam().Available(),
		},
		{
			Name:        BackendSynthetic,
			Description: "generated test pattern",
			Available:   true,
		},
		{
			Name:        BackendNone,
			Description: "no camera",
			Available:   true,
		},
	}
}
