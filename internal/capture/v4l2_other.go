//go:build !linux

package capture

// V4L2 is only available on Linux
type V4L2 struct{}

// NewV4L2 creates a V4L2 driver
func NewV4L2() *V4L2 {
	return &V4L2{}
}

// Name returns the backend name
func (d *V4L2) Name() string {
	return "v4l2"
}

// Open always fails off Linux
func (d *V4L2) Open(settings Settings) (Handle, error) {
	return nil, ErrUnavailable
}

// DeviceInfo describes a V4L2 capture device
type DeviceInfo struct {
	Path    string   `json:"path"`
	Formats []string `json:"formats"`
	MJPEG   bool     `json:"mjpeg"`
	Sizes   []string `json:"sizes,omitempty"`
}

// ListDevices returns no devices off Linux
func ListDevices() ([]DeviceInfo, error) {
	return nil, ErrUnavailable
}
