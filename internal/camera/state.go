package camera

import "github.com/bryanchriswhite/CamStreamer/internal/config"

// MinResolutionChange is the smallest resolution delta worth reopening the
// camera for
const MinResolutionChange = 10

// MaxResolution is the largest accepted square side in pixels
const MaxResolution = config.MaxResolution

// Rotations maps a rotation index to degrees
var Rotations = [4]int{0, 90, 180, 270}

// Status is the camera lifecycle state
type Status int

const (
	Stopped Status = iota
	Running
)

func (s Status) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// State is a snapshot of the camera parameters. The parameters are kept
// while Stopped and used by the next start.
type State struct {
	Status        Status
	FrameRate     int
	Resolution    int
	RotationIndex int
}

// Running reports whether the camera is recording
func (s State) Running() bool {
	return s.Status == Running
}

// Rotation returns the rotation in degrees
func (s State) Rotation() int {
	return Rotations[s.RotationIndex%len(Rotations)]
}

// ValidFrameRate reports whether fps is one of the supported rates
func ValidFrameRate(fps int) bool {
	return config.ValidFrameRate(fps)
}

// ValidResolution reports whether px is a usable square side
func ValidResolution(px int) bool {
	return px > 0 && px <= MaxResolution
}

// rotationIndex maps degrees to the nearest lower quarter turn
func rotationIndex(degrees int) int {
	degrees = ((degrees % 360) + 360) % 360
	return degrees / 90
}
