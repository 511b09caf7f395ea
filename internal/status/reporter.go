package status

import (
	"sync"

	"github.com/bryanchriswhite/CamStreamer/internal/camera"
)

// Snapshot is the status reported to clients
type Snapshot struct {
	Cam        bool `json:"cam"`
	Rotation   int  `json:"rotation"`
	Resolution int  `json:"resolution"`
	FPS        int  `json:"fps"`
	Light      bool `json:"light"`
}

// CameraSource provides camera state
type CameraSource interface {
	State() camera.State
}

// LightSource provides the light state
type LightSource interface {
	IsOn() bool
}

// Reporter builds status snapshots and fans committed ones out to listeners
type Reporter struct {
	camera CameraSource
	light  LightSource

	mu        sync.RWMutex
	listeners []chan Snapshot
}

// NewReporter creates a reporter. light may be nil.
func NewReporter(cam CameraSource, light LightSource) *Reporter {
	return &Reporter{
		camera: cam,
		light:  light,
	}
}

// Snapshot reads the current status without side effects
func (r *Reporter) Snapshot() Snapshot {
	state := r.camera.State()
	s := Snapshot{
		Cam:        state.Running(),
		Rotation:   state.Rotation(),
		Resolution: state.Resolution,
		FPS:        state.FrameRate,
	}
	if r.light != nil {
		s.Light = r.light.IsOn()
	}
	return s
}

// Subscribe adds a listener for status changes. A slow listener only
// misses intermediate snapshots.
func (r *Reporter) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, 1)
	r.mu.Lock()
	r.listeners = append(r.listeners, ch)
	r.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (r *Reporter) Unsubscribe(ch chan Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, listener := range r.listeners {
		if listener == ch {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// Publish sends a snapshot to every listener without blocking
func (r *Reporter) Publish(s Snapshot) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, listener := range r.listeners {
		select {
		case listener <- s:
		default:
			// Replace the stale snapshot with the newest one
			select {
			case <-listener:
			default:
			}
			select {
			case listener <- s:
			default:
			}
		}
	}
}

// Listeners returns the number of subscribed listeners
func (r *Reporter) Listeners() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}
