package control

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/CamStreamer/internal/camera"
	"github.com/bryanchriswhite/CamStreamer/internal/logger"
	"github.com/bryanchriswhite/CamStreamer/internal/status"
)

// Camera is the part of the camera controller the gateway drives
type Camera interface {
	State() camera.State
	Start(ctx context.Context) error
	Stop() error
	SetFrameRate(fps int) bool
	SetResolution(px int) bool
	Rotate() int
}

// Light is the auxiliary light the gateway toggles
type Light interface {
	Toggle() (bool, error)
}

// Options tunes the gateway
type Options struct {
	// LockTimeout is how long a request waits for another one to finish
	LockTimeout time.Duration

	// MinResolutionChange is the resolution delta that must be exceeded
	// before the camera is reopened
	MinResolutionChange int
}

// DefaultOptions returns the standard lock timeout and resolution threshold
func DefaultOptions() Options {
	return Options{
		LockTimeout:         10 * time.Millisecond,
		MinResolutionChange: camera.MinResolutionChange,
	}
}

// Gateway applies control requests one at a time. Requests arriving while
// another is being applied are dropped, not queued.
type Gateway struct {
	camera   Camera
	light    Light
	reporter *status.Reporter
	lock     *Lock
	opts     Options

	// committed is the status after the last applied request
	committed atomic.Pointer[status.Snapshot]
}

// NewGateway creates a gateway. light may be nil.
func NewGateway(cam Camera, light Light, reporter *status.Reporter, opts Options) *Gateway {
	g := &Gateway{
		camera:   cam,
		light:    light,
		reporter: reporter,
		lock:     NewLock(),
		opts:     opts,
	}
	g.Commit()
	return g
}

// Commit records the current status as committed and publishes it. Callers
// that change camera state outside Handle use it to refresh listeners.
func (g *Gateway) Commit() status.Snapshot {
	if !g.lock.TryAcquire(g.opts.LockTimeout) {
		// The request holding the lock publishes when it finishes
		return g.Committed()
	}
	defer g.lock.Release()
	return g.commitLocked()
}

// commitLocked stores and publishes the current status. Publishing under
// the lock keeps listeners in commit order.
func (g *Gateway) commitLocked() status.Snapshot {
	s := g.reporter.Snapshot()
	g.committed.Store(&s)
	g.reporter.Publish(s)
	return s
}

// Committed returns the status after the last applied request
func (g *Gateway) Committed() status.Snapshot {
	return *g.committed.Load()
}

// Handle applies req and returns the resulting status. If another request
// holds the lock past the timeout, nothing is changed and the last
// committed status is returned.
func (g *Gateway) Handle(ctx context.Context, req Request) status.Snapshot {
	log := logger.WithComponent("control")

	if !g.lock.TryAcquire(g.opts.LockTimeout) {
		log.Debug().Msg("Control busy, request dropped")
		return g.Committed()
	}

	defer g.lock.Release()
	// A client hanging up must not leave the camera half reconfigured
	g.apply(context.WithoutCancel(ctx), req)
	return g.commitLocked()
}

func (g *Gateway) apply(ctx context.Context, req Request) {
	log := logger.WithComponent("control")

	wasRunning := g.camera.State().Running()
	restart := false

	// stopIfRunning stops the camera before a parameter that needs a reopen
	stopIfRunning := func() {
		if !g.camera.State().Running() {
			return
		}
		if err := g.camera.Stop(); err != nil {
			log.Warn().Err(err).Msg("Error stopping camera")
		}
	}

	if fps := req.FrameRate; fps != nil {
		current := g.camera.State().FrameRate
		if *fps != current && camera.ValidFrameRate(*fps) {
			stopIfRunning()
			g.camera.SetFrameRate(*fps)
			restart = wasRunning
			log.Info().Int("from", current).Int("to", *fps).Msg("Frame rate changed")
		}
	}

	if px := req.Resolution; px != nil && camera.ValidResolution(*px) {
		current := g.camera.State().Resolution
		if abs(*px-current) > g.opts.MinResolutionChange {
			stopIfRunning()
			g.camera.SetResolution(*px)
			restart = wasRunning
			log.Info().Int("from", current).Int("to", *px).Msg("Resolution changed")
		}
	}

	switch req.Mode {
	case ModeRotate:
		degrees := g.camera.Rotate()
		log.Info().Int("rotation", degrees).Msg("Rotated")
	case ModeStop:
		if err := g.camera.Stop(); err != nil {
			log.Warn().Err(err).Msg("Error stopping camera")
		}
		restart = false
	case ModeStart:
		restart = true
	case ModeLight:
		if g.light == nil {
			log.Debug().Msg("No light configured")
			break
		}
		on, err := g.light.Toggle()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to toggle light")
		} else {
			log.Info().Bool("on", on).Msg("Light toggled")
		}
	case ModePhoto, ModeNone:
		// Photos are served on the stream endpoint
	}

	if restart {
		if err := g.camera.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to start camera")
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
