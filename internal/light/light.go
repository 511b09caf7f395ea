// Package light switches an auxiliary light next to the camera.
package light

import (
	"fmt"
	"sync"

	"github.com/bryanchriswhite/CamStreamer/internal/config"
	"github.com/bryanchriswhite/CamStreamer/internal/logger"
)

// Driver turns a light on or off
type Driver interface {
	On() error
	Off() error
}

// Switch tracks the on/off state of a light driver
type Switch struct {
	driver Driver
	mu     sync.RWMutex
	on     bool
}

// NewSwitch creates a switch in the off state. driver may be nil, in which
// case only the state is tracked.
func NewSwitch(driver Driver) *Switch {
	return &Switch{driver: driver}
}

// IsOn reports whether the light is on
func (s *Switch) IsOn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.on
}

// Set turns the light on or off. The state only changes when the driver
// succeeds.
func (s *Switch) Set(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.driver != nil {
		var err error
		if on {
			err = s.driver.On()
		} else {
			err = s.driver.Off()
		}
		if err != nil {
			return fmt.Errorf("failed to switch light: %w", err)
		}
	}

	s.on = on
	logger.WithComponent("light").Debug().Bool("on", on).Msg("Light switched")
	return nil
}

// Toggle flips the light and returns the new state
func (s *Switch) Toggle() (bool, error) {
	s.mu.RLock()
	next := !s.on
	s.mu.RUnlock()

	if err := s.Set(next); err != nil {
		return !next, err
	}
	return next, nil
}

// Close switches the light off
func (s *Switch) Close() error {
	if !s.IsOn() {
		return nil
	}
	return s.Set(false)
}

// New builds the driver selected in configuration. The "none" driver
// returns nil.
func New(cfg config.LightConfig) (Driver, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "sysfs":
		d, err := NewSysfs(cfg.Path)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "gpio":
		d, err := NewGPIO(cfg.Pin, cfg.ActiveLow)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown light driver: %s", cfg.Driver)
	}
}
