package light

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIO drives a light wired to a GPIO pin
type GPIO struct {
	pin       gpio.PinOut
	activeLow bool
}

// NewGPIO opens a pin by name, e.g. "GPIO17", and drives it off
func NewGPIO(name string, activeLow bool) (*GPIO, error) {
	if name == "" {
		return nil, fmt.Errorf("gpio light needs a pin name")
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %s not found", name)
	}

	g := &GPIO{pin: pin, activeLow: activeLow}
	if err := g.Off(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *GPIO) level(on bool) gpio.Level {
	if g.activeLow {
		return gpio.Level(!on)
	}
	return gpio.Level(on)
}

// On drives the pin to its active level
func (g *GPIO) On() error {
	return g.pin.Out(g.level(true))
}

// Off drives the pin to its inactive level
func (g *GPIO) Off() error {
	return g.pin.Out(g.level(false))
}
