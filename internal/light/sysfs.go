package light

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Sysfs drives an LED class device, e.g. /sys/class/leds/led0
type Sysfs struct {
	brightness string
	max        int
}

// NewSysfs opens the LED at path. path may name the LED directory or its
// brightness file.
func NewSysfs(path string) (*Sysfs, error) {
	if path == "" {
		return nil, fmt.Errorf("sysfs light needs a path")
	}

	dir := path
	if filepath.Base(path) == "brightness" {
		dir = filepath.Dir(path)
	}
	brightness := filepath.Join(dir, "brightness")
	if _, err := os.Stat(brightness); err != nil {
		return nil, fmt.Errorf("led not found: %w", err)
	}

	max := 1
	if b, err := os.ReadFile(filepath.Join(dir, "max_brightness")); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(string(b))); err == nil && v > 0 {
			max = v
		}
	}

	return &Sysfs{brightness: brightness, max: max}, nil
}

func (s *Sysfs) write(value int) error {
	return os.WriteFile(s.brightness, []byte(strconv.Itoa(value)), 0644)
}

// On sets full brightness
func (s *Sysfs) On() error {
	return s.write(s.max)
}

// Off sets zero brightness
func (s *Sysfs) Off() error {
	return s.write(0)
}
