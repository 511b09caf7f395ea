package light

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bryanchriswhite/CamStreamer/internal/config"
)

type fakeDriver struct {
	calls []string
	err   error
}

func (f *fakeDriver) On() error {
	f.calls = append(f.calls, "on")
	return f.err
}

func (f *fakeDriver) Off() error {
	f.calls = append(f.calls, "off")
	return f.err
}

func TestToggle(t *testing.T) {
	d := &fakeDriver{}
	s := NewSwitch(d)

	on, err := s.Toggle()
	if err != nil || !on || !s.IsOn() {
		t.Fatalf("first toggle = %v, %v", on, err)
	}
	on, err = s.Toggle()
	if err != nil || on || s.IsOn() {
		t.Fatalf("second toggle = %v, %v", on, err)
	}
	if strings.Join(d.calls, ",") != "on,off" {
		t.Errorf("driver calls %v", d.calls)
	}
}

func TestToggleFailureKeepsState(t *testing.T) {
	s := NewSwitch(&fakeDriver{err: errors.New("stuck")})

	if _, err := s.Toggle(); err == nil {
		t.Fatal("expected error")
	}
	if s.IsOn() {
		t.Error("state changed despite driver failure")
	}
}

func TestSwitchWithoutDriver(t *testing.T) {
	s := NewSwitch(nil)
	if on, err := s.Toggle(); err != nil || !on {
		t.Errorf("toggle = %v, %v", on, err)
	}
	if err := s.Close(); err != nil || s.IsOn() {
		t.Errorf("close left light on: %v", err)
	}
}

func TestSysfs(t *testing.T) {
	dir := t.TempDir()
	brightness := filepath.Join(dir, "brightness")
	if err := os.WriteFile(brightness, []byte("0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "max_brightness"), []byte("255\n"), 0644); err != nil {
		t.Fatal(err)
	}

	d, err := NewSysfs(dir)
	if err != nil {
		t.Fatal(err)
	}

	read := func() string {
		b, err := os.ReadFile(brightness)
		if err != nil {
			t.Fatal(err)
		}
		return string(b)
	}

	if err := d.On(); err != nil {
		t.Fatal(err)
	}
	if got := read(); got != "255" {
		t.Errorf("brightness %q after On, want 255", got)
	}
	if err := d.Off(); err != nil {
		t.Fatal(err)
	}
	if got := read(); got != "0" {
		t.Errorf("brightness %q after Off, want 0", got)
	}
}

func TestSysfsMissing(t *testing.T) {
	if _, err := NewSysfs(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing LED")
	}
}

func TestNewFromConfig(t *testing.T) {
	d, err := New(config.LightConfig{Driver: "none"})
	if err != nil || d != nil {
		t.Errorf("none = %v, %v", d, err)
	}
	if _, err := New(config.LightConfig{Driver: "laser"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}
