//go:build !windows

package capture

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// scriptedRpicam returns a driver whose rpicam-vid is a shell script
func scriptedRpicam(t *testing.T, script string) *Rpicam {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "rpicam-vid")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return &Rpicam{vidBinary: path}
}

func TestRpicamReportsUnexpectedExit(t *testing.T) {
	d := scriptedRpicam(t, `printf '\377\330ab\377\331'`)
	h, err := d.Open(Settings{FrameRate: 5, Resolution: 16, JPEGQuality: 80})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	frames := make(chan []byte, 4)
	if err := h.StartRecording(func(b []byte) { frames <- b }); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-h.(Failer).Failed():
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("unexpected cause %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("exit was not reported")
	}

	select {
	case f := <-frames:
		if want := []byte{0xFF, 0xD8, 'a', 'b', 0xFF, 0xD9}; !bytes.Equal(f, want) {
			t.Errorf("frame %v, want %v", f, want)
		}
	default:
		t.Error("frame written before exit was lost")
	}

	if status, err := h.StopRecording(); err != nil || status != StopOK {
		t.Errorf("StopRecording = %v, %v", status, err)
	}
}

func TestRpicamStopIsNotAFailure(t *testing.T) {
	d := scriptedRpicam(t, `exec sleep 10`)
	h, err := d.Open(Settings{FrameRate: 5, Resolution: 16, JPEGQuality: 80})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if err := h.StartRecording(func([]byte) {}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.StopRecording(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-h.(Failer).Failed():
		t.Errorf("stop reported as failure: %v", err)
	default:
	}
}
