package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/CamStreamer/internal/camera"
	"github.com/bryanchriswhite/CamStreamer/internal/framebuffer"
)

type fakeCamera struct {
	mu    sync.Mutex
	state camera.State
}

func (c *fakeCamera) State() camera.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeCamera) setRunning(running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if running {
		c.state.Status = camera.Running
	} else {
		c.state.Status = camera.Stopped
	}
}

func newFakeCamera(running bool, resolution int) *fakeCamera {
	c := &fakeCamera{state: camera.State{FrameRate: 5, Resolution: resolution}}
	c.setRunning(running)
	return c
}

// parseParts splits a stream body into part payloads, failing on any
// deviation from the exact framing
func parseParts(t *testing.T, body []byte) [][]byte {
	t.Helper()
	var parts [][]byte
	for len(body) > 0 {
		prefix := []byte("--FRAME\r\nContent-Type: image/jpeg\r\nContent-Length: ")
		if !bytes.HasPrefix(body, prefix) {
			t.Fatalf("bad part header: %q", body[:min(len(body), 60)])
		}
		body = body[len(prefix):]

		end := bytes.Index(body, []byte("\r\n\r\n"))
		if end < 0 {
			t.Fatal("missing header terminator")
		}
		n, err := strconv.Atoi(string(body[:end]))
		if err != nil {
			t.Fatalf("bad content length: %v", err)
		}
		body = body[end+4:]

		if len(body) < n+2 {
			t.Fatalf("short part: want %d bytes, have %d", n+2, len(body))
		}
		parts = append(parts, body[:n])
		if string(body[n:n+2]) != "\r\n" {
			t.Fatalf("part not terminated by CRLF")
		}
		body = body[n+2:]
	}
	return parts
}

func TestWritePartFraming(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePart(&buf, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	want := "--FRAME\r\nContent-Type: image/jpeg\r\nContent-Length: 3\r\n\r\nabc\r\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestPreambleHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	WritePreamble(rec)

	want := map[string]string{
		"Age":           "0",
		"Cache-Control": "no-cache, private",
		"Pragma":        "no-cache",
		"Content-Type":  "multipart/x-mixed-replace; boundary=FRAME",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status %d", rec.Code)
	}
}

func TestPlaceholder(t *testing.T) {
	data, err := Placeholder(32)
	if err != nil {
		t.Fatal(err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 32 {
		t.Errorf("size %v, want 32x32", b)
	}
	r, g, bl, _ := img.At(16, 16).RGBA()
	if r > 0x0800 || g > 0x0800 || bl > 0x0800 {
		t.Errorf("placeholder not black: %d %d %d", r, g, bl)
	}

	again, _ := Placeholder(32)
	if &again[0] != &data[0] {
		t.Error("placeholder not cached")
	}
}

func TestPlaceholderClampsSize(t *testing.T) {
	data, err := Placeholder(2000000000)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != camera.MaxResolution || cfg.Height != camera.MaxResolution {
		t.Errorf("size %dx%d, want %d", cfg.Width, cfg.Height, camera.MaxResolution)
	}
}

func TestSessionStreamsFramesThenOnePlaceholder(t *testing.T) {
	buffer := framebuffer.New()
	cam := newFakeCamera(true, 16)
	hub := NewHub(buffer, cam, 50*time.Millisecond)

	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		hub.Serve(context.Background(), rec, "test")
		close(done)
	}()

	frame := []byte{0xFF, 0xD8, 'x', 0xFF, 0xD9}
	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		buffer.Put(frame)
	}

	// Stop as the controller does it: mark stopped, then clear
	cam.setRunning(false)
	buffer.Clear()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session did not end after camera stop")
	}

	parts := parseParts(t, rec.Body.Bytes())
	if len(parts) < 2 {
		t.Fatalf("expected frames and a placeholder, got %d parts", len(parts))
	}

	placeholder, _ := Placeholder(16)
	for i, p := range parts[:len(parts)-1] {
		if !bytes.Equal(p, frame) {
			t.Errorf("part %d is not the camera frame", i)
		}
	}
	if !bytes.Equal(parts[len(parts)-1], placeholder) {
		t.Error("last part is not the placeholder")
	}
	if got := hub.Stats().PlaceholdersSent; got != 1 {
		t.Errorf("placeholders sent %d, want 1", got)
	}
}

func TestSessionWhileStoppedSendsOnlyPlaceholder(t *testing.T) {
	hub := NewHub(framebuffer.New(), newFakeCamera(false, 8), time.Second)

	rec := httptest.NewRecorder()
	hub.Serve(context.Background(), rec, "test")

	parts := parseParts(t, rec.Body.Bytes())
	if len(parts) != 1 {
		t.Fatalf("got %d parts, want 1", len(parts))
	}
	placeholder, _ := Placeholder(8)
	if !bytes.Equal(parts[0], placeholder) {
		t.Error("part is not the placeholder")
	}
}

func TestSessionEndsWhenClientLeaves(t *testing.T) {
	hub := NewHub(framebuffer.New(), newFakeCamera(true, 8), time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		hub.Serve(ctx, rec, "test")
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	if hub.Active() != 1 {
		t.Errorf("active %d, want 1", hub.Active())
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session ignored client disconnect")
	}
	if rec.Body.Len() != 0 {
		t.Error("nothing should be written to a departed client")
	}
	if hub.Active() != 0 {
		t.Errorf("active %d after disconnect", hub.Active())
	}
}

// failingWriter accepts headers but fails every body write
type failingWriter struct {
	header http.Header
}

func (f *failingWriter) Header() http.Header       { return f.header }
func (f *failingWriter) WriteHeader(int)           {}
func (f *failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestSessionEndsOnWriteError(t *testing.T) {
	buffer := framebuffer.New()
	hub := NewHub(buffer, newFakeCamera(true, 8), time.Second)

	done := make(chan struct{})
	go func() {
		hub.Serve(context.Background(), &failingWriter{header: http.Header{}}, "test")
		close(done)
	}()

	// Keep putting until the session notices
	deadline := time.After(time.Second)
	for {
		buffer.Put([]byte{0xFF, 0xD8})
		select {
		case <-done:
			if got := hub.Stats().TotalSessions; got != 1 {
				t.Errorf("total sessions %d", got)
			}
			return
		case <-deadline:
			t.Fatal("session kept running after write error")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStatsListsSessions(t *testing.T) {
	buffer := framebuffer.New()
	hub := NewHub(buffer, newFakeCamera(true, 8), time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hub.Serve(ctx, httptest.NewRecorder(), fmt.Sprintf("client-%d", i))
		}(i)
	}
	time.Sleep(20 * time.Millisecond)

	stats := hub.Stats()
	if stats.ActiveSessions != 3 || len(stats.Sessions) != 3 {
		t.Errorf("stats %+v", stats)
	}
	if stats.LastFrameAge != "" {
		t.Error("no frame yet, age should be empty")
	}

	cancel()
	wg.Wait()
	if got := hub.Stats().TotalSessions; got != 3 {
		t.Errorf("total sessions %d, want 3", got)
	}
}
