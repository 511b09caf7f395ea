package api

import (
	"bytes"
	"encoding/json"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mattn/go-mjpeg"

	"github.com/bryanchriswhite/CamStreamer/internal/camera"
	"github.com/bryanchriswhite/CamStreamer/internal/capture"
	"github.com/bryanchriswhite/CamStreamer/internal/control"
	"github.com/bryanchriswhite/CamStreamer/internal/framebuffer"
	"github.com/bryanchriswhite/CamStreamer/internal/light"
	"github.com/bryanchriswhite/CamStreamer/internal/output"
	"github.com/bryanchriswhite/CamStreamer/internal/status"
	"github.com/bryanchriswhite/CamStreamer/internal/web"
)

type testServer struct {
	*httptest.Server
	camera *camera.Controller
}

func newTestServer(t *testing.T, driver capture.Driver) *testServer {
	t.Helper()

	buffer := framebuffer.New()
	cam := camera.NewController(driver, buffer, camera.Options{
		FrameRate:   5,
		Resolution:  48,
		JPEGQuality: 75,
		WarmUp:      50 * time.Millisecond,
		PhotoWait:   500 * time.Millisecond,
	})
	sw := light.NewSwitch(nil)
	reporter := status.NewReporter(cam, sw)
	gateway := control.NewGateway(cam, sw, reporter, control.DefaultOptions())
	hub := output.NewHub(buffer, cam, 100*time.Millisecond)

	site, err := web.New()
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(NewServer(cam, gateway, reporter, hub, site).Handler())
	t.Cleanup(func() {
		_ = cam.Close()
		srv.Close()
	})
	return &testServer{Server: srv, camera: cam}
}

func newSynthetic() *capture.Synthetic {
	return &capture.Synthetic{Settle: 10 * time.Millisecond}
}

func (s *testServer) control(t *testing.T, query string) status.Snapshot {
	t.Helper()
	res, err := http.Get(s.URL + "/control?" + query)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("control status %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type %q", ct)
	}

	var snap status.Snapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	return snap
}

func TestControlReturnsStatus(t *testing.T) {
	srv := newTestServer(t, newSynthetic())

	snap := srv.control(t, "")
	want := status.Snapshot{Cam: false, Rotation: 0, Resolution: 48, FPS: 5}
	if snap != want {
		t.Errorf("got %+v, want %+v", snap, want)
	}

	snap = srv.control(t, "mode=rotate")
	if snap.Rotation != 90 {
		t.Errorf("rotation %d, want 90", snap.Rotation)
	}

	snap = srv.control(t, "mode=light")
	if !snap.Light {
		t.Error("light should be on")
	}
}

func TestStreamDeliversFramesThenPlaceholder(t *testing.T) {
	srv := newTestServer(t, newSynthetic())

	if snap := srv.control(t, "mode=start&fps=30"); !snap.Cam || snap.FPS != 30 {
		t.Fatalf("camera not started: %+v", snap)
	}

	res, err := http.Get(srv.URL + StreamPath)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if ct := res.Header.Get("Content-Type"); ct != output.ContentType {
		t.Fatalf("content type %q", ct)
	}
	if cc := res.Header.Get("Cache-Control"); cc != "no-cache, private" {
		t.Errorf("cache control %q", cc)
	}

	dec, err := mjpeg.NewDecoderFromResponse(res)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		img, err := dec.Decode()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if b := img.Bounds(); b.Dx() != 48 || b.Dy() != 48 {
			t.Errorf("frame %d size %v", i, b)
		}
	}

	if snap := srv.control(t, "mode=stop"); snap.Cam {
		t.Fatal("camera still running")
	}

	// The session writes its placeholder and ends
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, res.Body)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("stream ended with %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after stop")
	}
}

func TestPhotoWhileStopped(t *testing.T) {
	srv := newTestServer(t, newSynthetic())

	// The UI appends a timestamp to the mode
	res, err := http.Get(srv.URL + StreamPath + "?mode=photo1700000000")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("content type %q", ct)
	}
	img, err := jpeg.Decode(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 48 {
		t.Errorf("photo size %v", b)
	}
	if srv.camera.Running() {
		t.Error("photo must not leave the camera running")
	}
}

func TestPhotoWhileRunning(t *testing.T) {
	srv := newTestServer(t, newSynthetic())
	srv.control(t, "mode=start&fps=30")

	res, err := http.Get(srv.URL + StreamPath + "?mode=photo")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	data, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK || !bytes.HasPrefix(data, []byte{0xFF, 0xD8}) {
		t.Fatalf("status %d, %d bytes", res.StatusCode, len(data))
	}
	if !srv.camera.Running() {
		t.Error("photo stopped the camera")
	}
}

func TestPhotoWithoutCamera(t *testing.T) {
	srv := newTestServer(t, nil)

	res, err := http.Get(srv.URL + StreamPath + "?mode=photo")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", res.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["error"] == "" {
		t.Error("missing error message")
	}
}

func TestStatusWebSocket(t *testing.T) {
	srv := newTestServer(t, newSynthetic())

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/control/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var initial status.Snapshot
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatal(err)
	}
	if initial.Rotation != 0 || initial.Cam {
		t.Errorf("initial %+v", initial)
	}

	srv.control(t, "mode=rotate")

	var update status.Snapshot
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatal(err)
	}
	if update.Rotation != 90 {
		t.Errorf("update rotation %d, want 90", update.Rotation)
	}
}

func TestIndexAndStaticFiles(t *testing.T) {
	srv := newTestServer(t, newSynthetic())

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	res, err := client.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusMovedPermanently || res.Header.Get("Location") != "/index.html" {
		t.Errorf("root: %d %q", res.StatusCode, res.Header.Get("Location"))
	}

	res, err = http.Get(srv.URL + "/index.html")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("index status %d", res.StatusCode)
	}
	page := string(body)
	if !strings.Contains(page, `value="5" selected`) {
		t.Error("current frame rate not selected")
	}
	if strings.Contains(page, `value="10" selected`) {
		t.Error("other frame rate selected")
	}
	if !strings.Contains(page, `data-src="/stream.mjpg"`) {
		t.Error("stream url missing")
	}

	res, err = http.Get(srv.URL + "/video.js")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("video.js status %d", res.StatusCode)
	}

	res, err = http.Get(srv.URL + "/missing.css")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("missing file status %d", res.StatusCode)
	}
}

func TestNonGetMethodsRejected(t *testing.T) {
	srv := newTestServer(t, newSynthetic())

	for _, path := range []string{"/control", StreamPath, "/index.html", "/api/health", "/anything"} {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
			req, _ := http.NewRequest(method, srv.URL+path, nil)
			res, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			res.Body.Close()
			if res.StatusCode != http.StatusMethodNotAllowed {
				t.Errorf("%s %s: status %d, want 405", method, path, res.StatusCode)
			}
		}
	}
	if srv.camera.Running() {
		t.Error("rejected requests must not touch the camera")
	}
}

func TestHealthAndStats(t *testing.T) {
	srv := newTestServer(t, newSynthetic())

	res, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	var health map[string]interface{}
	_ = json.NewDecoder(res.Body).Decode(&health)
	res.Body.Close()
	if health["status"] != "healthy" || health["camera"] != true {
		t.Errorf("health %v", health)
	}

	res, err = http.Get(srv.URL + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	var stats struct {
		Status status.Snapshot `json:"status"`
		Stream output.Stats    `json:"stream"`
	}
	_ = json.NewDecoder(res.Body).Decode(&stats)
	res.Body.Close()
	if stats.Status.Resolution != 48 || stats.Stream.ActiveSessions != 0 {
		t.Errorf("stats %+v", stats)
	}
}
