package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bryanchriswhite/CamStreamer/internal/camera"
	"github.com/bryanchriswhite/CamStreamer/internal/config"
	"github.com/bryanchriswhite/CamStreamer/internal/control"
	"github.com/bryanchriswhite/CamStreamer/internal/logger"
	"github.com/bryanchriswhite/CamStreamer/internal/output"
	"github.com/bryanchriswhite/CamStreamer/internal/status"
	"github.com/bryanchriswhite/CamStreamer/internal/web"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// StreamPath is the URL of the MJPEG stream and the photo endpoint
const StreamPath = "/stream.mjpg"

// Server represents the HTTP server
type Server struct {
	router   *mux.Router
	camera   *camera.Controller
	gateway  *control.Gateway
	reporter *status.Reporter
	hub      *output.Hub
	site     *web.Site
	upgrader websocket.Upgrader
	http     *http.Server
}

// NewServer creates a new server
func NewServer(cam *camera.Controller, gateway *control.Gateway, reporter *status.Reporter, hub *output.Hub, site *web.Site) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		camera:   cam,
		gateway:  gateway,
		reporter: reporter,
		hub:      hub,
		site:     site,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // The UI may be served from another origin
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the routes. Everything is GET only.
func (s *Server) setupRoutes() {
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	s.router.HandleFunc(StreamPath, s.handleStream).Methods(http.MethodGet)

	// Camera control
	s.router.HandleFunc("/control", s.handleControl).Methods(http.MethodGet)
	s.router.HandleFunc("/control/ws", s.handleStatusStream).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	// Web UI
	s.router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	s.router.HandleFunc("/"+web.IndexPage, s.handleIndex).Methods(http.MethodGet)
	s.router.PathPrefix("/").HandlerFunc(s.handleStatic).Methods(http.MethodGet)
}

// Handler returns the complete HTTP handler
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	log := logger.WithComponent("api")

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("Starting HTTP server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for handlers to return
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		next.ServeHTTP(w, r)
	})
}

// HTTP Handlers

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	// The UI appends a cache buster, so "photo..." selects photo mode too
	if strings.HasPrefix(strings.ToLower(r.URL.Query().Get("mode")), string(control.ModePhoto)) {
		s.handlePhoto(w, r)
		return
	}
	s.hub.ServeHTTP(w, r)
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	frame, err := s.camera.CapturePhoto(r.Context())
	switch {
	case errors.Is(err, camera.ErrNoCamera):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		log.Warn().Err(err).Msg("Photo capture failed")
		writeError(w, http.StatusServiceUnavailable, "photo capture failed")
		return
	case frame.IsEmpty():
		writeError(w, http.StatusServiceUnavailable, "no frame available")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache, private")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(frame.Data); err != nil {
		log.Debug().Err(err).Msg("Photo write failed")
	}
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	req := control.ParseRequest(r.URL.Query())
	writeJSON(w, http.StatusOK, s.gateway.Handle(r.Context(), req))
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	// Subscribe to status changes
	updates := s.reporter.Subscribe()
	defer s.reporter.Unsubscribe(updates)

	// The client never sends anything; reading only detects the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	// Send initial status
	if err := conn.WriteJSON(s.gateway.Committed()); err != nil {
		log.Debug().Err(err).Msg("WebSocket write error")
		return
	}

	// Stream updates
	for {
		select {
		case snapshot, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(snapshot); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		case <-closed:
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": Version,
		"camera":  s.camera.HasCamera(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           s.reporter.Snapshot(),
		"stream":           s.hub.Stats(),
		"status_listeners": s.reporter.Listeners(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/"+web.IndexPage, http.StatusMovedPermanently)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	state := s.camera.State()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := s.site.RenderIndex(w, web.Context{
		VideoFeed:  StreamPath,
		FPS:        state.FrameRate,
		FrameRates: config.FrameRates,
		Resolution: state.Resolution,
	})
	if err != nil {
		logger.WithComponent("api").Error().Err(err).Msg("Failed to render index")
	}
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.site.Has(r.URL.Path) {
		http.NotFound(w, r)
		return
	}
	s.site.ServeFile(w, r)
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	logger.WithComponent("api").Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("Method not allowed")
	w.Header().Set("Allow", http.MethodGet)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Response write failed")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
