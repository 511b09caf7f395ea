package output

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bryanchriswhite/CamStreamer/internal/framebuffer"
	"github.com/bryanchriswhite/CamStreamer/internal/logger"
)

// Hub serves MJPEG stream sessions from a shared frame buffer and keeps
// statistics about them
type Hub struct {
	buffer      *framebuffer.Buffer
	camera      CameraState
	waitTimeout time.Duration
	startTime   time.Time

	mu       sync.RWMutex
	sessions map[string]*session

	totalSessions    atomic.Uint64
	partsWritten     atomic.Uint64
	placeholdersSent atomic.Uint64
}

type session struct {
	id          string
	remoteAddr  string
	connectedAt time.Time
	parts       atomic.Uint64
}

// NewHub creates a hub. waitTimeout bounds each wait for a frame, after
// which the session re-checks the camera state.
func NewHub(buffer *framebuffer.Buffer, cam CameraState, waitTimeout time.Duration) *Hub {
	if waitTimeout <= 0 {
		waitTimeout = time.Second
	}
	return &Hub{
		buffer:      buffer,
		camera:      cam,
		waitTimeout: waitTimeout,
		startTime:   time.Now(),
		sessions:    make(map[string]*session),
	}
}

// ServeHTTP streams frames until the camera stops or the client leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Serve(r.Context(), w, r.RemoteAddr)
}

// Serve runs one stream session on w
func (h *Hub) Serve(ctx context.Context, w http.ResponseWriter, remoteAddr string) {
	s := &session{
		id:          uuid.NewString(),
		remoteAddr:  remoteAddr,
		connectedAt: time.Now(),
	}
	log := logger.WithSession("stream", s.id)

	h.mu.Lock()
	h.sessions[s.id] = s
	active := len(h.sessions)
	h.mu.Unlock()
	h.totalSessions.Add(1)

	log.Info().Str("remote", remoteAddr).Int("active", active).Msg("Stream client connected")

	defer func() {
		h.mu.Lock()
		delete(h.sessions, s.id)
		active := len(h.sessions)
		h.mu.Unlock()
		log.Info().
			Uint64("parts", s.parts.Load()).
			Int("active", active).
			Msg("Stream client disconnected")
	}()

	WritePreamble(w)

	for h.camera.State().Running() {
		frame, ok := h.buffer.WaitNext(ctx, h.waitTimeout)
		if ctx.Err() != nil {
			log.Debug().Msg("Client went away")
			return
		}
		if !ok || frame.IsEmpty() {
			// Timed out or cleared by a stop; re-check the camera
			continue
		}
		if err := WritePart(w, frame.Data); err != nil {
			log.Debug().Err(err).Msg("Stream write failed")
			return
		}
		s.parts.Add(1)
		h.partsWritten.Add(1)
	}

	data, err := Placeholder(h.camera.State().Resolution)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode placeholder")
		return
	}
	if err := WritePart(w, data); err != nil {
		log.Debug().Err(err).Msg("Placeholder write failed")
		return
	}
	h.placeholdersSent.Add(1)
	log.Debug().Msg("Camera stopped, placeholder sent")
}

// Active returns the number of connected sessions
func (h *Hub) Active() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Stats returns a snapshot of stream activity
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	infos := make([]SessionInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		infos = append(infos, SessionInfo{
			ID:          s.id,
			RemoteAddr:  s.remoteAddr,
			ConnectedAt: s.connectedAt,
			Parts:       s.parts.Load(),
		})
	}
	h.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})

	stats := Stats{
		ActiveSessions:   len(infos),
		TotalSessions:    h.totalSessions.Load(),
		PartsWritten:     h.partsWritten.Load(),
		PlaceholdersSent: h.placeholdersSent.Load(),
		Uptime:           time.Since(h.startTime),
		Sessions:         infos,
	}

	current := h.buffer.Current()
	stats.LastFrameSeq = h.buffer.Seq()
	if !current.IsEmpty() {
		stats.LastFrameAge = time.Since(current.Timestamp).Round(time.Millisecond).String()
	}
	return stats
}
