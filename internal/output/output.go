package output

import (
	"time"

	"github.com/bryanchriswhite/CamStreamer/internal/camera"
)

// CameraState reports whether frames are still coming and at what size.
// Sessions only read it.
type CameraState interface {
	State() camera.State
}

// Stats describes stream activity
type Stats struct {
	ActiveSessions   int           `json:"active_sessions"`
	TotalSessions    uint64        `json:"total_sessions"`
	PartsWritten     uint64        `json:"parts_written"`
	PlaceholdersSent uint64        `json:"placeholders_sent"`
	LastFrameSeq     uint64        `json:"last_frame_seq"`
	LastFrameAge     string        `json:"last_frame_age,omitempty"`
	Uptime           time.Duration `json:"uptime_ns"`
	Sessions         []SessionInfo `json:"sessions"`
}

// SessionInfo describes one connected client
type SessionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	Parts       uint64    `json:"parts"`
}
