package framebuffer

import (
	"bytes"

	"github.com/bryanchriswhite/CamStreamer/internal/logger"
)

// MaxFrameSize bounds the bytes accumulated while looking for the next
// start-of-image marker.
const MaxFrameSize = 10 * 1024 * 1024

var soi = []byte{0xFF, 0xD8}

// Splitter turns a continuous MJPEG byte stream into frames.
//
// A frame is everything from one JPEG start-of-image marker up to the next
// one, so frame N is published when the first bytes of frame N+1 arrive.
// Splitter is not safe for concurrent writes; drivers write from one goroutine.
type Splitter struct {
	buffer  *Buffer
	pending []byte
	// searchFrom is where the marker search resumes inside pending
	searchFrom int
	// synced is set once pending starts with a marker
	synced bool
	frames uint64
}

// NewSplitter creates a Splitter publishing into buffer
func NewSplitter(buffer *Buffer) *Splitter {
	return &Splitter{buffer: buffer}
}

// Write implements io.Writer. It never fails.
func (s *Splitter) Write(p []byte) (int, error) {
	s.Ingest(p)
	return len(p), nil
}

// Ingest consumes one buffer delivered by the camera driver
func (s *Splitter) Ingest(p []byte) {
	s.pending = append(s.pending, p...)
	if !s.synced && !s.sync() {
		return
	}

	for {
		// A marker at index 0 starts the pending frame itself
		from := s.searchFrom
		if from < 1 {
			from = 1
		}
		idx := bytes.Index(s.pending[from:], soi)
		if idx < 0 {
			// The last byte may be the first half of a split marker
			s.searchFrom = len(s.pending) - 1
			break
		}
		idx += from

		frame := make([]byte, idx)
		copy(frame, s.pending[:idx])
		s.buffer.Put(frame)
		s.frames++

		s.pending = append(s.pending[:0], s.pending[idx:]...)
		s.searchFrom = 1
	}

	if len(s.pending) > MaxFrameSize {
		logger.WithComponent("camera").Warn().
			Int("bytes", len(s.pending)).
			Msg("Frame exceeds size limit, discarding")
		s.pending = s.pending[:0]
		s.searchFrom = 0
		s.synced = false
	}
}

// sync drops bytes ahead of the first marker. A trailing 0xFF is kept
// since the next write may complete the marker.
func (s *Splitter) sync() bool {
	idx := bytes.Index(s.pending, soi)
	if idx < 0 {
		if n := len(s.pending); n > 0 && s.pending[n-1] == soi[0] {
			s.pending = append(s.pending[:0], soi[0])
		} else {
			s.pending = s.pending[:0]
		}
		return false
	}
	s.pending = append(s.pending[:0], s.pending[idx:]...)
	s.searchFrom = 1
	s.synced = true
	return true
}

// Frames returns the number of frames published so far
func (s *Splitter) Frames() uint64 {
	return s.frames
}
