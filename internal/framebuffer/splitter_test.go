package framebuffer

import (
	"bytes"
	"testing"
)

func jpegLike(body string) []byte {
	return append([]byte{0xFF, 0xD8}, append([]byte(body), 0xFF, 0xD9)...)
}

func TestSplitterPublishesOnNextMarker(t *testing.T) {
	b := New()
	s := NewSplitter(b)

	f1 := jpegLike("one")
	f2 := jpegLike("two")

	s.Write(f1)
	if !b.Current().IsEmpty() {
		t.Fatal("frame published before the next marker arrived")
	}

	s.Write(f2)
	if got := b.Current().Data; !bytes.Equal(got, f1) {
		t.Fatalf("expected first frame, got %v", got)
	}
	if s.Frames() != 1 {
		t.Errorf("expected 1 frame, got %d", s.Frames())
	}
}

func TestSplitterHandlesArbitraryChunks(t *testing.T) {
	frames := [][]byte{jpegLike("alpha"), jpegLike("bravo-bravo"), jpegLike("charlie"), jpegLike("delta")}
	var stream []byte
	for _, f := range frames {
		stream = append(stream, f...)
	}

	// Chunks stay shorter than any frame so each write completes at most one
	for _, chunk := range []int{1, 2, 3, 7} {
		b := New()
		s := NewSplitter(b)

		var seen [][]byte
		for i := 0; i < len(stream); i += chunk {
			end := i + chunk
			if end > len(stream) {
				end = len(stream)
			}
			before := b.Seq()
			s.Write(stream[i:end])
			if b.Seq() != before {
				seen = append(seen, b.Current().Data)
			}
		}

		// The last frame stays pending until another marker arrives
		if len(seen) != len(frames)-1 {
			t.Fatalf("chunk %d: expected %d frames, got %d", chunk, len(frames)-1, len(seen))
		}
		for i := range seen {
			if !bytes.Equal(seen[i], frames[i]) {
				t.Errorf("chunk %d: frame %d mismatch: %v", chunk, i, seen[i])
			}
		}
	}
}

func TestSplitterDropsLeadingGarbage(t *testing.T) {
	b := New()
	s := NewSplitter(b)

	s.Write([]byte("noise"))
	s.Write(append([]byte("xx"), jpegLike("one")...))
	s.Write(jpegLike("two"))

	if got := b.Current().Data; !bytes.Equal(got, jpegLike("one")) {
		t.Fatalf("unexpected frame %v", got)
	}
}

func TestSplitterMultipleFramesInOneWrite(t *testing.T) {
	b := New()
	s := NewSplitter(b)

	var chunk []byte
	chunk = append(chunk, jpegLike("a")...)
	chunk = append(chunk, jpegLike("b")...)
	chunk = append(chunk, jpegLike("c")...)
	s.Write(chunk)

	if s.Frames() != 2 {
		t.Fatalf("expected 2 frames, got %d", s.Frames())
	}
	if got := b.Current().Data; !bytes.Equal(got, jpegLike("b")) {
		t.Errorf("expected latest complete frame b, got %v", got)
	}
}

func TestSplitterPublishedFramesAreIndependent(t *testing.T) {
	b := New()
	s := NewSplitter(b)

	s.Write(jpegLike("one"))
	s.Write(jpegLike("two"))
	first := b.Current().Data
	snapshot := append([]byte(nil), first...)

	s.Write(jpegLike("three"))
	if !bytes.Equal(first, snapshot) {
		t.Error("published frame was modified by later writes")
	}
}

func TestSplitterMarkerSplitAcrossWrites(t *testing.T) {
	frames := [][]byte{jpegLike("one"), jpegLike("two"), jpegLike("three")}
	var stream []byte
	for _, f := range frames {
		stream = append(stream, f...)
	}

	b := New()
	s := NewSplitter(b)
	s.Write(stream[:1])
	s.Write(stream[1:])

	if s.Frames() != 2 {
		t.Fatalf("expected 2 frames, got %d", s.Frames())
	}
	if got := b.Current().Data; !bytes.Equal(got, frames[1]) {
		t.Errorf("expected frame two, got %v", got)
	}
}

func TestSplitterDiscardsLoneMarkerByte(t *testing.T) {
	b := New()
	s := NewSplitter(b)

	// 0xFF followed by anything but 0xD8 is not a marker
	s.Write([]byte{0xFF})
	s.Write([]byte{0x00})
	s.Write([]byte{0xD8})
	s.Write(jpegLike("one"))
	s.Write(jpegLike("two"))

	if s.Frames() != 1 {
		t.Fatalf("expected 1 frame, got %d", s.Frames())
	}
	if got := b.Current().Data; !bytes.Equal(got, jpegLike("one")) {
		t.Errorf("unexpected frame %v", got)
	}
}

func TestSplitterResyncsAfterOversizedFrame(t *testing.T) {
	b := New()
	s := NewSplitter(b)

	s.Write([]byte{0xFF, 0xD8})
	s.Write(make([]byte, MaxFrameSize))
	if s.Frames() != 0 {
		t.Fatalf("oversized frame was published")
	}

	next := append(jpegLike("one"), jpegLike("two")...)
	s.Write(next[:1])
	s.Write(next[1:])

	if got := b.Current().Data; !bytes.Equal(got, jpegLike("one")) {
		t.Fatalf("expected first frame after reset, got %v", got)
	}
}
