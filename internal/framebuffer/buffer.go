// Package framebuffer holds the most recent JPEG frame delivered by the camera
// and lets any number of stream sessions wait for the next one.
package framebuffer

import (
	"context"
	"sync"
	"time"
)

// Frame is one complete JPEG image.
//
// Data MUST NOT be modified after the frame has been handed to Put; the same
// slice is shared with every reader.
type Frame struct {
	Data      []byte
	Seq       uint64
	Timestamp time.Time
}

// IsEmpty reports whether the frame carries no image
func (f Frame) IsEmpty() bool {
	return len(f.Data) == 0
}

// Buffer is a single-slot cache of the latest frame.
//
// Writers (Put, Clear) never block on readers. Readers wait on a channel that
// is closed and replaced on every write, so one write wakes every waiter.
type Buffer struct {
	mu      sync.Mutex
	current Frame
	seq     uint64
	ready   chan struct{}
}

// New creates an empty Buffer
func New() *Buffer {
	return &Buffer{
		ready: make(chan struct{}),
	}
}

// Put replaces the current frame and wakes all waiters
func (b *Buffer) Put(data []byte) Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	b.current = Frame{
		Data:      data,
		Seq:       b.seq,
		Timestamp: time.Now(),
	}
	b.signalLocked()

	return b.current
}

// Clear drops the current frame and wakes all waiters, which then see an
// empty frame.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = Frame{}
	b.signalLocked()
}

func (b *Buffer) signalLocked() {
	close(b.ready)
	b.ready = make(chan struct{})
}

// Current returns the latest frame without waiting
func (b *Buffer) Current() Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Seq returns the number of frames put so far
func (b *Buffer) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// WaitNext blocks until the next Put or Clear, the timeout, or ctx is done.
// It returns the frame current at wake-up and true, or an empty frame and
// false when nothing happened in time.
func (b *Buffer) WaitNext(ctx context.Context, timeout time.Duration) (Frame, bool) {
	b.mu.Lock()
	ready := b.ready
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return b.Current(), true
	case <-timer.C:
		return Frame{}, false
	case <-ctx.Done():
		return Frame{}, false
	}
}
