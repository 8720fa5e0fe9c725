package logging

import (
	"os"
	"sync"
)

// RingBuffer keeps the most recent writes in a fixed-size circular buffer.
// It implements io.Writer; old data is overwritten once capacity is reached.
// Used as a crash-dump tail of the log stream.
type RingBuffer struct {
	mu    sync.Mutex
	data  []byte
	start int // index of the oldest byte
	count int // bytes currently stored
}

// NewRingBuffer creates a ring buffer holding at most capacity bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 10 * 1024 * 1024
	}
	return &RingBuffer{data: make([]byte, capacity)}
}

// Write implements io.Writer and never fails. Writes larger than the
// capacity keep only their tail.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := len(p)
	capacity := len(rb.data)
	if len(p) > capacity {
		p = p[len(p)-capacity:]
	}

	end := (rb.start + rb.count) % capacity
	n := copy(rb.data[end:], p)
	copy(rb.data, p[n:])

	rb.count += len(p)
	if rb.count > capacity {
		// Oldest bytes were overwritten; advance start past them.
		rb.start = (rb.start + rb.count - capacity) % capacity
		rb.count = capacity
	}
	return written, nil
}

// Len returns the number of bytes currently stored.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Bytes returns the stored bytes in write order.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]byte, rb.count)
	firstRun := rb.start + rb.count
	if firstRun > len(rb.data) {
		firstRun = len(rb.data)
	}
	n := copy(out, rb.data[rb.start:firstRun])
	copy(out[n:], rb.data[:rb.count-n])
	return out
}

// DumpToFile writes the buffer contents to path in write order.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o644)
}
