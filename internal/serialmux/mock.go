package serialmux

import (
	"io"
	"sync"
	"time"
)

// MockPort replays a canned byte stream in fixed-size chunks, pacing
// reads so a dev-mode daemon behaves like a live board. It records
// written control bytes for assertions.
type MockPort struct {
	mu        sync.Mutex
	data      []byte
	pos       int
	chunkSize int
	pace      time.Duration
	loop      bool
	closed    bool
	written   []byte
}

// NewMockPort returns a port that replays data in chunkSize reads with
// the given pacing delay. With loop set the stream restarts at the end,
// otherwise reads return io.EOF once exhausted.
func NewMockPort(data []byte, chunkSize int, pace time.Duration, loop bool) *MockPort {
	if chunkSize <= 0 {
		chunkSize = 256
	}
	return &MockPort{data: data, chunkSize: chunkSize, pace: pace, loop: loop}
}

func (m *MockPort) Read(p []byte) (int, error) {
	if m.pace > 0 {
		time.Sleep(m.pace)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.EOF
	}
	if m.pos >= len(m.data) {
		if !m.loop || len(m.data) == 0 {
			return 0, io.EOF
		}
		m.pos = 0
	}
	n := m.chunkSize
	if n > len(p) {
		n = len(p)
	}
	if m.pos+n > len(m.data) {
		n = len(m.data) - m.pos
	}
	copy(p, m.data[m.pos:m.pos+n])
	m.pos += n
	return n, nil
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	m.written = append(m.written, p...)
	return len(p), nil
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Written returns the control bytes sent to the mock board.
func (m *MockPort) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.written))
	copy(out, m.written)
	return out
}

// NewMockMux wraps a looping MockPort in a SerialMux for dev mode.
func NewMockMux(data []byte) *SerialMux[SerialPorter] {
	return NewSerialMux[SerialPorter](NewMockPort(data, 330, 10*time.Millisecond, true))
}
