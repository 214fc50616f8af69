package serialmux

import (
	"bytes"
	"io"
	"sync"

	"github.com/banshee-data/pulse.report/internal/monitoring"
)

// MockSerialPort implements SerialPorter for dev mode and tests. Reads come
// from the supplied reader (usually the write end is driven by a waveform
// simulator); writes are captured so tests can assert on commands sent to
// the board.
type MockSerialPort struct {
	io.Reader

	mu      sync.Mutex
	written bytes.Buffer
	closer  io.Closer
}

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	monitoring.Logf("mock serial port received command: %q", string(bytes.TrimSpace(p)))
	return m.written.Write(p)
}

// Written returns everything written to the port so far.
func (m *MockSerialPort) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

func (m *MockSerialPort) Close() error {
	if m.closer != nil {
		return m.closer.Close()
	}
	return nil
}

// NewMockSerialMux creates a SerialMux backed by a pipe and returns the mux
// together with the pipe's write end. A simulator writes board wire-format
// lines into the writer and subscribers receive them exactly as they would
// from a real board.
func NewMockSerialMux() (*SerialMux[*MockSerialPort], io.WriteCloser) {
	r, w := io.Pipe()
	port := &MockSerialPort{Reader: r, closer: r}
	return NewSerialMux(port), w
}
