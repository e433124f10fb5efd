package serialmux

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// readTimeout bounds a single blocking read so Monitor's read goroutine
// can observe cancellation even when the board goes quiet.
const readTimeout = 100 * time.Millisecond

// OpenPort opens a real serial port for the board at the given path.
func OpenPort(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
	}
	return port, nil
}

// NewBoardMux opens the port and wraps it in a SerialMux.
func NewBoardMux(path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	port, err := OpenPort(path, opts)
	if err != nil {
		return nil, err
	}
	return NewSerialMux[SerialPorter](port), nil
}
